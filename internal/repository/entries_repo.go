package repository

import (
	"context"
	"time"

	"wisefido-config/internal/domain"
)

// CurrentQuery 时间点解析查询条件（作用域精确匹配，不做优先级展开）
type CurrentQuery struct {
	Kind  domain.Kind
	Key   string
	Scope domain.Scope
	AsOf  time.Time

	// 仅 template：channel/locale 精确过滤，不参与优先级
	Channel string
	Locale  string
}

// EntriesRepository 版本化配置存储（config_entries / business_rules / templates）
// 所有查询按作用域精确匹配（逐维度 NULL-or-value），优先级展开由上层负责
type EntriesRepository interface {
	// GetCurrent 查询指定时间点生效的最高版本条目
	// （is_active 且 effective_from <= asOf < effective_to，版本降序取第一条）
	GetCurrent(ctx context.Context, q CurrentQuery) (*domain.ConfigEntry, error)

	// GetVersion 按版本号精确读取
	GetVersion(ctx context.Context, kind domain.Kind, key string, scope domain.Scope, version int) (*domain.ConfigEntry, error)

	// MaxVersion 当前最大版本号（无记录返回 0）
	MaxVersion(ctx context.Context, kind domain.Kind, key string, scope domain.Scope) (int, error)

	// Insert 追加新版本；(key, version, scope) 唯一约束冲突返回 ErrConflict
	Insert(ctx context.Context, kind domain.Kind, entry *domain.ConfigEntry) (string, error)

	// ListVersions 版本历史（版本降序，limit <= 0 使用默认 50）
	ListVersions(ctx context.Context, kind domain.Kind, key string, scope domain.Scope, limit int) ([]*domain.ConfigEntry, error)

	// ListActive 当前时刻生效的所有条目（每个 (key, scope) 取最高版本），
	// filter 为子树匹配（已设置的维度精确匹配，未设置通配），nil 表示全量
	ListActive(ctx context.Context, kind domain.Kind, filter *domain.Scope, now time.Time) ([]*domain.ConfigEntry, error)

	// DistinctKeys 指定精确作用域下存在条目的全部键
	DistinctKeys(ctx context.Context, kind domain.Kind, scope domain.Scope) ([]string, error)

	// CountActive 当前生效条目数（用于回滚影响评估）
	CountActive(ctx context.Context, kind domain.Kind, filter *domain.Scope, now time.Time) (int, error)
}
