package repository

import (
	"context"
	"time"

	"wisefido-config/internal/domain"
)

// ChangeLogFilters 审计日志查询过滤器
type ChangeLogFilters struct {
	Key      string        // 为空表示不过滤键
	Scope    *domain.Scope // nil 表示不过滤作用域；非 nil 为精确匹配（含全局）
	FromDate *time.Time    // 开始时间
	ToDate   *time.Time    // 结束时间
}

// ChangeLogRepository 变更审计日志（config_change_logs），只追加
type ChangeLogRepository interface {
	// Insert 写入一条审计记录（成功与失败路径都必须调用）
	Insert(ctx context.Context, entry *domain.ChangeLogEntry) (string, error)

	// List 按过滤条件查询（时间降序，limit <= 0 使用默认 100）
	List(ctx context.Context, filters ChangeLogFilters, limit int) ([]*domain.ChangeLogEntry, error)
}
