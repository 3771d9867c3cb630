package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wisefido-config/internal/domain"
	"wisefido-config/internal/repository"
)

// SetRequest 写入请求。作用域精确匹配（不做优先级展开），写哪个作用域就落哪个
type SetRequest struct {
	Kind  domain.Kind
	Key   string
	Value json.RawMessage
	Scope domain.Scope

	// EffectiveFrom 零值表示立即生效；EffectiveTo nil 表示无限期
	EffectiveFrom time.Time
	EffectiveTo   *time.Time

	// 仅 template
	Channel string
	Locale  string

	Actor  string
	Reason string
}

// Mutator 写入与版本管理。版本号按 (key, scope) 读取当前最大值加一；
// 并发写入同一 (key, scope) 时由存储层唯一约束裁决，败者拿到 ErrConflict 可整体重试
type Mutator struct {
	entries   repository.EntriesRepository
	changelog repository.ChangeLogRepository
	cache     *ResolutionCache
	publisher ChangePublisher
	logger    *zap.Logger
}

// NewMutator 创建写入管理器
func NewMutator(entries repository.EntriesRepository, changelog repository.ChangeLogRepository, cache *ResolutionCache, publisher ChangePublisher, logger *zap.Logger) *Mutator {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Mutator{entries: entries, changelog: changelog, cache: cache, publisher: publisher, logger: logger}
}

// Set 写入新版本。成功与失败都会留下审计记录
func (m *Mutator) Set(ctx context.Context, req SetRequest) (*domain.ConfigEntry, error) {
	start := time.Now()

	entry, prevState, err := m.apply(ctx, req)

	audit := &domain.ChangeLogEntry{
		OperationType:   domain.OpSet,
		ConfigKey:       req.Key,
		ConfigType:      domain.ConfigTypeOf(req.Kind),
		Scope:           req.Scope,
		PreviousState:   prevState,
		PerformedBy:     req.Actor,
		Reason:          req.Reason,
		AffectedCount:   1,
		Success:         err == nil,
		ExecutionTimeMs: elapsedMs(start),
	}
	if err != nil {
		audit.ErrorDetails = err.Error()
		audit.AffectedCount = 0
	} else {
		audit.NewState = mustMarshal(entry)
	}
	if auditErr := writeAudit(ctx, m.changelog, m.logger, audit); auditErr != nil {
		if err == nil {
			// 变更已落库但审计失败：整体按失败上报
			return nil, auditErr
		}
		return nil, errors.Join(err, auditErr)
	}
	if err != nil {
		return nil, err
	}

	m.publisher.PublishChange(ctx, ChangeEvent{
		Operation: string(domain.OpSet),
		Kind:      string(req.Kind),
		Key:       req.Key,
		Scope:     req.Scope.Key(),
		Version:   entry.Version,
		Actor:     req.Actor,
		Timestamp: time.Now(),
	})
	return entry, nil
}

// apply 版本化写入核心：读最大版本、插入 max+1、按键失效缓存。
// 不写审计（由调用方负责，回滚/快照恢复复用本方法）
func (m *Mutator) apply(ctx context.Context, req SetRequest) (*domain.ConfigEntry, json.RawMessage, error) {
	if !req.Kind.Valid() {
		return nil, nil, fmt.Errorf("%w: invalid kind %q", ErrValidation, req.Kind)
	}
	if req.Key == "" {
		return nil, nil, fmt.Errorf("%w: key is required", ErrValidation)
	}
	if len(req.Value) == 0 {
		return nil, nil, fmt.Errorf("%w: value is required", ErrValidation)
	}
	if req.Actor == "" {
		return nil, nil, fmt.Errorf("%w: actor is required", ErrValidation)
	}

	effectiveFrom := req.EffectiveFrom
	if effectiveFrom.IsZero() {
		effectiveFrom = time.Now()
	}
	if req.EffectiveTo != nil && !req.EffectiveTo.After(effectiveFrom) {
		return nil, nil, fmt.Errorf("%w: effective_to must be after effective_from", ErrValidation)
	}

	// 审计用的变更前状态：该精确作用域当前生效的条目（可能没有）
	var prevState json.RawMessage
	if prev, err := m.entries.GetCurrent(ctx, repository.CurrentQuery{
		Kind: req.Kind, Key: req.Key, Scope: req.Scope,
		AsOf: time.Now(), Channel: req.Channel, Locale: req.Locale,
	}); err == nil {
		prevState = mustMarshal(prev)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, fmt.Errorf("failed to read previous state: %w", err)
	}

	maxVersion, err := m.entries.MaxVersion(ctx, req.Kind, req.Key, req.Scope)
	if err != nil {
		return nil, prevState, fmt.Errorf("failed to read max version: %w", err)
	}

	entry := &domain.ConfigEntry{
		Key:           req.Key,
		Scope:         req.Scope,
		Value:         req.Value,
		Version:       maxVersion + 1,
		EffectiveFrom: effectiveFrom,
		EffectiveTo:   req.EffectiveTo,
		IsActive:      true,
		Channel:       req.Channel,
		Locale:        req.Locale,
		CreatedBy:     req.Actor,
		UpdatedAt:     time.Now(),
	}
	entryID, err := m.entries.Insert(ctx, req.Kind, entry)
	if err != nil {
		// ErrConflict：并发写入者抢先占用了该版本号，调用方可整体重试
		return nil, prevState, err
	}
	entry.EntryID = entryID

	// 按键粗粒度失效：某一作用域的写入可能改变更泛化查询的回退结果
	m.cache.InvalidateKey(ctx, req.Kind, req.Key)

	return entry, prevState, nil
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
