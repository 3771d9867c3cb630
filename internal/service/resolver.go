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

// ResolveQuery 解析查询
type ResolveQuery struct {
	Kind  domain.Kind
	Key   string
	Scope domain.Scope

	// AsOf 零值表示"当前时间"
	AsOf time.Time

	// 仅 template：精确过滤，不参与优先级
	Channel string
	Locale  string
}

// resolved 内部解析结果；Entry 为 nil 表示命中注册表默认值
type resolved struct {
	Value json.RawMessage
	Entry *domain.ConfigEntry
}

// Resolver 时间点优先级解析引擎。
// 解析是 (key, scope, asOf, 存储状态) 的纯函数，无隐藏副作用；
// 读路径故障降级为未找到并记录日志，从不向调用方抛出存储错误
type Resolver struct {
	entries  repository.EntriesRepository
	registry repository.RegistryRepository
	cache    *ResolutionCache
	logger   *zap.Logger
}

// NewResolver 创建解析引擎
func NewResolver(entries repository.EntriesRepository, registry repository.RegistryRepository, cache *ResolutionCache, logger *zap.Logger) *Resolver {
	return &Resolver{entries: entries, registry: registry, cache: cache, logger: logger}
}

// Resolve 按优先级解析配置值；未找到返回 (nil, nil)。
// 存储故障同样降级为 nil（已记录错误日志），大多数调用方无法对
// 解析失败做出有意义的处理，读路径以可用性优先
func (r *Resolver) Resolve(ctx context.Context, q ResolveQuery) (json.RawMessage, error) {
	if !q.Kind.Valid() {
		return nil, fmt.Errorf("invalid kind %q", q.Kind)
	}
	if q.Key == "" {
		return nil, fmt.Errorf("key is required")
	}

	result, err := r.lookup(ctx, q)
	if err != nil {
		r.logger.Error("resolve degraded to not-found on store failure",
			zap.String("kind", string(q.Kind)),
			zap.String("key", q.Key),
			zap.String("scope", q.Scope.Key()),
			zap.Error(err),
		)
		return nil, nil
	}
	if result == nil {
		return nil, nil
	}
	return result.Value, nil
}

// ResolveEntry 同 Resolve，但返回完整条目（注册表默认值命中时 entry 为 nil）。
// 回滚/快照内部使用
func (r *Resolver) ResolveEntry(ctx context.Context, q ResolveQuery) (*domain.ConfigEntry, json.RawMessage, error) {
	result, err := r.lookup(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	if result == nil {
		return nil, nil, nil
	}
	return result.Entry, result.Value, nil
}

// lookup 核心解析：缓存 → 优先级作用域探测 → 注册表默认值。
// 返回 (nil, nil) 表示确定未找到；error 非 nil 表示存储故障
func (r *Resolver) lookup(ctx context.Context, q ResolveQuery) (*resolved, error) {
	now := time.Now()
	if q.AsOf.IsZero() {
		q.AsOf = now
	}

	key := cacheKey(q, now)
	if cached, ok := r.cache.get(ctx, key); ok {
		if !cached.Found {
			return nil, nil
		}
		return &resolved{Value: cached.Value, Entry: cached.Entry}, nil
	}

	// 优先级探测：最具体的作用域组合优先，全局最后
	for _, scope := range q.Scope.Combinations() {
		entry, err := r.entries.GetCurrent(ctx, repository.CurrentQuery{
			Kind:    q.Kind,
			Key:     q.Key,
			Scope:   scope,
			AsOf:    q.AsOf,
			Channel: q.Channel,
			Locale:  q.Locale,
		})
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, err
		}
		result := &resolved{Value: entry.Value, Entry: entry}
		r.cache.put(ctx, key, &cachedResult{Found: true, Value: entry.Value, Entry: entry})
		return result, nil
	}

	// 注册表默认值回退（仅 setting；rule/template 无此回退）
	if q.Kind == domain.KindSetting {
		reg, err := r.registry.Get(ctx, q.Key)
		if err == nil && len(reg.DefaultValue) > 0 {
			r.cache.put(ctx, key, &cachedResult{Found: true, Value: reg.DefaultValue})
			return &resolved{Value: reg.DefaultValue}, nil
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	// 未找到也写缓存，避免对不存在的键反复回源
	r.cache.put(ctx, key, &cachedResult{Found: false})
	return nil, nil
}

// InvalidateCache 失效指定键的解析缓存；key 为空则清空全部
func (r *Resolver) InvalidateCache(ctx context.Context, key string) {
	if key == "" {
		r.cache.InvalidateAll(ctx)
		return
	}
	for _, kind := range []domain.Kind{domain.KindSetting, domain.KindRule, domain.KindTemplate} {
		r.cache.InvalidateKey(ctx, kind, key)
	}
}

// CacheStats 缓存统计
func (r *Resolver) CacheStats(ctx context.Context) CacheStats {
	return r.cache.Stats(ctx)
}
