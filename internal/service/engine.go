package service

import (
	"time"

	"go.uber.org/zap"

	"wisefido-config/internal/repository"
	"wisefido-config/internal/store"
)

// Engine 配置解析引擎聚合：一个显式构造的服务实例持有全部依赖，
// 可按需创建多个互相独立的实例（如按租户），测试中可独立注入
type Engine struct {
	Resolver    *Resolver
	Mutator     *Mutator
	Rollbacker  *Rollbacker
	Snapshotter *Snapshotter
	History     *History
}

// EngineDeps 引擎依赖
type EngineDeps struct {
	Entries   repository.EntriesRepository
	Registry  repository.RegistryRepository
	ChangeLog repository.ChangeLogRepository
	Snapshots repository.SnapshotsRepository

	CacheKV         store.KV
	CacheTTL        time.Duration
	CacheMaxEntries int

	Publisher ChangePublisher
	Logger    *zap.Logger
}

// NewEngine 组装引擎（服务启动时调用一次；缓存随实例构造，不使用全局状态）
func NewEngine(deps EngineDeps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = NopPublisher{}
	}

	cache := NewResolutionCache(deps.CacheKV, deps.CacheTTL, deps.CacheMaxEntries, logger)
	resolver := NewResolver(deps.Entries, deps.Registry, cache, logger)
	mutator := NewMutator(deps.Entries, deps.ChangeLog, cache, publisher, logger)
	rollbacker := NewRollbacker(deps.Entries, deps.ChangeLog, mutator, publisher, logger)
	snapshotter := NewSnapshotter(deps.Entries, deps.Snapshots, deps.ChangeLog, mutator, publisher, logger)
	history := NewHistory(deps.Entries, deps.ChangeLog, logger)

	return &Engine{
		Resolver:    resolver,
		Mutator:     mutator,
		Rollbacker:  rollbacker,
		Snapshotter: snapshotter,
		History:     history,
	}
}
