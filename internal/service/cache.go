package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wisefido-config/internal/domain"
	"wisefido-config/internal/store"
)

const (
	// cacheKeyPrefix 所有解析缓存键的公共前缀
	cacheKeyPrefix = "cfgres"

	// currentBucketWindow asOf 与当前时间相差在该窗口内时归入 "current" 桶，
	// 让"取当前值"的高频查询共享同一个缓存键
	currentBucketWindow = time.Second

	// DefaultCacheTTL 缓存默认过期时间
	DefaultCacheTTL = 5 * time.Minute
)

// cachedResult 缓存值：显式区分"未找到"，避免对不存在的键反复回源
type cachedResult struct {
	Found bool                `json:"found"`
	Value json.RawMessage     `json:"value,omitempty"`
	Entry *domain.ConfigEntry `json:"entry,omitempty"`
}

// CacheStats 缓存统计
type CacheStats struct {
	Size int `json:"size"` // 当前解析缓存键数量
	Max  int `json:"max"`  // 配置的容量参考值，仅用于统计展示；淘汰由 redis 的 maxmemory 策略执行
}

// ResolutionCache 解析结果缓存。显式构造、按实例注入（服务启动时创建），
// 不使用进程级单例，测试可各自持有独立实例
type ResolutionCache struct {
	kv  store.KV
	ttl time.Duration

	// maxEntries 只进入 Stats 展示，不在本层强制；条目淘汰交给 redis 端
	// 的 maxmemory 策略与 TTL
	maxEntries int

	logger *zap.Logger
}

// NewResolutionCache 创建解析缓存
func NewResolutionCache(kv store.KV, ttl time.Duration, maxEntries int, logger *zap.Logger) *ResolutionCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ResolutionCache{kv: kv, ttl: ttl, maxEntries: maxEntries, logger: logger}
}

// cacheKey 构造缓存键：cfgres:{kind}:{key}:{scope}:{channel}:{locale}:{bucket}
func cacheKey(q ResolveQuery, now time.Time) string {
	bucket := "current"
	if q.AsOf.Sub(now).Abs() > currentBucketWindow {
		bucket = q.AsOf.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%s:%s:%s:%s:%s:%s:%s",
		cacheKeyPrefix, q.Kind, q.Key, q.Scope.Key(), q.Channel, q.Locale, bucket)
}

// get 读缓存；未命中返回 (nil, false)，缓存层故障按未命中处理
func (c *ResolutionCache) get(ctx context.Context, key string) (*cachedResult, bool) {
	raw, err := c.kv.Get(ctx, key)
	if err != nil {
		if err != store.ErrMiss {
			c.logger.Warn("cache get failed", zap.String("cache_key", key), zap.Error(err))
		}
		return nil, false
	}
	var result cachedResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		c.logger.Warn("cache entry corrupted", zap.String("cache_key", key), zap.Error(err))
		return nil, false
	}
	return &result, true
}

// put 写缓存（尽力而为，失败只记日志）
func (c *ResolutionCache) put(ctx context.Context, key string, result *cachedResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("cache marshal failed", zap.String("cache_key", key), zap.Error(err))
		return
	}
	if err := c.kv.Set(ctx, key, string(raw), c.ttl); err != nil {
		c.logger.Warn("cache set failed", zap.String("cache_key", key), zap.Error(err))
	}
}

// InvalidateKey 按 (kind, key) 前缀粗粒度失效。
// 某一作用域的写入会改变更泛化查询的回退结果，缓存键中序列化的作用域
// 又难以精确模式匹配，宁可多失效不可漏失效
func (c *ResolutionCache) InvalidateKey(ctx context.Context, kind domain.Kind, key string) {
	pattern := fmt.Sprintf("%s:%s:%s:*", cacheKeyPrefix, kind, key)
	c.invalidatePattern(ctx, pattern)
}

// InvalidateAll 清空全部解析缓存
func (c *ResolutionCache) InvalidateAll(ctx context.Context) {
	c.invalidatePattern(ctx, cacheKeyPrefix+":*")
}

func (c *ResolutionCache) invalidatePattern(ctx context.Context, pattern string) {
	keys, err := c.kv.ScanKeys(ctx, pattern)
	if err != nil {
		c.logger.Warn("cache invalidation scan failed", zap.String("pattern", pattern), zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.kv.Del(ctx, keys...); err != nil {
		c.logger.Warn("cache invalidation delete failed", zap.String("pattern", pattern), zap.Error(err))
	}
}

// Stats 缓存统计（键数量按前缀扫描）
func (c *ResolutionCache) Stats(ctx context.Context) CacheStats {
	keys, err := c.kv.ScanKeys(ctx, cacheKeyPrefix+":*")
	if err != nil {
		c.logger.Warn("cache stats scan failed", zap.Error(err))
		return CacheStats{Max: c.maxEntries}
	}
	return CacheStats{Size: len(keys), Max: c.maxEntries}
}
