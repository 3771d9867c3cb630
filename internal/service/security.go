package service

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"wisefido-config/internal/domain"
)

// SecurityNamespace 安全白名单键的命名空间前缀
const SecurityNamespace = "security-allowlists."

// ResolveSecurityList 安全白名单解析。与普通解析相反的降级策略：
// 未找到、存储故障、空结果一律返回调用方提供的 fallback，绝不返回空列表——
// 空白名单与"配置损坏"在运维上无法区分，会把所有管理员静默锁在门外
func (r *Resolver) ResolveSecurityList(ctx context.Context, key string, scope domain.Scope, fallback []string) []string {
	if !strings.HasPrefix(key, SecurityNamespace) {
		key = SecurityNamespace + key
	}

	result, err := r.lookup(ctx, ResolveQuery{Kind: domain.KindSetting, Key: key, Scope: scope})
	if err != nil {
		r.logger.Error("security list lookup failed, using fallback",
			zap.String("key", key),
			zap.String("scope", scope.Key()),
			zap.Error(err),
		)
		return fallback
	}
	if result == nil {
		r.logger.Warn("security list not configured, using fallback",
			zap.String("key", key),
			zap.String("scope", scope.Key()),
		)
		return fallback
	}

	var list []string
	if err := json.Unmarshal(result.Value, &list); err != nil {
		r.logger.Error("security list value is not a string array, using fallback",
			zap.String("key", key),
			zap.Error(err),
		)
		return fallback
	}
	if len(list) == 0 {
		r.logger.Warn("security list resolved empty, using fallback",
			zap.String("key", key),
			zap.String("scope", scope.Key()),
		)
		return fallback
	}
	return list
}
