package repository

import (
	"context"

	"wisefido-config/internal/domain"
)

// RegistryRepository 配置注册表（config_registry）：逻辑键的类型描述与注册表级默认值
type RegistryRepository interface {
	// Get 按键读取注册表行
	Get(ctx context.Context, key string) (*domain.RegistryEntry, error)

	// Upsert 注册/更新逻辑键
	Upsert(ctx context.Context, entry *domain.RegistryEntry) error

	// List 全部注册键（键名升序）
	List(ctx context.Context) ([]*domain.RegistryEntry, error)
}
