package repository

import (
	"context"

	"wisefido-config/internal/domain"
)

// SnapshotsRepository 配置快照（config_snapshots），创建后不可修改
type SnapshotsRepository interface {
	// Insert 持久化一个快照
	Insert(ctx context.Context, snapshot *domain.Snapshot) (string, error)

	// Get 按 ID 读取
	Get(ctx context.Context, snapshotID string) (*domain.Snapshot, error)

	// List 快照列表（创建时间降序，limit <= 0 使用默认 50）
	List(ctx context.Context, limit int) ([]*domain.Snapshot, error)
}
