package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wisefido-config/internal/domain"
	"wisefido-config/internal/repository"
)

// ChangeEvent 配置变更事件（发布给下游：redis stream / MQTT / webhook）
type ChangeEvent struct {
	Operation string    `json:"operation"`
	Kind      string    `json:"kind"`
	Key       string    `json:"key"`
	Scope     string    `json:"scope"`
	Version   int       `json:"version,omitempty"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

// ChangePublisher 变更事件发布接口（internal/notify 实现）。
// 发布失败只记日志，不影响变更结果——与审计日志相反
type ChangePublisher interface {
	PublishChange(ctx context.Context, event ChangeEvent)
}

// NopPublisher 空实现（测试与未启用通知时使用）
type NopPublisher struct{}

func (NopPublisher) PublishChange(context.Context, ChangeEvent) {}

// writeAudit 写入审计记录。审计写入失败是唯一必须硬性上报的故障：
// 无审计记录的变更违背本子系统的存在意义
func writeAudit(ctx context.Context, repo repository.ChangeLogRepository, logger *zap.Logger, entry *domain.ChangeLogEntry) error {
	if _, err := repo.Insert(ctx, entry); err != nil {
		logger.Error("audit log write failed",
			zap.String("operation", string(entry.OperationType)),
			zap.String("key", entry.ConfigKey),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}
	return nil
}

// elapsedMs 执行耗时（毫秒）
func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
