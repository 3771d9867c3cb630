package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-config/internal/service"
)

// DefaultStream 配置变更事件流
const DefaultStream = "config:changes"

// StreamPublisher 将变更事件发布到 Redis Streams，供下游服务消费。
// 发布失败只记日志，不影响变更结果
type StreamPublisher struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewStreamPublisher 创建 Streams 发布器
func NewStreamPublisher(client *redis.Client, stream string, logger *zap.Logger) *StreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamPublisher{client: client, stream: stream, logger: logger}
}

// 确保实现了接口
var _ service.ChangePublisher = (*StreamPublisher)(nil)

// PublishChange 发布变更事件（XADD，JSON 负载）
func (p *StreamPublisher) PublishChange(ctx context.Context, event service.ChangeEvent) {
	jsonBytes, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("failed to marshal change event", zap.Error(err))
		return
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"data":      string(jsonBytes),
			"timestamp": time.Now().Unix(),
		},
	}).Result()
	if err != nil {
		p.logger.Warn("failed to publish change event to stream",
			zap.String("stream", p.stream),
			zap.String("key", event.Key),
			zap.Error(err),
		)
		return
	}
	p.logger.Debug("change event published",
		zap.String("stream", p.stream),
		zap.String("message_id", id),
		zap.String("key", event.Key),
	)
}
