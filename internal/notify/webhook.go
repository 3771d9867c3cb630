package notify

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"wisefido-config/internal/service"
)

// WebhookPublisher 将变更事件 POST 到外部回调地址（带重试）。
// 用于对接不消费 Redis/MQTT 的外部系统
type WebhookPublisher struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewWebhookPublisher 创建 Webhook 发布器
func NewWebhookPublisher(url string, logger *zap.Logger) *WebhookPublisher {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookPublisher{httpClient: client, url: url, logger: logger}
}

// 确保实现了接口
var _ service.ChangePublisher = (*WebhookPublisher)(nil)

// PublishChange 发布变更事件
func (p *WebhookPublisher) PublishChange(ctx context.Context, event service.ChangeEvent) {
	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetBody(event).
		Post(p.url)
	if err != nil {
		p.logger.Warn("failed to post change event to webhook",
			zap.String("url", p.url),
			zap.String("key", event.Key),
			zap.Error(err),
		)
		return
	}
	if resp.StatusCode() >= 300 {
		p.logger.Warn("webhook returned non-success status",
			zap.String("url", p.url),
			zap.Int("status", resp.StatusCode()),
			zap.String("key", event.Key),
		)
	}
}

// MultiPublisher 扇出到多个发布器
type MultiPublisher struct {
	publishers []service.ChangePublisher
}

// NewMultiPublisher 组合多个发布器（nil 项会被忽略）
func NewMultiPublisher(publishers ...service.ChangePublisher) *MultiPublisher {
	m := &MultiPublisher{}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

// 确保实现了接口
var _ service.ChangePublisher = (*MultiPublisher)(nil)

// PublishChange 逐个发布
func (m *MultiPublisher) PublishChange(ctx context.Context, event service.ChangeEvent) {
	for _, p := range m.publishers {
		p.PublishChange(ctx, event)
	}
}
