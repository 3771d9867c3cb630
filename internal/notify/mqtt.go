package notify

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"wisefido-config/internal/config"
	"wisefido-config/internal/service"
)

// MQTTPublisher 将变更事件发布到 MQTT 主题（config/changes/{kind}/{key}），
// 供边缘侧订阅方感知配置变化
type MQTTPublisher struct {
	client      mqtt.Client
	topicPrefix string
	qos         byte
	logger      *zap.Logger
}

// NewMQTTPublisher 连接 MQTT Broker 并创建发布器
func NewMQTTPublisher(cfg *config.MQTTConfig, logger *zap.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	topicPrefix := cfg.TopicPrefix
	if topicPrefix == "" {
		topicPrefix = "config/changes"
	}
	return &MQTTPublisher{client: client, topicPrefix: topicPrefix, qos: cfg.QoS, logger: logger}, nil
}

// 确保实现了接口
var _ service.ChangePublisher = (*MQTTPublisher)(nil)

// PublishChange 发布变更事件
func (p *MQTTPublisher) PublishChange(_ context.Context, event service.ChangeEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("failed to marshal change event", zap.Error(err))
		return
	}

	topic := fmt.Sprintf("%s/%s/%s", p.topicPrefix, event.Kind, event.Key)
	if token := p.client.Publish(topic, p.qos, false, payload); token.Wait() && token.Error() != nil {
		p.logger.Warn("failed to publish change event to MQTT",
			zap.String("topic", topic),
			zap.Error(token.Error()),
		)
	}
}

// Close 断开 MQTT 连接
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
