package config

import (
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置（变更事件发布，可选）
type MQTTConfig struct {
	Enabled     bool
	Broker      string // 如 "tcp://localhost:1883"
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string // 默认 "config/changes"
	QoS         byte
}

// Config wisefido-config 服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig

	// 解析缓存配置
	Cache struct {
		TTL time.Duration // 默认 5 分钟

		// MaxEntries 只进入缓存统计展示，不强制容量；淘汰由 redis 端策略执行
		MaxEntries int
	}

	// 变更事件发布配置
	Notify struct {
		StreamEnabled bool   // 是否发布到 Redis Streams
		Stream        string // 默认 "config:changes"
		WebhookURL    string // 为空表示不启用 Webhook
		MQTT          MQTTConfig
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置
func Load() *Config {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "wisefido_config")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "20"), 20)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.Cache.TTL = time.Duration(parseInt(getEnv("CACHE_TTL_SECONDS", "300"), 300)) * time.Second
	cfg.Cache.MaxEntries = parseInt(getEnv("CACHE_MAX_ENTRIES", "10000"), 10000)

	cfg.Notify.StreamEnabled = getEnv("NOTIFY_STREAM_ENABLED", "true") == "true"
	cfg.Notify.Stream = getEnv("NOTIFY_STREAM", "config:changes")
	cfg.Notify.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", "")
	cfg.Notify.MQTT.Enabled = getEnv("NOTIFY_MQTT_ENABLED", "false") == "true"
	cfg.Notify.MQTT.Broker = getEnv("NOTIFY_MQTT_BROKER", "tcp://localhost:1883")
	cfg.Notify.MQTT.ClientID = getEnv("NOTIFY_MQTT_CLIENT_ID", "wisefido-config")
	cfg.Notify.MQTT.Username = getEnv("NOTIFY_MQTT_USERNAME", "")
	cfg.Notify.MQTT.Password = getEnv("NOTIFY_MQTT_PASSWORD", "")
	cfg.Notify.MQTT.TopicPrefix = getEnv("NOTIFY_MQTT_TOPIC_PREFIX", "config/changes")
	cfg.Notify.MQTT.QoS = byte(parseInt(getEnv("NOTIFY_MQTT_QOS", "1"), 1))

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, defaultValue int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return v
}
