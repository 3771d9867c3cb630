package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-config/internal/config"
	"wisefido-config/internal/database"
	"wisefido-config/internal/logger"
	"wisefido-config/internal/notify"
	"wisefido-config/internal/repository"
	"wisefido-config/internal/service"
	"wisefido-config/internal/store"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-config")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	// 变更事件发布（按配置启用各通道）
	var publishers []service.ChangePublisher
	if cfg.Notify.StreamEnabled {
		publishers = append(publishers, notify.NewStreamPublisher(redisClient, cfg.Notify.Stream, log))
	}
	if cfg.Notify.WebhookURL != "" {
		publishers = append(publishers, notify.NewWebhookPublisher(cfg.Notify.WebhookURL, log))
	}
	if cfg.Notify.MQTT.Enabled {
		mqttPublisher, err := notify.NewMQTTPublisher(&cfg.Notify.MQTT, log)
		if err != nil {
			log.Warn("MQTT publisher disabled, connection failed", zap.Error(err))
		} else {
			defer mqttPublisher.Close()
			publishers = append(publishers, mqttPublisher)
		}
	}

	engine := service.NewEngine(service.EngineDeps{
		Entries:         repository.NewPostgresEntriesRepository(db),
		Registry:        repository.NewPostgresRegistryRepository(db),
		ChangeLog:       repository.NewPostgresChangeLogRepository(db),
		Snapshots:       repository.NewPostgresSnapshotsRepository(db),
		CacheKV:         store.NewRedisKV(redisClient),
		CacheTTL:        cfg.Cache.TTL,
		CacheMaxEntries: cfg.Cache.MaxEntries,
		Publisher:       notify.NewMultiPublisher(publishers...),
		Logger:          log,
	})

	stats := engine.Resolver.CacheStats(context.Background())
	log.Info("wisefido-config started",
		zap.String("db", cfg.Database.Database),
		zap.String("redis", cfg.Redis.Addr),
		zap.Duration("cache_ttl", cfg.Cache.TTL),
		zap.Int("cache_size", stats.Size),
	)

	// API 层（独立服务）通过引擎实例挂载；本进程保持引擎可用直到收到退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("wisefido-config shutting down")
}
