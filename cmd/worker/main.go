// Package main runs the background worker: notification delivery and the integrity change feed.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/aura-conference/backend/config"
	"github.com/aura-conference/backend/internal/integrity"
	"github.com/aura-conference/backend/internal/notifications"
	"github.com/aura-conference/backend/internal/realtime"
	"github.com/aura-conference/backend/internal/worker"
	"github.com/aura-conference/backend/pkg/database"
	"github.com/aura-conference/backend/pkg/queue"
	"github.com/aura-conference/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jobQueue := queue.NewQueue(rdb.Client, logger)
	sender := notifications.NewHTTPSender(notifications.SenderConfig{
		BaseURL:   cfg.Messaging.BaseURL,
		APIKey:    cfg.Messaging.APIKey,
		SenderKey: cfg.Messaging.SenderKey,
		Timeout:   time.Duration(cfg.Messaging.TimeoutSec) * time.Second,
	})
	processor := worker.NewNotificationProcessor(jobQueue, sender, notifications.NewRepository(pool), logger)

	monitor := integrity.NewMonitor(integrity.NewRepository(pool), realtime.NewRedisPubSub(rdb.Client, logger), logger)
	feed := integrity.NewChangeFeed(pool, monitor, cfg.Worker.ChangeFeedBatchSize, cfg.Worker.ChangeFeedMaxAttempts,
		cfg.Worker.PollInterval(), logger)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return processor.Run(gctx) })
	g.Go(func() error { return feed.Run(gctx) })
	logger.Info("worker started")

	if err := g.Wait(); err != nil {
		logger.Error("worker exited", zap.Error(err))
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
