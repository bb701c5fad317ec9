// Package main runs the background job worker (lesson video ingest to S3).
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/truespace/backend/config"
	"github.com/truespace/backend/internal/courses"
	"github.com/truespace/backend/internal/worker"
	"github.com/truespace/backend/pkg/database"
	"github.com/truespace/backend/pkg/queue"
	"github.com/truespace/backend/pkg/redis"
	"github.com/truespace/backend/pkg/storage"
)

const shutdownGrace = 30 * time.Second

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

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	if !cfg.AWS.Enabled() {
		logger.Fatal("s3 is not configured: set AWS_REGION and AWS_S3_VIDEOS_BUCKET")
	}
	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		VideosBucket:         cfg.AWS.VideosBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	processor := worker.NewVideoIngestProcessor(
		courses.NewRepository(pool),
		s3Client,
		queue.NewQueue(rdb.Client, logger),
		logger,
	)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Run(runCtx)
	}()
	logger.Info("video ingest worker started", zap.String("queue", queue.QueueVideos), zap.String("bucket", s3Client.VideosBucket()))

	<-runCtx.Done()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		logger.Warn("worker did not stop in time")
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
