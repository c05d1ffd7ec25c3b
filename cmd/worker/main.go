// Package main runs the background workers: reconcile retries and candidate pruning.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/reconciler/config"
	"github.com/aura-webinar/reconciler/internal/candidates"
	"github.com/aura-webinar/reconciler/internal/realtime"
	"github.com/aura-webinar/reconciler/internal/reconcile"
	"github.com/aura-webinar/reconciler/internal/worker"
	"github.com/aura-webinar/reconciler/pkg/database"
	"github.com/aura-webinar/reconciler/pkg/queue"
	"github.com/aura-webinar/reconciler/pkg/redis"
	"github.com/aura-webinar/reconciler/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Store.Driver == config.StoreMemory {
		logger.Fatal("worker needs STORE_DRIVER=postgres; the memory store runs its workers inside the server")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	candRepo := candidates.NewRepository(pool)
	engine := reconcile.NewEngine(reconcile.NewPostgresStore(pool), candRepo, reconcile.Options{
		Provider: cfg.Reconcile.Provider,
		Deriver: reconcile.Deriver{
			PlaybackBaseURL:  cfg.Reconcile.PlaybackBaseURL,
			ThumbnailBaseURL: cfg.Reconcile.ThumbnailBaseURL,
		},
		SessionMatchWindow: cfg.Reconcile.SessionMatchWindow,
		Publisher:          realtime.NewRedisPubSub(rdb.Client, logger),
	}, logger)

	jobQueue := queue.NewQueue(rdb.Client, cfg.Worker.MaxRetries, logger)
	processor := worker.NewRetryProcessor(engine, jobQueue, cfg.Worker.Backoff, logger)

	var archiver candidates.Archiver
	if cfg.AWS.Region != "" && cfg.AWS.ArchiveBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			ArchiveBucket:   cfg.AWS.ArchiveBucket,
		}, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
		archiver = s3Client
	} else {
		logger.Warn("candidate archive disabled; stale candidates are deleted without a copy")
	}
	pruner := candidates.NewPruner(candRepo, archiver, candidates.PrunerConfig{
		Retention: cfg.Candidates.Retention,
		BatchSize: cfg.Candidates.BatchSize,
		Bucket:    cfg.AWS.ArchiveBucket,
	}, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Run(workerCtx)
	}()
	go func() {
		defer wg.Done()
		pruner.Run(workerCtx, cfg.Candidates.PruneInterval)
	}()
	logger.Info("worker started")

	if pending, dead, err := jobQueue.Len(ctx); err == nil {
		logger.Info("retry queue", zap.Int64("pending", pending), zap.Int64("dead", dead))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	wg.Wait()
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
