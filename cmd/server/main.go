// Package main runs the recording reconciler HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/reconciler/config"
	"github.com/aura-webinar/reconciler/internal/auth"
	"github.com/aura-webinar/reconciler/internal/candidates"
	"github.com/aura-webinar/reconciler/internal/entitlements"
	"github.com/aura-webinar/reconciler/internal/ingest"
	"github.com/aura-webinar/reconciler/internal/middleware"
	"github.com/aura-webinar/reconciler/internal/realtime"
	"github.com/aura-webinar/reconciler/internal/reconcile"
	"github.com/aura-webinar/reconciler/internal/recordings"
	"github.com/aura-webinar/reconciler/internal/streams"
	"github.com/aura-webinar/reconciler/internal/worker"
	"github.com/aura-webinar/reconciler/pkg/database"
	"github.com/aura-webinar/reconciler/pkg/queue"
	"github.com/aura-webinar/reconciler/pkg/redis"
	"github.com/aura-webinar/reconciler/pkg/response"
	"github.com/aura-webinar/reconciler/pkg/storage"
)

// readStore is what the read-side handlers need from either store driver.
type readStore interface {
	streams.Store
	recordings.Reader
	entitlements.LinkReader
}

type grantStore interface {
	entitlements.Granter
	entitlements.Checker
}

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()

	var (
		store     reconcile.Store
		reads     readStore
		tracker   reconcile.Tracker
		candReads candidates.Reader
		stale     candidates.StaleStore
		grants    grantStore
		checks    = map[string]func(context.Context) error{}
	)
	switch cfg.Store.Driver {
	case config.StoreMemory:
		mem := reconcile.NewMemoryStore()
		store, reads, tracker, candReads, stale = mem, mem, mem, mem, mem
		grants = entitlements.NewMemoryRepository()
		logger.Warn("using in-memory store; state is lost on restart")
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		checks["postgres"] = pool.Ping
		pg := reconcile.NewPostgresStore(pool)
		candRepo := candidates.NewRepository(pool)
		store, reads = pg, pg
		tracker, candReads, stale = candRepo, candRepo, candRepo
		grants = entitlements.NewRepository(pool)
	}

	var (
		jobQueue  *queue.Queue
		publisher reconcile.Publisher
		hub       *realtime.Hub
	)
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		checks["redis"] = rdb.Check
		jobQueue = queue.NewQueue(rdb.Client, cfg.Worker.MaxRetries, logger)
		pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, pubsub)
		publisher = pubsub
	} else {
		logger.Warn("redis disabled; no retry queue and events stay on this instance")
		hub = realtime.NewHub(logger, nil)
		publisher = hub
	}

	engine := reconcile.NewEngine(store, tracker, reconcile.Options{
		Provider: cfg.Reconcile.Provider,
		Deriver: reconcile.Deriver{
			PlaybackBaseURL:  cfg.Reconcile.PlaybackBaseURL,
			ThumbnailBaseURL: cfg.Reconcile.ThumbnailBaseURL,
		},
		SessionMatchWindow: cfg.Reconcile.SessionMatchWindow,
		Publisher:          publisher,
	}, logger)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// A nil *queue.Queue must not reach the handler as a non-nil interface.
	var retry ingest.RetryQueue
	if jobQueue != nil {
		retry = jobQueue
	}
	webhookHandler := ingest.NewWebhookHandler(engine, retry, ingest.WebhookConfig{
		Secret:        cfg.Webhook.Secret,
		Tolerance:     cfg.Webhook.Tolerance,
		EventPrefix:   cfg.Webhook.EventPrefix,
		IgnoredEvents: cfg.Webhook.IgnoredEvents,
	}, logger)
	endActionHandler := ingest.NewEndActionHandler(engine, logger)

	bundler := entitlements.NewBundler(reads, grants, logger)
	recordingHandler := recordings.NewHandler(reads, bundler, logger)
	sessionHandler := streams.NewHandler(reads, cfg.Reconcile.SessionMatchWindow, logger)
	candidateHandler := candidates.NewHandler(candReads, logger)
	entitlementHandler := entitlements.NewHandler(bundler, grants, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins()))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", healthHandler(checks))

	// Provider webhooks (no JWT; HMAC signature checked in handler when configured)
	router.POST("/webhooks/recording-asset", webhookHandler.RecordingAsset)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Broadcast sessions
		api.POST("/sessions", middleware.RequireRole(auth.RoleAdmin, auth.RoleOperator), sessionHandler.Start)
		api.GET("/sessions/:id", sessionHandler.Get)
		api.GET("/sessions/by-stream/:stream_id", sessionHandler.ByStream)
		api.POST("/sessions/:id/end", middleware.RequireRole(auth.RoleAdmin, auth.RoleOperator), endActionHandler.EndBroadcast)

		// Recordings (admin/operator, or an entitlement on the recording or its session)
		api.GET("/recordings/:id", recordingHandler.Get)
		api.GET("/recordings/by-asset/:asset_id", recordingHandler.ByAsset)

		// Entitlements
		api.GET("/entitlements", entitlementHandler.Mine)
		api.GET("/entitlements/check", entitlementHandler.Check)
		api.POST("/entitlements", middleware.RequireRole(auth.RoleAdmin), entitlementHandler.Grant)

		// Candidate diagnostics (operators)
		api.GET("/candidates/:asset_id", middleware.RequireRole(auth.RoleAdmin, auth.RoleOperator), candidateHandler.Get)
	}

	// WebSocket (token in query; entitlement checked like the recording reads)
	router.GET("/ws/recordings", realtime.ServeWs(hub, logger, jwtService.Principal, bundler, cfg.Server.AllowedOrigins()))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// In-memory state is private to this process, so background work runs here.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Store.Driver == config.StoreMemory {
		if jobQueue != nil {
			go worker.NewRetryProcessor(engine, jobQueue, cfg.Worker.Backoff, logger).Run(workerCtx)
			logger.Info("retry worker started in-process")
		}
		pruner := candidates.NewPruner(stale, newArchiver(ctx, cfg, logger), candidates.PrunerConfig{
			Retention: cfg.Candidates.Retention,
			BatchSize: cfg.Candidates.BatchSize,
			Bucket:    cfg.AWS.ArchiveBucket,
		}, logger)
		go pruner.Run(workerCtx, cfg.Candidates.PruneInterval)
		logger.Info("candidate pruner started in-process")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// newArchiver returns nil when no archive bucket is configured, so pruning deletes without archiving.
func newArchiver(ctx context.Context, cfg *config.Config, logger *zap.Logger) candidates.Archiver {
	if cfg.AWS.Region == "" || cfg.AWS.ArchiveBucket == "" {
		logger.Warn("candidate archive disabled (AWS_REGION or AWS_S3_ARCHIVE_BUCKET unset)")
		return nil
	}
	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		ArchiveBucket:   cfg.AWS.ArchiveBucket,
	}, logger)
	if err != nil {
		logger.Warn("s3 disabled", zap.Error(err))
		return nil
	}
	return s3Client
}

// healthHandler pings each dependency; any failure answers 503 with per-dependency status.
func healthHandler(checks map[string]func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		status := gin.H{}
		healthy := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status[name] = "down"
				healthy = false
				continue
			}
			status[name] = "ok"
		}
		if !healthy {
			c.JSON(http.StatusServiceUnavailable, response.Body{Success: false, Data: status, Error: "unhealthy"})
			return
		}
		status["status"] = "ok"
		response.OK(c, status)
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
