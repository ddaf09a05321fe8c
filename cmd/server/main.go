package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/sodav/monitor-core/internal/admin"
	"github.com/sodav/monitor-core/internal/cache"
	"github.com/sodav/monitor-core/internal/config"
	"github.com/sodav/monitor-core/internal/container"
	"github.com/sodav/monitor-core/internal/database"
	"github.com/sodav/monitor-core/internal/identity"
	"github.com/sodav/monitor-core/internal/ingest"
	"github.com/sodav/monitor-core/internal/localmatch"
	"github.com/sodav/monitor-core/internal/logger"
	"github.com/sodav/monitor-core/internal/metrics"
	"github.com/sodav/monitor-core/internal/notify"
	"github.com/sodav/monitor-core/internal/orchestrator"
	"github.com/sodav/monitor-core/internal/playstate"
	"github.com/sodav/monitor-core/internal/recognize"
	"github.com/sodav/monitor-core/internal/stats"
	"github.com/sodav/monitor-core/internal/storage"
	"github.com/sodav/monitor-core/internal/supervisor"
	"github.com/sodav/monitor-core/internal/telemetry"
)

func main() {
	logLevel := getEnvOrDefault("LOG_LEVEL", "info")
	logFile := getEnvOrDefault("LOG_FILE", "monitor.log")

	if err := logger.Initialize(logLevel, logFile); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Close()

	logger.Log.Info("=== SODAV Monitor detection core starting ===")

	if err := godotenv.Load(); err != nil {
		logger.Log.Warn("no .env file found, using system environment variables")
	}

	cfg := config.Load()

	if err := database.Initialize(cfg.DatabaseURL, logger.Log); err != nil {
		logger.Log.Fatal("failed to initialize database", zap.Error(err))
	}
	if err := database.Migrate(logger.Log); err != nil {
		logger.Log.Fatal("failed to run migrations", zap.Error(err))
	}

	var redisClient *cache.RedisClient
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedisClient(cfg.RedisAddr, os.Getenv("REDIS_PASSWORD"), logger.Log)
		if err != nil {
			logger.Log.Warn("failed to connect to redis, provider rate limiting runs in-process only", zap.Error(err))
		} else {
			redisClient = rc
			defer redisClient.Close()
		}
	} else {
		logger.Log.Info("redis not configured (REDIS_ADDR unset), provider rate limiting runs in-process only")
	}

	metrics.Get()

	tp, err := telemetry.InitTracer(telemetry.Config{
		ServiceName:  cfg.ServiceName,
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OtelEndpoint,
		Enabled:      cfg.OtelEnabled,
		SamplingRate: cfg.OtelSamplingRate,
	})
	if err != nil {
		logger.Log.Warn("failed to initialize tracer, pipeline spans disabled", zap.Error(err))
	}
	if tp != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Log.Warn("tracer provider shutdown failed", zap.Error(err))
			}
		}()
	}

	c := buildContainer(cfg, redisClient)

	if err := c.Validate(); err != nil {
		logger.Log.Fatal("container validation failed", zap.Error(err))
	}

	pipelineCtx, cancelPipeline := context.WithCancel(context.Background())
	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		if err := c.Supervisor().Run(pipelineCtx); err != nil && err != context.Canceled {
			logger.Log.Error("supervisor exited", zap.Error(err))
		}
	}()

	adminSrv := admin.NewServer(c.DB(), logger.Log, c.NotifySink())
	httpSrv := &http.Server{
		Addr:    cfg.AdminListenAddr,
		Handler: adminSrv.Router(),
	}
	go func() {
		logger.Log.Info("admin server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Error("admin server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("shutting down")

	shutdownGrace := cfg.ShutdownGrace
	if shutdownGrace <= 0 {
		shutdownGrace = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	cancelPipeline()
	select {
	case <-pipelineDone:
	case <-shutdownCtx.Done():
		logger.Log.Warn("supervisor did not stop within shutdown grace period")
	}

	if err := c.Cleanup(shutdownCtx); err != nil {
		logger.Log.Error("error during cleanup", zap.Error(err))
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("admin server forced to shutdown", zap.Error(err))
	}

	logger.Log.Info("detection core exited")
}

// buildContainer wires every collaborator the Supervisor's per-station
// workers share. The Supervisor itself builds one playstate.Tracker per
// station as it spawns a worker, since CurrentTrack state is
// station-local rather than shared.
func buildContainer(cfg *config.DetectionConfig, redisClient *cache.RedisClient) *container.Container {
	db := database.DB

	fetcher := ingest.NewFetcher(cfg.SampleRate, logger.Log)
	matcher := localmatch.New(db)
	resolver := identity.New(db, logger.Log)
	statsAggregator := stats.New(db, logger.Log)
	notifySink := notify.NewSink(128, logger.Log)

	onCircuitTrip := func(provider string) {
		logger.Log.Warn("recognition provider circuit breaker tripped", zap.String("provider", provider))
	}
	recognizer := recognize.New(cfg, redisClient, logger.Log, onCircuitTrip)

	var archiver *storage.SnapshotArchiver
	if cfg.S3Bucket != "" {
		a, err := storage.NewSnapshotArchiver(context.Background(), cfg.S3Region, cfg.S3Bucket)
		if err != nil {
			logger.Log.Warn("failed to initialize snapshot archiver, low-confidence plays will not be archived", zap.Error(err))
		} else {
			archiver = a
		}
	}

	c := container.New().
		WithDB(db).
		WithLogger(logger.Log).
		WithConfig(cfg).
		WithFetcher(fetcher).
		WithMatcher(matcher).
		WithRecognizer(recognizer).
		WithResolver(resolver).
		WithStatsAggregator(statsAggregator).
		WithNotifySink(notifySink)
	if archiver != nil {
		c.WithSnapshotArchiver(archiver)
	}

	deps := orchestrator.Deps{
		DB:         db,
		Fetcher:    fetcher,
		Recognizer: recognizer,
		Matcher:    matcher,
		Resolver:   resolver,
		Archiver:   archiver,
		Log:        logger.Log,
		Config:     cfg,
	}
	sup := supervisor.New(db, logger.Log, deps, supervisor.Config{
		CheckInterval:   cfg.HealthcheckInterval,
		ShutdownGrace:   cfg.ShutdownGrace,
		StatsAggregator: statsAggregator,
		Notifier:        notifySink,
		TrackerConfig: playstate.Config{
			SameTrackSimilarity:    cfg.SameTrackSimilarity,
			SilenceDuration:        cfg.SilenceDuration,
			ArchiveBelowConfidence: cfg.MinConfidence,
		},
	})
	c.WithSupervisor(sup)

	if redisClient != nil {
		c.OnCleanup(func(context.Context) error { return redisClient.Close() })
	}

	return c
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
