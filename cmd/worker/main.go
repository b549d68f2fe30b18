package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/highlightai/highlight/internal/cache"
	"github.com/highlightai/highlight/internal/config"
	"github.com/highlightai/highlight/internal/database"
	"github.com/highlightai/highlight/internal/logging"
	"github.com/highlightai/highlight/internal/metrics"
	"github.com/highlightai/highlight/internal/monitoring"
	"github.com/highlightai/highlight/internal/queue"
	"github.com/highlightai/highlight/internal/storage"
	"github.com/highlightai/highlight/internal/upload"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create logger")
	}

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)

	// Initialize storage
	stor, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	// Initialize cache
	videoCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer videoCache.Close()

	// Initialize queue
	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorWithErr("Metrics server failed", err)
			}
		}()
	}

	completion := upload.NewCompletionHandler(repo, stor, videoCache, logger).
		WithMaxSize(cfg.Storage.MaxUploadSize)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully...")
		cancel()
	}()

	monitor := monitoring.NewMonitor(q, logger)
	if err := monitor.Update(); err != nil {
		logger.WithError(err).Warn("Failed to read queue depths")
	} else if depth := monitor.GetMetrics().DLQDepth; depth > 0 {
		logger.Warnf("%d storage notifications waiting in the dead letter queue", depth)
	}
	monitor.Start(ctx)

	// Start consuming notifications
	logger.Info("Worker started, waiting for upload notifications...")
	if err := q.ConsumeUploads(ctx, monitor.Track(completion.Handle)); err != nil {
		logger.Fatalf("Failed to consume notifications: %v", err)
	}

	// Wait for shutdown
	<-ctx.Done()
	logger.Info("Worker stopped")
}
