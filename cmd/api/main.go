package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/highlightai/highlight/internal/cache"
	"github.com/highlightai/highlight/internal/config"
	"github.com/highlightai/highlight/internal/database"
	"github.com/highlightai/highlight/internal/engagement"
	"github.com/highlightai/highlight/internal/ingest"
	"github.com/highlightai/highlight/internal/logging"
	"github.com/highlightai/highlight/internal/metrics"
	"github.com/highlightai/highlight/internal/middleware"
	"github.com/highlightai/highlight/internal/queue"
	"github.com/highlightai/highlight/internal/storage"
	"github.com/highlightai/highlight/internal/tracing"
	"github.com/highlightai/highlight/internal/upload"
	"github.com/highlightai/highlight/internal/warehouse"
	"github.com/highlightai/highlight/pkg/models"
)

// VideoRepository reads video records
type VideoRepository interface {
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	ListVideos(ctx context.Context, limit int) ([]*models.Video, error)
	ListUserVideos(ctx context.Context, userID string, limit int) ([]*models.Video, error)
}

// VideoCache holds recently read videos
type VideoCache interface {
	GetVideo(ctx context.Context, videoID string) (*models.Video, error)
	SetVideo(ctx context.Context, video *models.Video, ttl time.Duration) error
}

// EngagementStore keeps live counters
type EngagementStore interface {
	Like(ctx context.Context, videoID, userID string) (models.Engagement, error)
	Unlike(ctx context.Context, videoID, userID string) (models.Engagement, error)
	RecordView(ctx context.Context, videoID string) (models.Engagement, error)
	Counts(ctx context.Context, videoID string) (models.Engagement, error)
	CountsMany(ctx context.Context, videoIDs []string) (map[string]models.Engagement, error)
	Liked(ctx context.Context, videoID, userID string) (bool, error)
	Subscribe(ctx context.Context, videoID string) (<-chan models.EngagementUpdate, error)
}

// Ingester accepts analytics events
type Ingester interface {
	IngestView(ctx context.Context, meta ingest.Meta, events []models.ViewEvent) error
	IngestUpload(ctx context.Context, meta ingest.Meta, event models.UploadEvent) error
}

// UploadPresigner issues upload URLs
type UploadPresigner interface {
	Presign(ctx context.Context, userID string, req models.PresignRequest) (*models.PresignResponse, error)
}

// EventCounter summarizes stored events of a video
type EventCounter interface {
	EventCounts(ctx context.Context, videoID string) (map[string]uint64, error)
}

// URLSigner issues playback URLs
type URLSigner interface {
	GetURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

type API struct {
	repo       VideoRepository
	cache      VideoCache
	engagement EngagementStore
	ingest     Ingester
	uploads    UploadPresigner
	events     EventCounter
	urls       URLSigner
	logger     *logging.Logger
	health     map[string]HealthCheck
}

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

	closer, err := tracing.Init(cfg.Tracing)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer closer.Close()

	// Initialize JWT secret from config
	middleware.SetJWTSecret(cfg.Auth.JWTSecret)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	repo := database.NewRepository(db)

	// Initialize event warehouse
	events, err := warehouse.New(cfg.ClickHouse)
	if err != nil {
		logger.Fatalf("Failed to connect to ClickHouse: %v", err)
	}
	defer events.Close()

	if err := events.Migrate(ctx); err != nil {
		logger.Fatalf("Failed to migrate ClickHouse: %v", err)
	}

	// Initialize cache
	videoCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer videoCache.Close()

	// Initialize storage
	stor, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	// Initialize queue
	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	engagementStore := engagement.NewStore(videoCache.Client(), logger)

	api := &API{
		repo:       repo,
		cache:      videoCache,
		engagement: engagementStore,
		ingest:     ingest.NewService(events, q, engagementStore, logger),
		uploads:    upload.NewService(repo, stor, cfg.Storage, logger),
		events:     events,
		urls:       stor,
		logger:     logger,
		health: map[string]HealthCheck{
			"postgres":   db.Health,
			"clickhouse": events.Ping,
			"redis":      videoCache.Ping,
		},
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go limiter.Cleanup(ctx, time.Minute, 10*time.Minute)

	router := setupRouter(api, limiter, cfg.CORS.AllowedOrigin)

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorWithErr("Metrics server failed", err)
			}
		}()
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stop()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Server forced to shutdown", err)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info("Server stopped")
}
