package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Queue      QueueConfig
	Auth       AuthConfig
	Analytics  AnalyticsConfig
	Metrics    MetricsConfig
	Tracing    TracingConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
	CORS       CORSConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// ClickHouseConfig holds the event warehouse configuration
type ClickHouseConfig struct {
	Host        string
	Port        int
	Database    string
	Username    string
	Password    string
	DialTimeout time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	PresignExpiry   time.Duration
	MaxUploadSize   int64
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// AuthConfig holds token verification settings
type AuthConfig struct {
	JWTSecret string
}

// AnalyticsConfig holds client-side analytics pipeline settings
type AnalyticsConfig struct {
	Endpoint            string
	FlushInterval       time.Duration
	ProgressInterval    float64
	CompletionThreshold float64
	RequestTimeout      time.Duration
	GeoURL              string
	GeoTimeout          time.Duration
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// TracingConfig holds Jaeger settings
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// RateLimitConfig holds per-client ingest limits
type RateLimitConfig struct {
	RPS   int
	Burst int
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// CORSConfig holds the browser origin allowed to call the API
type CORSConfig struct {
	AllowedOrigin string
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Analytics.FlushInterval <= 0 {
		return fmt.Errorf("analytics.flushInterval must be positive, got %s", c.Analytics.FlushInterval)
	}
	if c.Analytics.ProgressInterval <= 0 {
		return fmt.Errorf("analytics.progressInterval must be positive, got %v", c.Analytics.ProgressInterval)
	}
	if c.Analytics.CompletionThreshold < 0 {
		return fmt.Errorf("analytics.completionThreshold must not be negative, got %v", c.Analytics.CompletionThreshold)
	}
	if c.Storage.MaxUploadSize <= 0 {
		return fmt.Errorf("storage.maxUploadSize must be positive, got %d", c.Storage.MaxUploadSize)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.shutdownTimeout", "10s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "highlight")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// ClickHouse defaults
	v.SetDefault("clickhouse.host", "localhost")
	v.SetDefault("clickhouse.port", 9000)
	v.SetDefault("clickhouse.database", "analytics")
	v.SetDefault("clickhouse.username", "default")
	v.SetDefault("clickhouse.password", "")
	v.SetDefault("clickhouse.dialTimeout", "5s")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Storage defaults
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "videos")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)
	v.SetDefault("storage.presignExpiry", "15m")
	v.SetDefault("storage.maxUploadSize", 500*1024*1024) // 500MB

	// Queue defaults
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")

	v.SetDefault("auth.jwtSecret", "")

	// Analytics defaults
	v.SetDefault("analytics.endpoint", "http://localhost:8080")
	v.SetDefault("analytics.flushInterval", "10s")
	v.SetDefault("analytics.progressInterval", 5.0)
	v.SetDefault("analytics.completionThreshold", 0.5)
	v.SetDefault("analytics.requestTimeout", "10s")
	v.SetDefault("analytics.geoURL", "")
	v.SetDefault("analytics.geoTimeout", "3s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "highlight")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")

	v.SetDefault("rateLimit.rps", 20)
	v.SetDefault("rateLimit.burst", 40)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("cors.allowedOrigin", "http://localhost:5173")
}
