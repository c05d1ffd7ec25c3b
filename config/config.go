package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	AWS        AWSConfig
	Webhook    WebhookConfig
	Reconcile  ReconcileConfig
	Candidates CandidatesConfig
	Worker     WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string // postgres | memory
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/reconciler?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings. An empty Addr disables the retry
// queue and cross-instance event fan-out.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the candidate archive bucket.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ArchiveBucket   string
}

// WebhookConfig holds provider webhook settings.
type WebhookConfig struct {
	Secret        string
	Tolerance     time.Duration
	EventPrefix   string
	IgnoredEvents []string
}

// ReconcileConfig holds engine settings.
type ReconcileConfig struct {
	Provider           string
	PlaybackBaseURL    string
	ThumbnailBaseURL   string
	SessionMatchWindow time.Duration
}

// CandidatesConfig controls retention of raw candidate rows.
type CandidatesConfig struct {
	Retention     time.Duration
	BatchSize     int
	PruneInterval time.Duration
}

// WorkerConfig controls the reconcile retry worker.
type WorkerConfig struct {
	MaxRetries int
	Backoff    time.Duration
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	driver := strings.ToLower(getEnv("STORE_DRIVER", StorePostgres))
	if driver != StorePostgres && driver != StoreMemory {
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", driver)
	}
	// The memory driver is for local runs; Redis is opt-in there.
	redisDefault := "localhost:6379"
	if driver == StoreMemory {
		redisDefault = ""
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
		},
		Store: StoreConfig{
			Driver: driver,
		},
		Database: DatabaseConfig{
			URL:      os.Getenv("DATABASE_URL"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "reconciler"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 0)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", redisDefault),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:   getEnv("AWS_S3_ARCHIVE_BUCKET", ""),
		},
		Webhook: WebhookConfig{
			Secret:        getEnv("WEBHOOK_SECRET", ""),
			Tolerance:     getEnvDuration("WEBHOOK_TOLERANCE", 5*time.Minute),
			EventPrefix:   getEnv("WEBHOOK_EVENT_PREFIX", "video.asset."),
			IgnoredEvents: splitTrim(getEnv("WEBHOOK_IGNORED_EVENTS", "video.asset.deleted"), ","),
		},
		Reconcile: ReconcileConfig{
			Provider:           getEnv("RECORDING_PROVIDER", "mux"),
			PlaybackBaseURL:    getEnv("PLAYBACK_BASE_URL", "https://stream.mux.com"),
			ThumbnailBaseURL:   getEnv("THUMBNAIL_BASE_URL", "https://image.mux.com"),
			SessionMatchWindow: getEnvDuration("SESSION_MATCH_WINDOW", 30*time.Minute),
		},
		Candidates: CandidatesConfig{
			Retention:     getEnvDuration("CANDIDATE_RETENTION", 30*24*time.Hour),
			BatchSize:     getEnvInt("CANDIDATE_PRUNE_BATCH", 500),
			PruneInterval: getEnvDuration("CANDIDATE_PRUNE_INTERVAL", time.Hour),
		},
		Worker: WorkerConfig{
			MaxRetries: getEnvInt("WORKER_MAX_RETRIES", 3),
			Backoff:    getEnvDuration("WORKER_RETRY_BACKOFF", 10*time.Second),
		},
	}
	if cfg.Candidates.PruneInterval <= 0 {
		return nil, fmt.Errorf("CANDIDATE_PRUNE_INTERVAL must be positive, got %s", cfg.Candidates.PruneInterval)
	}
	if cfg.Candidates.Retention <= 0 {
		return nil, fmt.Errorf("CANDIDATE_RETENTION must be positive, got %s", cfg.Candidates.Retention)
	}
	return cfg, nil
}

// AllowedOrigins returns the CORS origins as a list.
func (c ServerConfig) AllowedOrigins() []string {
	return splitTrim(c.CORSAllowedOrigins, ",")
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
