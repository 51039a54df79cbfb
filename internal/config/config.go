package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the environment driven configuration for the upload service.
type Config struct {
	// Service Configuration
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"upload-api"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	HTTPPort        int           `env:"UPLOAD_API_PORT" envDefault:"8290"`
	LogLevel        string        `env:"UPLOAD_LOG_LEVEL" envDefault:"info"`
	EnableTracing   bool          `env:"ENABLE_TRACING" envDefault:"false"`
	OTLPEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	TraceSampleRate float64       `env:"OTEL_TRACE_SAMPLE_RATE" envDefault:"1.0"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Database (required, no default)
	DBPostgresqlWriteDSN string `env:"DB_POSTGRESQL_WRITE_DSN,notEmpty"`

	// Database Connection Pool
	DBMaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBMaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"15"`
	DBConnLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	// S3 Storage Configuration
	S3Endpoint       string        `env:"UPLOAD_S3_ENDPOINT" envDefault:"https://s3.menlo.ai"`
	S3PublicEndpoint string        `env:"UPLOAD_S3_PUBLIC_ENDPOINT"`
	S3Region         string        `env:"UPLOAD_S3_REGION" envDefault:"us-west-2"`
	S3Bucket         string        `env:"UPLOAD_S3_BUCKET"`
	S3AccessKeyID    string        `env:"UPLOAD_S3_ACCESS_KEY_ID"`
	S3SecretKey      string        `env:"UPLOAD_S3_SECRET_ACCESS_KEY"`
	S3UsePathStyle   bool          `env:"UPLOAD_S3_USE_PATH_STYLE" envDefault:"true"`
	S3PresignTTL     time.Duration `env:"UPLOAD_S3_PRESIGN_TTL" envDefault:"1h"`

	// Upload planning. Chunk size defaults to 8 MiB with the 5 MiB
	// object store floor as the minimum part size.
	ChunkSize   int64 `env:"UPLOAD_CHUNK_SIZE" envDefault:"8388608"`
	MinPartSize int64 `env:"UPLOAD_MIN_PART_SIZE" envDefault:"5242880"`
	MaxParts    int   `env:"UPLOAD_MAX_PARTS" envDefault:"10000"`

	// Content policy. JSON map of content type to max bytes; empty entries
	// fall back to UPLOAD_MAX_BYTES (5 GiB default).
	AllowedTypes  string `env:"UPLOAD_ALLOWED_TYPES" envDefault:""`
	MaxMediaBytes int64  `env:"UPLOAD_MAX_BYTES" envDefault:"5368709120"`

	// Client transfer behavior
	MaxRetries       int           `env:"UPLOAD_MAX_RETRIES" envDefault:"3"`
	RetryBackoffBase time.Duration `env:"UPLOAD_RETRY_BACKOFF_BASE" envDefault:"1s"`
	RetryBackoffMax  time.Duration `env:"UPLOAD_RETRY_BACKOFF_MAX" envDefault:"30s"`
	MaxConcurrent    int           `env:"UPLOAD_MAX_CONCURRENT" envDefault:"3"`
	ProgressInterval time.Duration `env:"UPLOAD_PROGRESS_INTERVAL" envDefault:"200ms"`

	// Analysis pipeline handoff
	AnalysisWebhookURL  string        `env:"ANALYSIS_WEBHOOK_URL"`
	AnalysisWorkerCount int           `env:"ANALYSIS_WORKER_COUNT" envDefault:"2"`
	AnalysisPollEvery   time.Duration `env:"ANALYSIS_POLL_INTERVAL" envDefault:"2s"`
	AnalysisMaxAttempts int           `env:"ANALYSIS_MAX_ATTEMPTS" envDefault:"5"`
	AnalysisTimeout     time.Duration `env:"ANALYSIS_DISPATCH_TIMEOUT" envDefault:"30s"`

	// Stranded handoff recovery. Uploaded records older than this whose
	// analysis trigger never enqueued are re-dispatched at startup.
	StrandedAfter      time.Duration `env:"UPLOAD_STRANDED_AFTER" envDefault:"5m"`
	StrandedSweepLimit int           `env:"UPLOAD_STRANDED_SWEEP_LIMIT" envDefault:"500"`

	// Authentication. With auth disabled every request is attributed to
	// DevOwnerID so local flows still resume and list consistently.
	AuthEnabled  bool   `env:"AUTH_ENABLED" envDefault:"false"`
	AuthIssuer   string `env:"AUTH_ISSUER"`
	AuthAudience string `env:"AUTH_AUDIENCE"`
	AuthJWKSURL  string `env:"AUTH_JWKS_URL"`
	DevOwnerID   string `env:"DEV_OWNER_ID" envDefault:"anonymous"`
}

// defaultAllowedTypes is used when UPLOAD_ALLOWED_TYPES is not set.
// Zero means "use MaxMediaBytes".
var defaultAllowedTypes = map[string]int64{
	"video/mp4":       0,
	"video/quicktime": 0,
	"video/webm":      0,
	"image/jpeg":      50 * 1024 * 1024,
	"image/png":       50 * 1024 * 1024,
	"image/webp":      50 * 1024 * 1024,
	"audio/mpeg":      500 * 1024 * 1024,
	"audio/wav":       500 * 1024 * 1024,
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	cfg.S3Bucket = strings.TrimSpace(cfg.S3Bucket)
	cfg.S3AccessKeyID = strings.TrimSpace(cfg.S3AccessKeyID)
	cfg.S3SecretKey = strings.TrimSpace(cfg.S3SecretKey)
	cfg.S3Endpoint = strings.TrimSpace(cfg.S3Endpoint)
	cfg.S3PublicEndpoint = strings.TrimSpace(cfg.S3PublicEndpoint)
	cfg.AnalysisWebhookURL = strings.TrimSpace(cfg.AnalysisWebhookURL)

	if cfg.MaxMediaBytes <= 0 {
		cfg.MaxMediaBytes = 5 * 1024 * 1024 * 1024
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 8 * 1024 * 1024
	}
	if cfg.MinPartSize <= 0 {
		cfg.MinPartSize = 5 * 1024 * 1024
	}
	if cfg.ChunkSize < cfg.MinPartSize {
		return nil, fmt.Errorf("UPLOAD_CHUNK_SIZE (%d) must be at least UPLOAD_MIN_PART_SIZE (%d)", cfg.ChunkSize, cfg.MinPartSize)
	}
	if cfg.MaxParts <= 0 {
		cfg.MaxParts = 10000
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.AnalysisWorkerCount <= 0 {
		cfg.AnalysisWorkerCount = 2
	}
	if cfg.TraceSampleRate < 0 || cfg.TraceSampleRate > 1 {
		cfg.TraceSampleRate = 1.0
	}
	if cfg.AuthEnabled {
		if strings.TrimSpace(cfg.AuthIssuer) == "" {
			return nil, fmt.Errorf("AUTH_ISSUER is required when AUTH_ENABLED is true")
		}
		if strings.TrimSpace(cfg.AuthJWKSURL) == "" {
			return nil, fmt.Errorf("AUTH_JWKS_URL is required when AUTH_ENABLED is true")
		}
	}
	return cfg, nil
}

// GetDatabaseWriteDSN returns the write database connection string.
func (c *Config) GetDatabaseWriteDSN() string {
	return c.DBPostgresqlWriteDSN
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// AllowedContentTypes returns the content type allow-list with per-type
// max sizes resolved against MaxMediaBytes.
func (c *Config) AllowedContentTypes() (map[string]int64, error) {
	types := make(map[string]int64)
	raw := strings.TrimSpace(c.AllowedTypes)
	if raw == "" {
		for mime, limit := range defaultAllowedTypes {
			types[mime] = limit
		}
	} else {
		if err := json.Unmarshal([]byte(raw), &types); err != nil {
			return nil, fmt.Errorf("parse UPLOAD_ALLOWED_TYPES: %w", err)
		}
	}
	for mime, limit := range types {
		if limit <= 0 || limit > c.MaxMediaBytes {
			types[mime] = c.MaxMediaBytes
		}
	}
	return types, nil
}
