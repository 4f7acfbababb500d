// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidUploadAttempts is returned when UPLOAD_MAX_ATTEMPTS is below 1.
	ErrInvalidUploadAttempts = errors.New("config: UPLOAD_MAX_ATTEMPTS must be at least 1")
	// ErrInvalidUploadJitter is returned when UPLOAD_JITTER is outside [0,1].
	ErrInvalidUploadJitter = errors.New("config: UPLOAD_JITTER must be between 0 and 1")
	// ErrInvalidPollBudget is returned when POLL_INTERVAL or POLL_TIMEOUT is not positive.
	ErrInvalidPollBudget = errors.New("config: POLL_INTERVAL and POLL_TIMEOUT must be positive")
	// ErrInvalidS3Config is returned when only one of S3_BUCKET and S3_REGION is set.
	ErrInvalidS3Config = errors.New("config: S3_BUCKET and S3_REGION must be set together")
	// ErrInvalidResultMaxBytes is returned when RESULT_MAX_BYTES is not positive.
	ErrInvalidResultMaxBytes = errors.New("config: RESULT_MAX_BYTES must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Persistence settings
	DatabaseURL string `env:"DATABASE_URL" json:"-"` // Masked in JSON
	PGMaxConns  int32  `env:"PG_MAX_CONNS, default=10" json:"pg_max_conns"`
	PGMinConns  int32  `env:"PG_MIN_CONNS, default=1" json:"pg_min_conns"`

	// Poll queue settings
	NATSURL string `env:"NATS_URL" json:"nats_url,omitempty"`

	// Catalog settings
	CatalogFile string `env:"CATALOG_FILE, default=catalog.yaml" json:"catalog_file"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3PublicBaseURL    string `env:"S3_PUBLIC_BASE_URL" json:"s3_public_base_url,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Local storage fallback
	StorageDir           string `env:"STORAGE_DIR, default=/tmp/mediagen" json:"storage_dir"`
	StoragePublicBaseURL string `env:"STORAGE_PUBLIC_BASE_URL, default=http://localhost:8080/files" json:"storage_public_base_url"`

	// Upload retry settings
	UploadMaxAttempts int           `env:"UPLOAD_MAX_ATTEMPTS, default=5" json:"upload_max_attempts"`
	UploadBaseDelay   time.Duration `env:"UPLOAD_BASE_DELAY, default=2s" json:"upload_base_delay"`
	UploadMaxDelay    time.Duration `env:"UPLOAD_MAX_DELAY, default=60s" json:"upload_max_delay"`
	UploadJitter      float64       `env:"UPLOAD_JITTER, default=0.25" json:"upload_jitter"`

	// Largest provider result downloaded for re-hosting
	ResultMaxBytes int64 `env:"RESULT_MAX_BYTES, default=536870912" json:"result_max_bytes"`

	// Poller settings
	PollInterval      time.Duration `env:"POLL_INTERVAL, default=5s" json:"poll_interval"`
	PollTimeout       time.Duration `env:"POLL_TIMEOUT, default=30m" json:"poll_timeout"`
	PollMaxConcurrent int64         `env:"POLL_MAX_CONCURRENT, default=64" json:"poll_max_concurrent"`

	// Cache settings
	TaskCacheMB int64 `env:"TASK_CACHE_MB, default=16" json:"task_cache_mb"`

	// Telemetry settings
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" json:"otlp_endpoint,omitempty"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// PostgresEnabled returns true if a database DSN is configured.
func (c *Config) PostgresEnabled() bool {
	return c.DatabaseURL != ""
}

// NATSEnabled returns true if a JetStream URL is configured.
func (c *Config) NATSEnabled() bool {
	return c.NATSURL != ""
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.UploadMaxAttempts < 1 {
		return ErrInvalidUploadAttempts
	}
	if c.UploadJitter < 0 || c.UploadJitter > 1 {
		return ErrInvalidUploadJitter
	}
	if c.ResultMaxBytes <= 0 {
		return ErrInvalidResultMaxBytes
	}
	if c.PollInterval <= 0 || c.PollTimeout <= 0 {
		return ErrInvalidPollBudget
	}
	if (c.S3Bucket == "") != (c.S3Region == "") {
		return ErrInvalidS3Config
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, Postgres: %t, NATS: %t, CatalogFile: %s, S3Bucket: %s, S3Region: %s, StorageDir: %s, UploadMaxAttempts: %d, PollInterval: %s, PollTimeout: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.PostgresEnabled(),
		c.NATSEnabled(),
		c.CatalogFile,
		c.S3Bucket,
		c.S3Region,
		c.StorageDir,
		c.UploadMaxAttempts,
		c.PollInterval,
		c.PollTimeout,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
