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
	// ErrInvalidPort is returned when PORT is outside the valid TCP range.
	ErrInvalidPort = errors.New("config: PORT must be between 1 and 65535")
	// ErrInvalidMaxBodyBytes is returned when MAX_BODY_BYTES is not positive.
	ErrInvalidMaxBodyBytes = errors.New("config: MAX_BODY_BYTES must be positive")
	// ErrInvalidStepTimeout is returned when STEP_TIMEOUT is not positive.
	ErrInvalidStepTimeout = errors.New("config: STEP_TIMEOUT must be positive")
	// ErrInvalidWriteTimeout is returned when HTTP_WRITE_TIMEOUT or SHUTDOWN_TIMEOUT is not positive.
	ErrInvalidWriteTimeout = errors.New("config: HTTP_WRITE_TIMEOUT and SHUTDOWN_TIMEOUT must be positive")
	// ErrInvalidConcurrency is returned when MAX_CONCURRENT_PIPELINES is negative.
	ErrInvalidConcurrency = errors.New("config: MAX_CONCURRENT_PIPELINES must not be negative")
	// ErrOutroURLRequired is returned when one of the four outro URLs is empty.
	ErrOutroURLRequired = errors.New("config: all four OUTRO_*_URL values are required")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port         int   `env:"PORT, default=8080" json:"port"`
	MaxBodyBytes int64 `env:"MAX_BODY_BYTES, default=209715200" json:"max_body_bytes"`
	// WriteTimeout must cover a whole pipeline run, since the video is the response body.
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT, default=15m" json:"http_write_timeout"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT, default=5m" json:"shutdown_timeout"` // Drain time for in-flight pipelines
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS, default=*" json:"cors_allowed_origins"`

	// Staging root shared by every session
	TempDir string `env:"TEMP_DIR, default=/tmp/outro-api" json:"temp_dir"`

	// Processing settings
	MaxConcurrentPipelines int           `env:"MAX_CONCURRENT_PIPELINES, default=4" json:"max_concurrent_pipelines"`
	StepTimeout            time.Duration `env:"STEP_TIMEOUT, default=2m" json:"step_timeout"`
	MaxSourceBytes         int64         `env:"MAX_SOURCE_BYTES, default=0" json:"max_source_bytes"`       // 0 disables the check
	MaxSourceDuration      time.Duration `env:"MAX_SOURCE_DURATION, default=0s" json:"max_source_duration"` // 0 disables the check
	StaleSessionAge        time.Duration `env:"STALE_SESSION_AGE, default=1h" json:"stale_session_age"`

	// Media tool settings
	FFmpegPath   string        `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath  string        `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`
	EncodePreset string        `env:"ENCODE_PRESET, default=fast" json:"encode_preset"`
	EncodeCRF    int           `env:"ENCODE_CRF, default=23" json:"encode_crf"`
	ThumbnailAt  time.Duration `env:"THUMBNAIL_AT, default=1s" json:"thumbnail_at"`

	// Outro catalog, one asset per tier and orientation. All four are required.
	Outro720LandscapeURL     string `env:"OUTRO_720_LANDSCAPE_URL" json:"outro_720_landscape_url"`
	Outro720PortraitURL      string `env:"OUTRO_720_PORTRAIT_URL" json:"outro_720_portrait_url"`
	OutroDefaultLandscapeURL string `env:"OUTRO_DEFAULT_LANDSCAPE_URL" json:"outro_default_landscape_url"`
	OutroDefaultPortraitURL  string `env:"OUTRO_DEFAULT_PORTRAIT_URL" json:"outro_default_portrait_url"`

	// Download settings
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT, default=60s" json:"fetch_timeout"`
	FetchMaxRetries int           `env:"FETCH_MAX_RETRIES, default=2" json:"fetch_max_retries"`

	// Optional S3 settings for s3:// sources and outros
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	// S3SourceBuckets lists the buckets request videos may name. Outro URLs are not restricted.
	S3SourceBuckets []string `env:"S3_SOURCE_BUCKETS" json:"s3_source_buckets,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that limits are sane and the outro catalog is complete.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.MaxBodyBytes <= 0 {
		return ErrInvalidMaxBodyBytes
	}
	if c.StepTimeout <= 0 {
		return ErrInvalidStepTimeout
	}
	if c.WriteTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return ErrInvalidWriteTimeout
	}
	if c.MaxConcurrentPipelines < 0 {
		return ErrInvalidConcurrency
	}
	for _, u := range []string{
		c.Outro720LandscapeURL,
		c.Outro720PortraitURL,
		c.OutroDefaultLandscapeURL,
		c.OutroDefaultPortraitURL,
	} {
		if strings.TrimSpace(u) == "" {
			return ErrOutroURLRequired
		}
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
		"Config{Port: %d, TempDir: %s, MaxConcurrentPipelines: %d, StepTimeout: %s, FFmpegPath: %s, FFprobePath: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.MaxConcurrentPipelines,
		c.StepTimeout,
		c.FFmpegPath,
		c.FFprobePath,
		c.S3Region,
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
