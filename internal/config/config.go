// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrOpenAIAPIKeyRequired is returned when OPENAI_API_KEY is not set.
	ErrOpenAIAPIKeyRequired = errors.New("config: OPENAI_API_KEY is required")
	// ErrEmbeddingURLRequired is returned when EMBEDDING_URL is not set.
	ErrEmbeddingURLRequired = errors.New("config: EMBEDDING_URL is required")
	// ErrInvalidValue is returned when a numeric setting is out of range.
	ErrInvalidValue = errors.New("config: invalid value")
)

// MaxTranscriptionUploadMB is the largest clip the hosted Whisper endpoint
// accepts. Chunks are sized to fit it.
const MaxTranscriptionUploadMB = 25

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port        int `env:"PORT, default=8080" json:"port"`
	MaxUploadMB int `env:"MAX_UPLOAD_MB, default=500" json:"max_upload_mb"`

	// Transcription service
	OpenAIAPIKey  string `env:"OPENAI_API_KEY, required" json:"-"` // Masked in JSON
	OpenAIBaseURL string `env:"OPENAI_BASE_URL, default=https://api.openai.com/v1" json:"openai_base_url"`
	WhisperModel  string `env:"WHISPER_MODEL, default=whisper-1" json:"whisper_model"`
	Language      string `env:"LANGUAGE, default=he" json:"language"`

	// Speaker embedding service
	EmbeddingURL    string `env:"EMBEDDING_URL, required" json:"embedding_url"`
	EmbeddingAPIKey string `env:"EMBEDDING_API_KEY" json:"-"` // Masked in JSON

	// Storage settings
	TempDir    string `env:"TEMP_DIR, default=/tmp/speakerscribe" json:"temp_dir"`
	OutputDir  string `env:"OUTPUT_DIR, default=./transcripts" json:"output_dir"`
	FFmpegPath string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`

	// Processing settings
	MaxChunkMB           int           `env:"MAX_CHUNK_MB, default=10" json:"max_chunk_mb"`
	MaxConcurrentChunks  int           `env:"MAX_CONCURRENT_CHUNKS, default=3" json:"max_concurrent_chunks"`
	MaxRetries           int           `env:"MAX_RETRIES, default=3" json:"max_retries"`
	SilenceThresholdDB   float64       `env:"SILENCE_THRESHOLD_DB, default=-10" json:"silence_threshold_db"`
	SilenceMarginMs      int           `env:"SILENCE_MARGIN_MS, default=500" json:"silence_margin_ms"`
	SilenceWindowSec     int           `env:"SILENCE_WINDOW_SEC, default=800" json:"silence_window_sec"`
	MinChunkSec          float64       `env:"MIN_CHUNK_SEC, default=1" json:"min_chunk_sec"`
	MinSegmentMs         int           `env:"MIN_SEGMENT_MS, default=400" json:"min_segment_ms"`
	MaxSpeakerDistance   float64       `env:"MAX_SPEAKER_DISTANCE, default=0" json:"max_speaker_distance"`
	MaxChunkFailureRatio float64       `env:"MAX_CHUNK_FAILURE_RATIO, default=1.0" json:"max_chunk_failure_ratio"`
	JobTimeout           time.Duration `env:"JOB_TIMEOUT, default=2h" json:"job_timeout"`
	JobRetention         time.Duration `env:"JOB_RETENTION, default=24h" json:"job_retention"` // 0 keeps jobs forever

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// MaxChunkBytes returns the chunk size limit in bytes.
func (c *Config) MaxChunkBytes() int64 {
	return int64(c.MaxChunkMB) * 1024 * 1024
}

// MaxUploadBytes returns the upload size limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// MinSegment returns the shortest segment that is sent for embedding.
func (c *Config) MinSegment() time.Duration {
	return time.Duration(c.MinSegmentMs) * time.Millisecond
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set or a value is out of range.
func Load() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: cfg, Lookuper: lookuper}); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "OPENAI_API_KEY") {
			return nil, ErrOpenAIAPIKeyRequired
		}
		if strings.Contains(err.Error(), "EMBEDDING_URL") {
			return nil, ErrEmbeddingURLRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and that
// numeric settings are usable.
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return ErrOpenAIAPIKeyRequired
	}
	if c.EmbeddingURL == "" {
		return ErrEmbeddingURLRequired
	}
	switch {
	case c.MaxChunkMB <= 0:
		return fmt.Errorf("%w: MAX_CHUNK_MB must be positive, got %d", ErrInvalidValue, c.MaxChunkMB)
	case c.MaxChunkMB > MaxTranscriptionUploadMB:
		return fmt.Errorf("%w: MAX_CHUNK_MB must not exceed the %d MB transcription upload limit, got %d",
			ErrInvalidValue, MaxTranscriptionUploadMB, c.MaxChunkMB)
	case c.MaxConcurrentChunks <= 0:
		return fmt.Errorf("%w: MAX_CONCURRENT_CHUNKS must be positive, got %d", ErrInvalidValue, c.MaxConcurrentChunks)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: MAX_RETRIES must not be negative, got %d", ErrInvalidValue, c.MaxRetries)
	case c.MaxChunkFailureRatio <= 0 || c.MaxChunkFailureRatio > 1:
		return fmt.Errorf("%w: MAX_CHUNK_FAILURE_RATIO must be in (0, 1], got %v", ErrInvalidValue, c.MaxChunkFailureRatio)
	case c.MaxSpeakerDistance < 0:
		return fmt.Errorf("%w: MAX_SPEAKER_DISTANCE must not be negative, got %v", ErrInvalidValue, c.MaxSpeakerDistance)
	case c.MinSegmentMs < 0:
		return fmt.Errorf("%w: MIN_SEGMENT_MS must not be negative, got %d", ErrInvalidValue, c.MinSegmentMs)
	case c.JobRetention < 0:
		return fmt.Errorf("%w: JOB_RETENTION must not be negative, got %s", ErrInvalidValue, c.JobRetention)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.NewLoggerTo(os.Stdout)
}

// NewLoggerTo is NewLogger writing to w.
func (c *Config) NewLoggerTo(w io.Writer) *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, OpenAIBaseURL: %s, WhisperModel: %s, Language: %s, EmbeddingURL: %s, TempDir: %s, OutputDir: %s, MaxChunkMB: %d, MaxConcurrentChunks: %d, JobTimeout: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.OpenAIBaseURL,
		c.WhisperModel,
		c.Language,
		c.EmbeddingURL,
		c.TempDir,
		c.OutputDir,
		c.MaxChunkMB,
		c.MaxConcurrentChunks,
		c.JobTimeout,
		c.S3Bucket,
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
