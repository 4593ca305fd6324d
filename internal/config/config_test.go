package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requiredEnv() map[string]string {
	return map[string]string{
		"OPENAI_API_KEY": "sk-test",
		"EMBEDDING_URL":  "http://embedder:8000/embed",
	}
}

func TestLoad_RequiredVariables(t *testing.T) {
	// Clear all environment variables
	clearEnv := func() {
		for _, k := range []string{"PORT", "OPENAI_API_KEY", "EMBEDDING_URL", "TEMP_DIR", "OUTPUT_DIR",
			"MAX_CHUNK_MB", "S3_BUCKET", "S3_REGION", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY",
			"LOG_FORMAT", "LOG_LEVEL"} {
			_ = os.Unsetenv(k)
		}
	}

	t.Run("missing OPENAI_API_KEY returns error", func(t *testing.T) {
		clearEnv()
		t.Setenv("EMBEDDING_URL", "http://embedder:8000/embed")

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrOpenAIAPIKeyRequired)
	})

	t.Run("missing EMBEDDING_URL returns error", func(t *testing.T) {
		clearEnv()
		t.Setenv("OPENAI_API_KEY", "sk-test")

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEmbeddingURLRequired)
	})

	t.Run("all required variables present succeeds", func(t *testing.T) {
		clearEnv()
		t.Setenv("OPENAI_API_KEY", "sk-test")
		t.Setenv("EMBEDDING_URL", "http://embedder:8000/embed")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
		assert.Equal(t, "http://embedder:8000/embed", cfg.EmbeddingURL)
	})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(requiredEnv()))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 500, cfg.MaxUploadMB)
	assert.Equal(t, "https://api.openai.com/v1", cfg.OpenAIBaseURL)
	assert.Equal(t, "whisper-1", cfg.WhisperModel)
	assert.Equal(t, "he", cfg.Language)
	assert.Equal(t, "/tmp/speakerscribe", cfg.TempDir)
	assert.Equal(t, "./transcripts", cfg.OutputDir)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, 10, cfg.MaxChunkMB)
	assert.Equal(t, 3, cfg.MaxConcurrentChunks)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, -10.0, cfg.SilenceThresholdDB)
	assert.Equal(t, 500, cfg.SilenceMarginMs)
	assert.Equal(t, 800, cfg.SilenceWindowSec)
	assert.Equal(t, 1.0, cfg.MinChunkSec)
	assert.Equal(t, 400, cfg.MinSegmentMs)
	assert.Equal(t, 0.0, cfg.MaxSpeakerDistance)
	assert.Equal(t, 1.0, cfg.MaxChunkFailureRatio)
	assert.Equal(t, 2*time.Hour, cfg.JobTimeout)
	assert.Equal(t, 24*time.Hour, cfg.JobRetention)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)

	assert.Equal(t, int64(10*1024*1024), cfg.MaxChunkBytes())
	assert.Equal(t, int64(500*1024*1024), cfg.MaxUploadBytes())
	assert.Equal(t, 400*time.Millisecond, cfg.MinSegment())
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "custom-key")
	t.Setenv("EMBEDDING_URL", "http://localhost:9000/embed")
	t.Setenv("PORT", "3000")
	t.Setenv("LANGUAGE", "en")
	t.Setenv("TEMP_DIR", "/custom/temp")
	t.Setenv("OUTPUT_DIR", "/custom/out")
	t.Setenv("MAX_CHUNK_MB", "20")
	t.Setenv("MAX_SPEAKER_DISTANCE", "0.6")
	t.Setenv("MAX_CHUNK_FAILURE_RATIO", "0.25")
	t.Setenv("JOB_TIMEOUT", "45m")
	t.Setenv("JOB_RETENTION", "0s")
	t.Setenv("S3_BUCKET", "my-bucket")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "access-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret-key")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "en", cfg.Language)
	assert.Equal(t, "/custom/temp", cfg.TempDir)
	assert.Equal(t, "/custom/out", cfg.OutputDir)
	assert.Equal(t, 20, cfg.MaxChunkMB)
	assert.Equal(t, 0.6, cfg.MaxSpeakerDistance)
	assert.Equal(t, 0.25, cfg.MaxChunkFailureRatio)
	assert.Equal(t, 45*time.Minute, cfg.JobTimeout)
	assert.Zero(t, cfg.JobRetention)
	assert.Equal(t, "my-bucket", cfg.S3Bucket)
	assert.Equal(t, "us-east-1", cfg.S3Region)
	assert.Equal(t, "access-key", cfg.AWSAccessKeyID)
	assert.Equal(t, "secret-key", cfg.AWSSecretAccessKey)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port not a number", "PORT", "not-a-number"},
		{"duration not parseable", "JOB_TIMEOUT", "soon"},
		{"zero chunk size", "MAX_CHUNK_MB", "0"},
		{"chunk above transcription upload limit", "MAX_CHUNK_MB", "30"},
		{"zero concurrency", "MAX_CONCURRENT_CHUNKS", "0"},
		{"negative retries", "MAX_RETRIES", "-1"},
		{"ratio above one", "MAX_CHUNK_FAILURE_RATIO", "1.5"},
		{"negative distance", "MAX_SPEAKER_DISTANCE", "-0.1"},
		{"negative retention", "JOB_RETENTION", "-1h"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := requiredEnv()
			env[tt.key] = tt.value

			_, err := load(context.Background(), envconfig.MapLookuper(env))
			require.Error(t, err)
		})
	}
}

func TestLoad_ChunkSizeFitsTranscriptionUpload(t *testing.T) {
	env := requiredEnv()
	env["MAX_CHUNK_MB"] = strconv.Itoa(MaxTranscriptionUploadMB)

	cfg, err := load(context.Background(), envconfig.MapLookuper(env))
	require.NoError(t, err)
	assert.Equal(t, int64(MaxTranscriptionUploadMB)*1024*1024, cfg.MaxChunkBytes())

	env["MAX_CHUNK_MB"] = strconv.Itoa(MaxTranscriptionUploadMB + 1)
	_, err = load(context.Background(), envconfig.MapLookuper(env))
	require.ErrorIs(t, err, ErrInvalidValue)
	assert.Contains(t, err.Error(), "MAX_CHUNK_MB")
}

func TestConfig_S3Enabled(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		region   string
		expected bool
	}{
		{"both set", "bucket", "region", true},
		{"only bucket", "bucket", "", false},
		{"only region", "", "region", false},
		{"neither set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				S3Bucket: tt.bucket,
				S3Region: tt.region,
			}
			assert.Equal(t, tt.expected, cfg.S3Enabled())
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		Port:               8080,
		OpenAIAPIKey:       "sk-secret",
		EmbeddingURL:       "http://embedder/embed",
		EmbeddingAPIKey:    "embed-secret",
		TempDir:            "/tmp/test",
		AWSSecretAccessKey: "aws-secret",
		S3Bucket:           "bucket",
		S3Region:           "region",
		LogFormat:          "json",
		LogLevel:           "info",
	}

	str := cfg.String()

	// Should contain non-sensitive values
	assert.Contains(t, str, "8080")
	assert.Contains(t, str, "http://embedder/embed")
	assert.Contains(t, str, "/tmp/test")

	// Should NOT contain sensitive values
	assert.NotContains(t, str, "sk-secret")
	assert.NotContains(t, str, "embed-secret")
	assert.NotContains(t, str, "aws-secret")
}

func TestConfig_NewLogger(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		t.Run(format, func(t *testing.T) {
			cfg := &Config{LogFormat: format, LogLevel: "warn"}

			logger := cfg.NewLogger()
			require.NotNil(t, logger)
			assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
			assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
		})
	}
}

func TestConfig_NewLoggerTo(t *testing.T) {
	var buf bytes.Buffer
	cfg := &Config{LogFormat: "json", LogLevel: "info"}

	cfg.NewLoggerTo(&buf).Info("test message", slog.String("job_id", "job-1"))

	assert.Contains(t, buf.String(), `"msg":"test message"`)
	assert.Contains(t, buf.String(), `"job_id":"job-1"`)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			OpenAIAPIKey:         "key",
			EmbeddingURL:         "http://embedder",
			MaxChunkMB:           10,
			MaxConcurrentChunks:  3,
			MaxChunkFailureRatio: 1,
		}
	}

	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing API key", func(t *testing.T) {
		cfg := valid()
		cfg.OpenAIAPIKey = ""
		assert.ErrorIs(t, cfg.Validate(), ErrOpenAIAPIKeyRequired)
	})

	t.Run("missing embedding URL", func(t *testing.T) {
		cfg := valid()
		cfg.EmbeddingURL = ""
		assert.ErrorIs(t, cfg.Validate(), ErrEmbeddingURLRequired)
	})

	t.Run("zero failure ratio", func(t *testing.T) {
		cfg := valid()
		cfg.MaxChunkFailureRatio = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidValue)
	})
}
