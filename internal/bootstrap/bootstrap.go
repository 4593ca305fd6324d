// Package bootstrap provides dependency initialization for the speakerscribe
// server and CLI.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maauso/speakerscribe/internal/audio"
	"github.com/maauso/speakerscribe/internal/config"
	"github.com/maauso/speakerscribe/internal/embedding"
	"github.com/maauso/speakerscribe/internal/job"
	"github.com/maauso/speakerscribe/internal/metrics"
	"github.com/maauso/speakerscribe/internal/pipeline"
	"github.com/maauso/speakerscribe/internal/sink"
	"github.com/maauso/speakerscribe/internal/speaker"
	"github.com/maauso/speakerscribe/internal/storage"
	"github.com/maauso/speakerscribe/internal/transcribe"
)

// Dependencies holds all initialized dependencies for the application.
type Dependencies struct {
	Service  *job.TranscriptionService
	Runner   *pipeline.Runner
	Storage  storage.Storage
	Sink     sink.Sink
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
}

// MetricsHandler serves the dependency registry in the Prometheus text format.
func (d *Dependencies) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, err := NewStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	runner, err := NewRunner(cfg, logger, m, store.TempDir())
	if err != nil {
		return nil, err
	}

	out := sink.NewStorageSink(store, logger)
	repo := job.NewMemoryRepository()
	svc := job.NewTranscriptionService(repo, runner, store, out,
		job.WithLogger(logger),
		job.WithTimeout(cfg.JobTimeout),
	)

	return &Dependencies{
		Service:  svc,
		Runner:   runner,
		Storage:  store,
		Sink:     out,
		Metrics:  m,
		Registry: reg,
	}, nil
}

// NewRunner builds the transcription pipeline from configuration.
// Decoded intermediates are written under tempDir.
func NewRunner(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, tempDir string) (*pipeline.Runner, error) {
	transcriber, err := transcribe.NewOpenAIClient(cfg.OpenAIAPIKey,
		transcribe.WithBaseURL(cfg.OpenAIBaseURL),
		transcribe.WithModel(cfg.WhisperModel),
		transcribe.WithMaxRetries(cfg.MaxRetries),
		transcribe.WithMaxUploadBytes(cfg.MaxChunkBytes()),
	)
	if err != nil {
		return nil, fmt.Errorf("create transcription client: %w", err)
	}

	embedOpts := []embedding.ClientOption{embedding.WithMaxRetries(cfg.MaxRetries)}
	if cfg.EmbeddingAPIKey != "" {
		embedOpts = append(embedOpts, embedding.WithAPIKey(cfg.EmbeddingAPIKey))
	}
	embedder, err := embedding.NewClient(cfg.EmbeddingURL, embedOpts...)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}

	loader := audio.NewLoader(audio.NewFFmpegConverter(cfg.FFmpegPath), tempDir)

	return pipeline.NewRunner(loader, transcriber, embedder, PipelineOptions(cfg),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(m),
	), nil
}

// PipelineOptions maps configuration onto pipeline options.
func PipelineOptions(cfg *config.Config) pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.Language = cfg.Language
	opts.Trim.ThresholdDB = cfg.SilenceThresholdDB
	opts.Trim.MarginMs = cfg.SilenceMarginMs
	opts.Trim.WindowSec = cfg.SilenceWindowSec
	opts.Split.MaxBytes = cfg.MaxChunkBytes()
	opts.Split.MinChunkSec = cfg.MinChunkSec
	opts.Assign = speaker.AssignOpts{
		MinSegment:  cfg.MinSegment(),
		MaxDistance: cfg.MaxSpeakerDistance,
	}
	opts.MaxConcurrentChunks = cfg.MaxConcurrentChunks
	opts.MaxChunkFailureRatio = cfg.MaxChunkFailureRatio
	return opts
}

// Store is a storage.Storage that also exposes its temp directory.
type Store interface {
	storage.Storage
	TempDir() string
}

// NewStorage creates the appropriate storage backend based on configuration.
func NewStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(ctx, cfg.TempDir, cfg.OutputDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("output_dir", cfg.OutputDir),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir, cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
		slog.String("output_dir", cfg.OutputDir),
	)
	return localStore, nil
}
