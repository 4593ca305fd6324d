// Package pipeline runs a recording through silence trimming, chunking,
// speaker enrollment, per-chunk transcription and speaker assignment, and
// assembles the labelled conversation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/speakerscribe/internal/audio"
	"github.com/maauso/speakerscribe/internal/embedding"
	"github.com/maauso/speakerscribe/internal/metrics"
	"github.com/maauso/speakerscribe/internal/speaker"
	"github.com/maauso/speakerscribe/internal/transcribe"
	"github.com/maauso/speakerscribe/internal/transcript"
)

// Static errors for run-level failures.
var (
	// ErrNoChunks is returned when no chunk is long enough to transcribe.
	ErrNoChunks = errors.New("pipeline: no chunks long enough to transcribe")
	// ErrAllChunksFailed is returned when every dispatched chunk failed.
	ErrAllChunksFailed = errors.New("pipeline: every chunk failed")
	// ErrTooManyFailures is returned when the chunk failure ratio exceeds the limit.
	ErrTooManyFailures = errors.New("pipeline: too many chunks failed")
	// ErrEmptyConversation is returned when transcription produced no segment at all.
	ErrEmptyConversation = errors.New("pipeline: transcription produced no segments")
)

// WaveformLoader reads a recording from disk.
type WaveformLoader interface {
	Load(ctx context.Context, path string) (audio.Waveform, error)
}

// Options configures a Runner.
type Options struct {
	// Language is the hint passed to the transcription service.
	Language string
	Trim     audio.TrimOpts
	Split    audio.SplitOpts
	Assign   speaker.AssignOpts
	// MaxConcurrentChunks bounds the number of chunks in flight.
	MaxConcurrentChunks int
	// MaxChunkFailureRatio is the largest tolerated share of failed chunks.
	// 1.0 fails the run only when every chunk failed.
	MaxChunkFailureRatio float64
}

// DefaultOptions returns the default pipeline options.
func DefaultOptions() Options {
	return Options{
		Language:             "he",
		Trim:                 audio.DefaultTrimOpts(),
		Split:                audio.DefaultSplitOpts(),
		Assign:               speaker.DefaultAssignOpts(),
		MaxConcurrentChunks:  3,
		MaxChunkFailureRatio: 1.0,
	}
}

// Input describes one run.
type Input struct {
	AudioPath   string
	Enrollments []speaker.Enrollment
	// Language overrides Options.Language when set.
	Language string
	// Progress, if set, receives events from worker goroutines and must be
	// safe for concurrent use.
	Progress ProgressFunc
}

// Stats summarises what a run kept and dropped.
type Stats struct {
	InputSeconds     float64
	TrimmedSeconds   float64
	Chunks           int
	ChunksSkipped    int
	ChunksFailed     int
	Segments         int
	SegmentsShort    int
	SegmentsUnknown  int
	SegmentsFailed   int
	SpeakersEnrolled int
	SpeakersSkipped  []speaker.Skipped
}

// Result is the outcome of a successful run.
type Result struct {
	Conversation transcript.Conversation
	// Chunks holds every dispatched chunk's result in index order.
	Chunks []transcript.ChunkResult
	Stats  Stats
}

// Runner executes the transcription pipeline.
type Runner struct {
	loader      WaveformLoader
	splitter    audio.Splitter
	transcriber transcribe.Transcriber
	embedder    embedding.Embedder
	opts        Options
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// RunnerOption is a function that configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// NewRunner creates a Runner.
func NewRunner(loader WaveformLoader, transcriber transcribe.Transcriber, embedder embedding.Embedder, opts Options, ropts ...RunnerOption) *Runner {
	r := &Runner{
		loader:      loader,
		splitter:    audio.NewSizeSplitter(),
		transcriber: transcriber,
		embedder:    embedder,
		opts:        opts,
		logger:      slog.Default(),
	}
	for _, o := range ropts {
		o(r)
	}
	if r.opts.MaxConcurrentChunks <= 0 {
		r.opts.MaxConcurrentChunks = 1
	}
	if r.opts.Split.MaxBytes <= 0 {
		r.opts.Split.MaxBytes = audio.DefaultSplitOpts().MaxBytes
	}
	if r.opts.MaxChunkFailureRatio <= 0 {
		r.opts.MaxChunkFailureRatio = 1.0
	}
	r.transcriber = &instrumentedTranscriber{next: r.transcriber, metrics: r.metrics}
	r.embedder = &instrumentedEmbedder{next: r.embedder, metrics: r.metrics}
	return r
}

// Run loads the recording at in.AudioPath and transcribes it.
func (r *Runner) Run(ctx context.Context, in Input) (res *Result, err error) {
	start := time.Now()
	defer func() { r.metrics.ObserveRun(err, time.Since(start)) }()

	full, err := r.loader.Load(ctx, in.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("load audio: %w", err)
	}
	return r.run(ctx, full, in)
}

func (r *Runner) run(ctx context.Context, full audio.Waveform, in Input) (*Result, error) {
	lang := in.Language
	if lang == "" {
		lang = r.opts.Language
	}
	progress := in.Progress
	if progress == nil {
		progress = func(Event) {}
	}

	res := &Result{}
	res.Stats.InputSeconds = full.Seconds()

	progress(Event{Kind: EventTrimming})
	trimmed, err := audio.NewTrimmer(r.opts.Trim, r.logger).Trim(ctx, full)
	if err != nil {
		return nil, fmt.Errorf("trim silence: %w", err)
	}
	res.Stats.TrimmedSeconds = trimmed.Seconds()
	r.metrics.ObserveTrim(full.Seconds(), trimmed.Seconds())

	all, err := r.splitter.Split(trimmed, r.opts.Split)
	if err != nil {
		return nil, fmt.Errorf("split audio: %w", err)
	}
	chunks := audio.Transcribable(all, r.opts.Split.MinChunkSec, r.logger)
	res.Stats.ChunksSkipped = len(all) - len(chunks)
	for i := 0; i < res.Stats.ChunksSkipped; i++ {
		r.metrics.ObserveChunk(metrics.StatusSkipped)
	}
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	res.Stats.Chunks = len(chunks)

	// Enrollment windows refer to the untrimmed recording.
	progress(Event{Kind: EventEnrolling})
	enrolled, err := speaker.Enroll(ctx, full, in.Enrollments, r.embedder, r.logger)
	if err != nil {
		return nil, err
	}
	res.Stats.SpeakersEnrolled = len(enrolled.Profiles)
	res.Stats.SpeakersSkipped = enrolled.Skipped
	r.metrics.ObserveSpeakers(len(enrolled.Profiles), len(enrolled.Skipped))
	if len(enrolled.Profiles) == 0 {
		return nil, speaker.ErrNoSpeakers
	}

	progress(Event{Kind: EventChunksPlanned, Total: len(chunks)})
	assigner := speaker.NewAssigner(r.embedder, enrolled.Profiles, r.opts.Assign)
	results := r.dispatch(ctx, chunks, assigner, lang, progress)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run cancelled: %w", err)
	}

	if err := r.reduce(results, &res.Stats); err != nil {
		return nil, err
	}

	res.Chunks = results
	res.Conversation = transcript.Assemble(results, trimmed.Seconds())
	if res.Conversation.Len() == 0 {
		return nil, ErrEmptyConversation
	}

	r.logger.Info("transcription run finished",
		slog.Float64("input_sec", res.Stats.InputSeconds),
		slog.Float64("trimmed_sec", res.Stats.TrimmedSeconds),
		slog.Int("chunks", res.Stats.Chunks),
		slog.Int("chunks_failed", res.Stats.ChunksFailed),
		slog.Int("segments", res.Stats.Segments),
		slog.Int("segments_failed", res.Stats.SegmentsFailed),
		slog.Int("speakers", res.Stats.SpeakersEnrolled),
	)
	return res, nil
}

// dispatch processes chunks on a bounded worker pool. Each worker writes
// only its own slot, so results needs no locking.
func (r *Runner) dispatch(ctx context.Context, chunks []audio.Chunk, assigner *speaker.Assigner, lang string, progress ProgressFunc) []transcript.ChunkResult {
	results := make([]transcript.ChunkResult, len(chunks))

	g := new(errgroup.Group)
	g.SetLimit(r.opts.MaxConcurrentChunks)
	for i, c := range chunks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			progress(Event{Kind: EventChunkStarted, Chunk: c.Index, Total: len(chunks)})
			results[i] = r.processChunk(ctx, c, assigner, lang)
			progress(Event{Kind: EventChunkDone, Chunk: c.Index, Total: len(chunks), Err: results[i].Err})
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) processChunk(ctx context.Context, c audio.Chunk, assigner *speaker.Assigner, lang string) transcript.ChunkResult {
	res := transcript.ChunkResult{Index: c.Index, Offset: c.Offset}
	log := r.logger.With(slog.Int("chunk", c.Index), slog.Float64("offset_sec", c.Offset))

	segs, err := r.transcriber.Transcribe(ctx, c.Waveform, lang)
	if err != nil {
		log.Warn("chunk transcription failed", slog.String("error", err.Error()))
		r.metrics.ObserveChunk(metrics.StatusFailed)
		res.Err = err
		return res
	}

	labelled := make([]transcript.Segment, 0, len(segs))
	for _, s := range segs {
		a, err := assigner.Assign(ctx, c.Waveform.SliceSeconds(s.Start, s.End))
		if err != nil {
			if ctx.Err() != nil {
				res.Err = ctx.Err()
				return res
			}
			log.Warn("dropping segment after speaker assignment failure",
				slog.Float64("start_sec", c.Offset+s.Start),
				slog.Float64("end_sec", c.Offset+s.End),
				slog.String("error", err.Error()),
			)
			r.metrics.ObserveSegment("failed")
			res.FailedSegments++
			continue
		}
		r.metrics.ObserveSegment(segmentKind(a))
		labelled = append(labelled, transcript.Segment{
			Start:   s.Start,
			End:     s.End,
			Text:    s.Text,
			Speaker: a.Speaker,
		})
	}

	res.Segments = labelled
	r.metrics.ObserveChunk(metrics.StatusSucceeded)
	log.Debug("chunk transcribed",
		slog.Int("segments", len(labelled)),
		slog.Int("failed_segments", res.FailedSegments),
	)
	return res
}

// reduce folds per-chunk outcomes into stats and decides whether the run
// as a whole failed.
func (r *Runner) reduce(results []transcript.ChunkResult, stats *Stats) error {
	var firstErr error
	for _, res := range results {
		if res.Failed() {
			stats.ChunksFailed++
			if firstErr == nil {
				firstErr = res.Err
			}
			continue
		}
		stats.SegmentsFailed += res.FailedSegments
		for _, s := range res.Segments {
			stats.Segments++
			switch s.Speaker {
			case speaker.LabelTooShort:
				stats.SegmentsShort++
			case speaker.LabelUnknown:
				stats.SegmentsUnknown++
			}
		}
	}

	if stats.ChunksFailed == len(results) {
		return fmt.Errorf("%w (%d chunks): %w", ErrAllChunksFailed, len(results), firstErr)
	}
	ratio := float64(stats.ChunksFailed) / float64(len(results))
	if ratio > r.opts.MaxChunkFailureRatio {
		return fmt.Errorf("%w: %d of %d (limit %.2f)", ErrTooManyFailures, stats.ChunksFailed, len(results), r.opts.MaxChunkFailureRatio)
	}
	if stats.ChunksFailed > 0 {
		r.logger.Warn("some chunks contributed nothing",
			slog.Int("failed", stats.ChunksFailed),
			slog.Int("total", len(results)),
		)
	}
	return nil
}

func segmentKind(a speaker.Assignment) string {
	switch a.Speaker {
	case speaker.LabelTooShort:
		return "short"
	case speaker.LabelUnknown:
		return "unknown"
	default:
		return "assigned"
	}
}
