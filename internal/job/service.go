package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/speakerscribe/internal/pipeline"
	"github.com/maauso/speakerscribe/internal/sink"
	"github.com/maauso/speakerscribe/internal/speaker"
	"github.com/maauso/speakerscribe/internal/storage"
)

// ErrJobNotRunning is returned by CancelJob for jobs that have no run in flight.
var ErrJobNotRunning = errors.New("job is not running")

// Runner runs the transcription pipeline. *pipeline.Runner implements it.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input) (*pipeline.Result, error)
}

// CreateJobInput contains the parameters of a transcription request.
type CreateJobInput struct {
	// AudioName is the client-supplied file name, used as an extension hint.
	AudioName string
	// Audio is the recording body.
	Audio io.Reader
	// Enrollments are the speaker windows in client order.
	Enrollments []speaker.Enrollment
	// Recipient travels with the delivery.
	Recipient string
	// Language overrides the configured language hint when set.
	Language string
}

// Progress milestones reported before chunk work starts.
const (
	progressTrimming  = 5
	progressEnrolling = 10
	progressChunkSpan = 85
)

// TranscriptionService owns the lifecycle of transcription jobs: it stores
// uploads, runs the pipeline in the background and delivers the results.
type TranscriptionService struct {
	repo    Repository
	runner  Runner
	store   storage.Storage
	sink    sink.Sink
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// ServiceOption configures a TranscriptionService.
type ServiceOption func(*TranscriptionService)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *TranscriptionService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeout bounds how long a single job may run. Zero means no limit.
func WithTimeout(d time.Duration) ServiceOption {
	return func(s *TranscriptionService) {
		s.timeout = d
	}
}

// NewTranscriptionService creates a new TranscriptionService.
func NewTranscriptionService(repo Repository, runner Runner, store storage.Storage, out sink.Sink, opts ...ServiceOption) *TranscriptionService {
	s := &TranscriptionService{
		repo:    repo,
		runner:  runner,
		store:   store,
		sink:    out,
		logger:  slog.Default(),
		cancels: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob stores the upload and persists a new job in IN_QUEUE status.
func (s *TranscriptionService) CreateJob(ctx context.Context, input CreateJobInput) (*Job, error) {
	job := New()
	log := s.logger.With(slog.String("job_id", job.ID))

	audioPath, err := s.store.SaveTemp(ctx, input.AudioName, input.Audio)
	if err != nil {
		return nil, fmt.Errorf("save audio: %w", err)
	}
	hash, err := storage.FingerprintFile(audioPath)
	if err != nil {
		_ = s.store.CleanupTemp(ctx, []string{audioPath})
		return nil, fmt.Errorf("fingerprint audio: %w", err)
	}

	job.AudioPath = audioPath
	job.AudioName = input.AudioName
	job.AudioHash = hash
	job.Recipient = input.Recipient
	job.Language = input.Language
	job.Enrollments = append([]speaker.Enrollment(nil), input.Enrollments...)

	log.Info("creating new job",
		slog.String("audio", input.AudioName),
		slog.String("audio_hash", hash),
		slog.Int("speakers", len(input.Enrollments)),
		slog.String("recipient", input.Recipient),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		log.Error("failed to save job", slog.String("error", err.Error()))
		_ = s.store.CleanupTemp(ctx, []string{audioPath})
		return nil, err
	}
	return job.Clone(), nil
}

// GetJob retrieves a job by ID.
func (s *TranscriptionService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns every known job.
func (s *TranscriptionService) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// PruneJobs forgets finished jobs that completed before cutoff and returns
// how many were removed. Delivered transcripts are left in place.
func (s *TranscriptionService) PruneJobs(ctx context.Context, cutoff time.Time) (int, error) {
	jobs, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}
	removed := 0
	for _, job := range jobs {
		if !job.IsTerminal() || job.CompletedAt.IsZero() || !job.CompletedAt.Before(cutoff) {
			continue
		}
		if err := s.repo.Delete(ctx, job.ID); err != nil && !errors.Is(err, ErrJobNotFound) {
			return removed, fmt.Errorf("delete job %s: %w", job.ID, err)
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("pruned finished jobs", slog.Int("count", removed), slog.Time("cutoff", cutoff))
	}
	return removed, nil
}

// PruneEvery calls PruneJobs on every tick of interval, forgetting jobs that
// finished more than retention ago, until ctx is done.
func (s *TranscriptionService) PruneEvery(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := s.PruneJobs(ctx, now.Add(-retention)); err != nil {
				s.logger.Warn("job pruning failed", slog.String("error", err.Error()))
			}
		}
	}
}

// CancelJob stops the run of a job. A queued job is cancelled before it
// starts. Returns ErrJobNotRunning for jobs that already finished.
func (s *TranscriptionService) CancelJob(ctx context.Context, id string) error {
	// Holding mu across the lookup and the save keeps a queued cancel from
	// interleaving with ProcessExistingJob picking the job up.
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return ErrJobNotRunning
	}
	if cancel, ok := s.cancels[id]; ok {
		s.logger.Info("cancelling job", slog.String("job_id", id))
		cancel()
		return nil
	}
	if err := job.Cancel(); err != nil {
		return ErrJobNotRunning
	}
	s.logger.Info("cancelling queued job", slog.String("job_id", id))
	s.save(ctx, job)
	return nil
}

// ProcessExistingJob runs the pipeline for a job created by CreateJob and
// records the outcome. The uploaded audio is removed when the run ends.
func (s *TranscriptionService) ProcessExistingJob(ctx context.Context, id string) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if s.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// The cancel func is registered and the job read under mu, so CancelJob
	// either sees the job already CANCELLED here or finds the func to call.
	s.mu.Lock()
	s.cancels[id] = cancel
	job, err := s.repo.FindByID(ctx, id)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, id)
		s.mu.Unlock()
	}()
	if err != nil {
		return err
	}

	log := s.logger.With(slog.String("job_id", id))
	defer func() {
		if err := s.store.CleanupTemp(context.WithoutCancel(ctx), []string{job.AudioPath}); err != nil {
			log.Warn("failed to clean up uploaded audio", slog.String("error", err.Error()))
		}
	}()

	if err := runCtx.Err(); err != nil {
		return s.finishWithError(ctx, runCtx, job, err)
	}
	if err := job.Start(); err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	s.save(ctx, job)
	log.Info("job started", slog.String("audio", job.AudioName))

	result, err := s.runner.Run(runCtx, pipeline.Input{
		AudioPath:   job.AudioPath,
		Enrollments: job.Enrollments,
		Language:    job.Language,
		Progress:    s.progress(ctx, job),
	})
	if err != nil {
		return s.finishWithError(ctx, runCtx, job, err)
	}

	job.SetResult(result.Conversation, toStats(result.Stats))
	receipt, err := s.sink.Deliver(runCtx, sink.Delivery{
		JobID:        job.ID,
		Recipient:    job.Recipient,
		AudioHash:    job.AudioHash,
		Conversation: result.Conversation,
	})
	if err != nil {
		return s.finishWithError(ctx, runCtx, job, fmt.Errorf("deliver transcript: %w", err))
	}
	job.SetOutput(receipt.JSONPath, receipt.TextPath, receipt.JSONURL, receipt.TextURL)

	if err := job.Complete(); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	s.save(ctx, job)
	log.Info("job completed",
		slog.Int("segments", result.Stats.Segments),
		slog.Int("chunks_failed", result.Stats.ChunksFailed),
		slog.String("transcript", receipt.JSONPath),
		slog.String("url", receipt.JSONURL),
	)
	return nil
}

// finishWithError moves the job to the terminal state matching runErr and
// returns runErr.
func (s *TranscriptionService) finishWithError(ctx, runCtx context.Context, job *Job, runErr error) error {
	log := s.logger.With(slog.String("job_id", job.ID))

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		_ = job.Timeout()
		log.Warn("job timed out", slog.Duration("timeout", s.timeout))
	case errors.Is(runCtx.Err(), context.Canceled):
		_ = job.Cancel()
		log.Info("job cancelled")
	default:
		_ = job.Fail(runErr.Error())
		log.Error("job failed", slog.String("error", runErr.Error()))
	}
	s.save(ctx, job)
	return runErr
}

// progress maps pipeline events onto the job's chunk states and percentage.
func (s *TranscriptionService) progress(ctx context.Context, job *Job) pipeline.ProgressFunc {
	var mu sync.Mutex
	return func(e pipeline.Event) {
		mu.Lock()
		defer mu.Unlock()

		switch e.Kind {
		case pipeline.EventTrimming:
			job.UpdateProgress(progressTrimming)
		case pipeline.EventEnrolling:
			job.UpdateProgress(progressEnrolling)
		case pipeline.EventChunksPlanned:
			job.SetChunks(e.Total)
		case pipeline.EventChunkStarted:
			job.MarkChunk(e.Chunk, ChunkStatusProcessing, "")
		case pipeline.EventChunkDone:
			if e.Err != nil {
				job.MarkChunk(e.Chunk, ChunkStatusFailed, e.Err.Error())
			} else {
				job.MarkChunk(e.Chunk, ChunkStatusCompleted, "")
			}
			if e.Total > 0 {
				job.UpdateProgress(progressEnrolling + progressChunkSpan*job.ChunksFinished()/e.Total)
			}
		}
		s.save(ctx, job)
	}
}

func (s *TranscriptionService) save(ctx context.Context, job *Job) {
	if err := s.repo.Save(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

func toStats(ps pipeline.Stats) Stats {
	return Stats{
		Segments:         ps.Segments,
		SegmentsShort:    ps.SegmentsShort,
		SegmentsUnknown:  ps.SegmentsUnknown,
		SegmentsFailed:   ps.SegmentsFailed,
		ChunksFailed:     ps.ChunksFailed,
		ChunksSkipped:    ps.ChunksSkipped,
		SpeakersEnrolled: ps.SpeakersEnrolled,
		SkippedSpeakers:  append([]speaker.Skipped(nil), ps.SpeakersSkipped...),
		TrimmedSeconds:   ps.TrimmedSeconds,
	}
}
