// Package job provides the Job aggregate for tracking transcription runs
// submitted through the API, with its state machine and repository port.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/speakerscribe/internal/job/id"
	"github.com/maauso/speakerscribe/internal/speaker"
	"github.com/maauso/speakerscribe/internal/transcript"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting to be processed.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the pipeline is working on the job.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates a transcript was produced and delivered.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the run ended without a transcript.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled by a client.
	StatusCancelled Status = "CANCELLED"
	// StatusTimedOut indicates the run exceeded the configured job timeout.
	StatusTimedOut Status = "TIMED_OUT"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled, StatusTimedOut},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimedOut:  {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ChunkStatus represents the status of a single audio chunk.
type ChunkStatus string

const (
	// ChunkStatusPending indicates the chunk is waiting for a worker.
	ChunkStatusPending ChunkStatus = "PENDING"
	// ChunkStatusProcessing indicates the chunk is being transcribed.
	ChunkStatusProcessing ChunkStatus = "PROCESSING"
	// ChunkStatusCompleted indicates the chunk was transcribed and labelled.
	ChunkStatusCompleted ChunkStatus = "COMPLETED"
	// ChunkStatusFailed indicates the chunk contributed nothing.
	ChunkStatusFailed ChunkStatus = "FAILED"
)

// Chunk is the per-chunk progress of a running job.
type Chunk struct {
	Index       int
	Status      ChunkStatus
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Stats summarises what a finished run kept and dropped.
type Stats struct {
	Segments         int
	SegmentsShort    int
	SegmentsUnknown  int
	SegmentsFailed   int
	ChunksFailed     int
	ChunksSkipped    int
	SpeakersEnrolled int
	SkippedSpeakers  []speaker.Skipped
	TrimmedSeconds   float64
}

// Job represents a transcription request aggregate.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Chunks tracks per-chunk progress once the audio has been split.
	Chunks []Chunk
	// Progress is the percentage of completion (0-100).
	Progress int
	// Error contains any error message if the job failed.
	Error string

	// Recipient is where the transcript should be delivered.
	Recipient string
	// Language is the hint passed to the transcription service.
	Language string
	// AudioPath is the uploaded recording on local disk.
	AudioPath string
	// AudioName is the client-supplied file name.
	AudioName string
	// AudioHash is the BLAKE3 digest of the uploaded recording.
	AudioHash string
	// Enrollments are the speaker windows, in the order the client gave them.
	Enrollments []speaker.Enrollment

	// Transcript is set once the job completed.
	Transcript *transcript.Conversation
	// Stats is set once the job completed.
	Stats Stats
	// TranscriptJSONPath and TranscriptTextPath locate the local artifacts.
	TranscriptJSONPath string
	TranscriptTextPath string
	// TranscriptURL and TranscriptTextURL are set when artifacts were published.
	TranscriptURL     string
	TranscriptTextURL string

	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusInQueue,
		Chunks:    make([]Chunk, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED and sets progress to 100.
func (j *Job) Complete() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.Progress = 100
	return nil
}

// Fail transitions the job to FAILED state with an error message.
// The message is only recorded when the transition is allowed.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// Timeout transitions the job to TIMED_OUT state.
func (j *Job) Timeout() error {
	return j.TransitionTo(StatusTimedOut)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetChunks replaces the chunk list with n pending chunks.
func (j *Job) SetChunks(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Chunks = make([]Chunk, n)
	for i := range j.Chunks {
		j.Chunks[i] = Chunk{Index: i, Status: ChunkStatusPending}
	}
	j.UpdatedAt = time.Now()
}

// MarkChunk updates the status of the chunk at position index.
// Unknown indices are ignored.
func (j *Job) MarkChunk(index int, status ChunkStatus, errMsg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if index < 0 || index >= len(j.Chunks) {
		return
	}
	c := &j.Chunks[index]
	c.Status = status
	c.Error = errMsg
	now := time.Now()
	switch status {
	case ChunkStatusProcessing:
		c.StartedAt = now
	case ChunkStatusCompleted, ChunkStatusFailed:
		c.CompletedAt = now
	}
	j.UpdatedAt = now
}

// ChunksFinished returns how many chunks reached a final status.
func (j *Job) ChunksFinished() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	n := 0
	for _, c := range j.Chunks {
		if c.Status == ChunkStatusCompleted || c.Status == ChunkStatusFailed {
			n++
		}
	}
	return n
}

// UpdateProgress sets the progress percentage (0-100).
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress = min(max(progress, 0), 100)
	j.UpdatedAt = time.Now()
}

// SetResult records the finished transcript and its stats.
func (j *Job) SetResult(conv transcript.Conversation, stats Stats) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Transcript = &conv
	j.Stats = stats
	j.UpdatedAt = time.Now()
}

// SetOutput records where the artifacts were written and published.
func (j *Job) SetOutput(jsonPath, textPath, jsonURL, textURL string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.TranscriptJSONPath = jsonPath
	j.TranscriptTextPath = textPath
	j.TranscriptURL = jsonURL
	j.TranscriptTextURL = textURL
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(validTransitions[j.Status]) == 0
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var conv *transcript.Conversation
	if j.Transcript != nil {
		c := *j.Transcript
		c.Segments = append([]transcript.Segment(nil), j.Transcript.Segments...)
		conv = &c
	}
	stats := j.Stats
	stats.SkippedSpeakers = append([]speaker.Skipped(nil), j.Stats.SkippedSpeakers...)

	return &Job{
		ID:                 j.ID,
		Status:             j.Status,
		Chunks:             append(make([]Chunk, 0, len(j.Chunks)), j.Chunks...),
		Progress:           j.Progress,
		Error:              j.Error,
		Recipient:          j.Recipient,
		Language:           j.Language,
		AudioPath:          j.AudioPath,
		AudioName:          j.AudioName,
		AudioHash:          j.AudioHash,
		Enrollments:        append([]speaker.Enrollment(nil), j.Enrollments...),
		Transcript:         conv,
		Stats:              stats,
		TranscriptJSONPath: j.TranscriptJSONPath,
		TranscriptTextPath: j.TranscriptTextPath,
		TranscriptURL:      j.TranscriptURL,
		TranscriptTextURL:  j.TranscriptTextURL,
		CreatedAt:          j.CreatedAt,
		UpdatedAt:          j.UpdatedAt,
		StartedAt:          j.StartedAt,
		CompletedAt:        j.CompletedAt,
	}
}
