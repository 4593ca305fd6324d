// Package server provides the HTTP front end for submitting recordings and
// fetching speaker-attributed transcripts. It includes handlers, middleware,
// routes, and DTOs separated from domain types.
package server

import "time"

// SpeakerRequest is one enrollment entry of a job submission.
type SpeakerRequest struct {
	// Name labels the speaker in the transcript.
	Name string `json:"name" validate:"required,max=100"`
	// Start is where the speaker's sample begins, as mm:ss or h:mm:ss.
	Start string `json:"start" validate:"required"`
	// End is where the speaker's sample ends, as mm:ss or h:mm:ss.
	End string `json:"end" validate:"required"`
}

// CreateJobRequest holds the non-file fields of the multipart job submission.
type CreateJobRequest struct {
	// Speakers is decoded from the JSON "speakers" form field.
	Speakers []SpeakerRequest `validate:"required,min=1,dive"`
	// Recipient is the address the transcript is meant for.
	Recipient string `validate:"required,email"`
	// Language optionally overrides the configured language hint.
	Language string `validate:"omitempty,alpha,min=2,max=3"`
}

// SkippedSpeaker reports an enrollment entry that will not be used.
type SkippedSpeaker struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
	// AudioHash is the BLAKE3 digest of the uploaded recording.
	AudioHash string `json:"audio_hash"`
	// SkippedSpeakers lists entries whose times did not parse.
	SkippedSpeakers []SkippedSpeaker `json:"skipped_speakers,omitempty"`
}

// ChunkResponse is the progress of a single chunk.
type ChunkResponse struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// StatsResponse summarises a finished run.
type StatsResponse struct {
	Segments         int              `json:"segments"`
	SegmentsShort    int              `json:"segments_short"`
	SegmentsUnknown  int              `json:"segments_unknown"`
	SegmentsFailed   int              `json:"segments_failed"`
	ChunksFailed     int              `json:"chunks_failed"`
	ChunksSkipped    int              `json:"chunks_skipped"`
	SpeakersEnrolled int              `json:"speakers_enrolled"`
	SkippedSpeakers  []SkippedSpeaker `json:"skipped_speakers,omitempty"`
	TrimmedSeconds   float64          `json:"trimmed_seconds"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// Error contains any error message if the job failed.
	Error string `json:"error,omitempty"`
	// AudioHash is the BLAKE3 digest of the uploaded recording.
	AudioHash string `json:"audio_hash,omitempty"`
	// Recipient is the address the transcript is meant for.
	Recipient string `json:"recipient,omitempty"`
	// Chunks is the per-chunk progress once the audio has been split.
	Chunks []ChunkResponse `json:"chunks,omitempty"`
	// Stats is set once the job completed.
	Stats *StatsResponse `json:"stats,omitempty"`
	// Speakers lists the labels heard in the transcript, in order of first appearance.
	Speakers []string `json:"speakers,omitempty"`
	// TranscriptURL is the published JSON transcript, if S3 is configured.
	TranscriptURL string `json:"transcript_url,omitempty"`
	// TranscriptTextURL is the published text transcript, if S3 is configured.
	TranscriptTextURL string `json:"transcript_text_url,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
