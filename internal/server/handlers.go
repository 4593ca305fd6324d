package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/speakerscribe/internal/audio"
	"github.com/maauso/speakerscribe/internal/job"
	"github.com/maauso/speakerscribe/internal/speaker"
)

// DefaultMaxUploadBytes is the largest accepted recording upload.
const DefaultMaxUploadBytes = 500 << 20

// multipartMemory is how much of a multipart body is kept in memory
// before spilling to temporary files.
const multipartMemory = 32 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *job.TranscriptionService
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
	maxUploadBytes     int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateJob only creates the job and returns immediately
// without starting background processing.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithMaxUploadBytes limits the size of a job submission body.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.TranscriptionService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true, // Default to enabled
		maxUploadBytes:     DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateJob handles POST /jobs requests.
//
// The body is multipart/form-data with an "audio" file, a "speakers" JSON
// array of {name, start, end}, a "recipient" address and an optional
// "language" hint.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit", "UPLOAD_TOO_LARGE")
			return
		}
		h.logger.Warn("failed to parse multipart form", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid multipart form", "INVALID_FORM")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required", "MISSING_AUDIO")
		return
	}
	defer func() { _ = file.Close() }()

	name := filepath.Base(header.Filename)
	if !audio.IsSupported(name) {
		writeError(w, http.StatusUnsupportedMediaType,
			"unsupported audio format, expected one of "+strings.Join(audio.SupportedExtensions, " "),
			"UNSUPPORTED_FORMAT")
		return
	}

	var req CreateJobRequest
	if err := json.Unmarshal([]byte(r.FormValue("speakers")), &req.Speakers); err != nil {
		h.logger.Warn("failed to decode speakers field", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "speakers must be a JSON array of {name, start, end}", "INVALID_SPEAKERS")
		return
	}
	req.Recipient = strings.TrimSpace(r.FormValue("recipient"))
	req.Language = strings.TrimSpace(r.FormValue("language"))

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	specs := make([]speaker.EnrollmentSpec, 0, len(req.Speakers))
	for _, s := range req.Speakers {
		specs = append(specs, speaker.EnrollmentSpec{Name: strings.TrimSpace(s.Name), Start: s.Start, End: s.End})
	}
	enrollments, skipped := speaker.ParseEnrollments(specs)
	for _, s := range skipped {
		h.logger.Warn("skipping speaker with invalid time range",
			slog.String("speaker", s.Name),
			slog.String("reason", s.Reason),
		)
	}
	if len(enrollments) == 0 {
		writeError(w, http.StatusBadRequest, "no speaker has a usable time range", "NO_VALID_SPEAKERS")
		return
	}

	// Create job first (synchronously)
	createdJob, err := h.service.CreateJob(r.Context(), job.CreateJobInput{
		AudioName:   name,
		Audio:       file,
		Enrollments: enrollments,
		Recipient:   req.Recipient,
		Language:    req.Language,
	})
	if err != nil {
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	// Start processing in background with a detached context
	// Use context.WithoutCancel to prevent cancellation when the request ends
	if h.enableAsyncProcess {
		go func(ctx context.Context, jobID string) {
			if processErr := h.service.ProcessExistingJob(ctx, jobID); processErr != nil {
				h.logger.Error("background processing failed",
					slog.String("job_id", jobID),
					slog.String("error", processErr.Error()),
				)
			}
		}(context.WithoutCancel(r.Context()), createdJob.ID)
	}

	h.logger.Info("job created",
		slog.String("job_id", createdJob.ID),
		slog.String("audio", name),
		slog.Int("speakers", len(enrollments)),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:              createdJob.ID,
		Status:          string(createdJob.Status),
		AudioHash:       createdJob.AudioHash,
		SkippedSpeakers: toSkipped(skipped),
	})
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}
	resp := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	foundJob, ok := h.findJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(foundJob))
}

// GetTranscript handles GET /jobs/{id}/transcript requests.
// The format query parameter selects json (default), text or timestamped.
func (h *Handlers) GetTranscript(w http.ResponseWriter, r *http.Request) {
	foundJob, ok := h.findJob(w, r)
	if !ok {
		return
	}
	if foundJob.Status != job.StatusCompleted || foundJob.Transcript == nil {
		writeError(w, http.StatusConflict, "transcript is not ready, job is "+string(foundJob.Status), "TRANSCRIPT_NOT_READY")
		return
	}

	conv := foundJob.Transcript
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		data, err := conv.RenderJSON()
		if err != nil {
			h.logger.Error("failed to render transcript",
				slog.String("job_id", foundJob.ID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to render transcript", "RENDER_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case "text":
		writeText(w, conv.RenderText())
	case "timestamped":
		writeText(w, conv.RenderTimestamped())
	default:
		writeError(w, http.StatusBadRequest, "format must be json, text or timestamped", "INVALID_FORMAT")
	}
}

// CancelJob handles DELETE /jobs/{id} requests.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	err := h.service.CancelJob(r.Context(), jobID)
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	case errors.Is(err, job.ErrJobNotRunning):
		writeError(w, http.StatusConflict, "job already finished", "JOB_NOT_RUNNING")
		return
	case err != nil:
		h.logger.Error("failed to cancel job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to cancel job", "JOB_CANCEL_FAILED")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// findJob loads the job named by the {id} path value, writing an error
// response and returning false when it cannot.
func (h *Handlers) findJob(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return nil, false
	}

	foundJob, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return nil, false
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return nil, false
	}
	return foundJob, true
}

func toJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:                j.ID,
		Status:            string(j.Status),
		Progress:          j.Progress,
		Error:             j.Error,
		AudioHash:         j.AudioHash,
		Recipient:         j.Recipient,
		TranscriptURL:     j.TranscriptURL,
		TranscriptTextURL: j.TranscriptTextURL,
		CreatedAt:         j.CreatedAt,
		StartedAt:         optionalTime(j.StartedAt),
		CompletedAt:       optionalTime(j.CompletedAt),
	}
	for _, c := range j.Chunks {
		resp.Chunks = append(resp.Chunks, ChunkResponse{Index: c.Index, Status: string(c.Status), Error: c.Error})
	}
	if j.Status == job.StatusCompleted {
		resp.Stats = &StatsResponse{
			Segments:         j.Stats.Segments,
			SegmentsShort:    j.Stats.SegmentsShort,
			SegmentsUnknown:  j.Stats.SegmentsUnknown,
			SegmentsFailed:   j.Stats.SegmentsFailed,
			ChunksFailed:     j.Stats.ChunksFailed,
			ChunksSkipped:    j.Stats.ChunksSkipped,
			SpeakersEnrolled: j.Stats.SpeakersEnrolled,
			SkippedSpeakers:  toSkipped(j.Stats.SkippedSpeakers),
			TrimmedSeconds:   j.Stats.TrimmedSeconds,
		}
	}
	if j.Transcript != nil {
		resp.Speakers = j.Transcript.Speakers()
	}
	return resp
}

func toSkipped(in []speaker.Skipped) []SkippedSpeaker {
	if len(in) == 0 {
		return nil
	}
	out := make([]SkippedSpeaker, 0, len(in))
	for _, s := range in {
		out = append(out, SkippedSpeaker{Name: s.Name, Reason: s.Reason})
	}
	return out
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeText writes a plain UTF-8 text response.
func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
