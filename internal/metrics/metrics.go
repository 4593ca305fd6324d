// Package metrics holds the Prometheus instruments for transcription runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for RunsTotal and ChunksTotal.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Metrics holds all Prometheus metrics for the transcription pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec
	RunSeconds        prometheus.Histogram
	ChunksTotal       *prometheus.CounterVec
	SegmentsTotal     *prometheus.CounterVec
	SpeakersTotal     *prometheus.CounterVec
	CollaboratorCalls *prometheus.CounterVec
	CollaboratorTime  *prometheus.HistogramVec
	TrimmedSeconds    prometheus.Counter
}

// New registers the pipeline metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speakerscribe_runs_total",
				Help: "Transcription runs by outcome",
			},
			[]string{"status"},
		),
		RunSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "speakerscribe_run_seconds",
				Help:    "Wall time of a transcription run",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
			},
		),
		ChunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speakerscribe_chunks_total",
				Help: "Audio chunks by outcome",
			},
			[]string{"status"},
		),
		SegmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speakerscribe_segments_total",
				Help: "Transcribed segments by assignment kind",
			},
			[]string{"kind"},
		),
		SpeakersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speakerscribe_speakers_total",
				Help: "Speaker enrollments by outcome",
			},
			[]string{"status"},
		),
		CollaboratorCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speakerscribe_collaborator_calls_total",
				Help: "Calls to external services",
			},
			[]string{"service", "status"},
		),
		CollaboratorTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "speakerscribe_collaborator_seconds",
				Help:    "Latency of external service calls",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"service"},
		),
		TrimmedSeconds: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "speakerscribe_trimmed_seconds_total",
				Help: "Seconds of silence removed before transcription",
			},
		),
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome(err)).Inc()
	m.RunSeconds.Observe(elapsed.Seconds())
}

// ObserveChunk records one chunk outcome (StatusSucceeded, StatusFailed or StatusSkipped).
func (m *Metrics) ObserveChunk(status string) {
	if m == nil {
		return
	}
	m.ChunksTotal.WithLabelValues(status).Inc()
}

// ObserveSegment records one segment by assignment kind.
func (m *Metrics) ObserveSegment(kind string) {
	if m == nil {
		return
	}
	m.SegmentsTotal.WithLabelValues(kind).Inc()
}

// ObserveSpeakers records enrollment results.
func (m *Metrics) ObserveSpeakers(enrolled, skipped int) {
	if m == nil {
		return
	}
	m.SpeakersTotal.WithLabelValues(StatusSucceeded).Add(float64(enrolled))
	m.SpeakersTotal.WithLabelValues(StatusSkipped).Add(float64(skipped))
}

// ObserveCall records one call to an external service.
func (m *Metrics) ObserveCall(service string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CollaboratorCalls.WithLabelValues(service, outcome(err)).Inc()
	m.CollaboratorTime.WithLabelValues(service).Observe(elapsed.Seconds())
}

// ObserveTrim records how much audio silence trimming removed.
func (m *Metrics) ObserveTrim(before, after float64) {
	if m == nil || after > before {
		return
	}
	m.TrimmedSeconds.Add(before - after)
}

func outcome(err error) string {
	if err != nil {
		return StatusFailed
	}
	return StatusSucceeded
}
