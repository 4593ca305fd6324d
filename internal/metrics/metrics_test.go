package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNew_RegistersAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRun(nil, time.Second)
	m.ObserveChunk(StatusSucceeded)
	m.ObserveSegment("assigned")
	m.ObserveSpeakers(1, 0)
	m.ObserveCall("transcribe", nil, time.Millisecond)
	m.ObserveTrim(10, 8)

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.Len(t, families, 8)
}

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRun(nil, time.Second)
	m.ObserveRun(errors.New("boom"), time.Second)
	m.ObserveRun(errors.New("boom"), time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(StatusSucceeded)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(StatusFailed)))

	m.ObserveSpeakers(2, 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SpeakersTotal.WithLabelValues(StatusSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SpeakersTotal.WithLabelValues(StatusSkipped)))

	m.ObserveCall("embedding", errors.New("x"), time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CollaboratorCalls.WithLabelValues("embedding", StatusFailed)))

	m.ObserveTrim(100, 60)
	m.ObserveTrim(5, 10)
	assert.Equal(t, 40.0, testutil.ToFloat64(m.TrimmedSeconds))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun(nil, time.Second)
		m.ObserveChunk(StatusFailed)
		m.ObserveSegment("short")
		m.ObserveSpeakers(1, 1)
		m.ObserveCall("transcribe", nil, 0)
		m.ObserveTrim(2, 1)
	})
}
