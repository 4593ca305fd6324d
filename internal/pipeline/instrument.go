package pipeline

import (
	"context"
	"time"

	"github.com/maauso/speakerscribe/internal/audio"
	"github.com/maauso/speakerscribe/internal/embedding"
	"github.com/maauso/speakerscribe/internal/metrics"
	"github.com/maauso/speakerscribe/internal/transcribe"
)

type instrumentedTranscriber struct {
	next    transcribe.Transcriber
	metrics *metrics.Metrics
}

func (t *instrumentedTranscriber) Transcribe(ctx context.Context, clip audio.Waveform, language string) ([]transcribe.Segment, error) {
	start := time.Now()
	segs, err := t.next.Transcribe(ctx, clip, language)
	t.metrics.ObserveCall("transcribe", err, time.Since(start))
	return segs, err
}

type instrumentedEmbedder struct {
	next    embedding.Embedder
	metrics *metrics.Metrics
}

func (e *instrumentedEmbedder) Embed(ctx context.Context, clip audio.Waveform) ([]float64, error) {
	start := time.Now()
	vec, err := e.next.Embed(ctx, clip)
	e.metrics.ObserveCall("embedding", err, time.Since(start))
	return vec, err
}

var (
	_ transcribe.Transcriber = (*instrumentedTranscriber)(nil)
	_ embedding.Embedder     = (*instrumentedEmbedder)(nil)
)
