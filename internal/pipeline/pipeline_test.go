package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/speakerscribe/internal/audio"
	"github.com/maauso/speakerscribe/internal/speaker"
	"github.com/maauso/speakerscribe/internal/timecode"
	"github.com/maauso/speakerscribe/internal/transcribe"
)

const rate = 16000

// Voices are pure tones; the fake embedder tells them apart by
// zero-crossing rate.
const (
	aliceHz = 300
	bobHz   = 800
)

type voice struct {
	from, to float64
	hz       float64
}

// conversationLayout is a 2-minute recording: Alice 0-10 s, Bob 10-60 s,
// Alice 60-110 s, Bob 110-120 s.
var conversationLayout = []voice{
	{0, 10, aliceHz},
	{10, 60, bobHz},
	{60, 110, aliceHz},
	{110, 120, bobHz},
}

func render(layout []voice) audio.Waveform {
	end := layout[len(layout)-1].to
	samples := make([]int16, int(end*rate))
	for _, v := range layout {
		for i := int(v.from * rate); i < int(v.to*rate); i++ {
			samples[i] = int16(12000 * math.Sin(2*math.Pi*v.hz*float64(i)/rate))
		}
	}
	return audio.Waveform{SampleRate: rate, Channels: 1, Samples: samples}
}

// crossingsPerSecond counts sign changes in w, normalised to one second.
func crossingsPerSecond(w audio.Waveform) float64 {
	var n int
	for i := 1; i < len(w.Samples); i++ {
		if (w.Samples[i-1] >= 0) != (w.Samples[i] >= 0) {
			n++
		}
	}
	return float64(n) / w.Seconds()
}

func voiceName(w audio.Waveform) string {
	if crossingsPerSecond(w) < 2*(aliceHz+bobHz)/2 {
		return "Alice"
	}
	return "Bob"
}

type fakeEmbedder struct {
	calls atomic.Int32
	fail  func(audio.Waveform) bool
}

func (f *fakeEmbedder) Embed(_ context.Context, clip audio.Waveform) ([]float64, error) {
	f.calls.Add(1)
	if f.fail != nil && f.fail(clip) {
		return nil, errors.New("embedding service unavailable")
	}
	z := crossingsPerSecond(clip)
	return []float64{1000 / z, z / 1000}, nil
}

// scriptedTranscriber returns the same chunk-relative segments for every clip.
type scriptedTranscriber struct {
	segments []transcribe.Segment
	calls    atomic.Int32
}

func (s *scriptedTranscriber) Transcribe(_ context.Context, _ audio.Waveform, _ string) ([]transcribe.Segment, error) {
	s.calls.Add(1)
	return s.segments, nil
}

// runTranscriber emits one segment per run of one-second blocks that share
// a voice, with the voice name as text.
type runTranscriber struct {
	fail func(audio.Waveform) bool
}

func (r *runTranscriber) Transcribe(_ context.Context, clip audio.Waveform, _ string) ([]transcribe.Segment, error) {
	if r.fail != nil && r.fail(clip) {
		return nil, errors.New("upstream 500")
	}
	var segs []transcribe.Segment
	secs := int(clip.Seconds())
	for s := 0; s < secs; s++ {
		name := voiceName(clip.Slice(s*rate, (s+1)*rate))
		if n := len(segs); n > 0 && segs[n-1].Text == name {
			segs[n-1].End = float64(s + 1)
			continue
		}
		segs = append(segs, transcribe.Segment{Start: float64(s), End: float64(s + 1), Text: name})
	}
	return segs, nil
}

type staticLoader struct {
	w audio.Waveform
}

func (l staticLoader) Load(context.Context, string) (audio.Waveform, error) {
	return l.w, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func enrollments() []speaker.Enrollment {
	return []speaker.Enrollment{
		{Name: "Alice", Range: timecode.Range{Start: 0, End: 10}},
		{Name: "Bob", Range: timecode.Range{Start: 10, End: 20}},
	}
}

func threeSegments() *scriptedTranscriber {
	return &scriptedTranscriber{segments: []transcribe.Segment{
		{Start: 5, End: 10, Text: "Hi Bob, thanks for coming."},
		{Start: 10, End: 60, Text: "Glad to be here."},
		{Start: 60, End: 110, Text: "Let's begin."},
	}}
}

func fourChunkOptions() Options {
	opts := DefaultOptions()
	// 120 s of mono PCM16 at 16 kHz is 3.84 MB; 1 MB limits give four 30 s chunks.
	opts.Split.MaxBytes = 1_000_000
	opts.MaxConcurrentChunks = 2
	return opts
}

func TestRun_EndToEndScenario(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meeting.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, audio.EncodeWAV(f, render(conversationLayout)))
	require.NoError(t, f.Close())

	tr := threeSegments()
	r := NewRunner(audio.NewLoader(nil, dir), tr, &fakeEmbedder{}, DefaultOptions(), WithLogger(quietLogger()))

	res, err := r.Run(context.Background(), Input{AudioPath: path, Enrollments: enrollments()})
	require.NoError(t, err)

	conv := res.Conversation
	require.Equal(t, 3, conv.Len())
	assert.Equal(t, []string{"Alice", "Bob", "Alice"}, []string{conv.Segments[0].Speaker, conv.Segments[1].Speaker, conv.Segments[2].Speaker})
	assert.Equal(t, []float64{5, 10, 60}, []float64{conv.Segments[0].Start, conv.Segments[1].Start, conv.Segments[2].Start})
	assert.Equal(t, "Alice: Hi Bob, thanks for coming.\nBob: Glad to be here.\nAlice: Let's begin.", conv.RenderText())

	assert.Equal(t, int32(1), tr.calls.Load())
	assert.Equal(t, 1, res.Stats.Chunks)
	assert.Equal(t, 2, res.Stats.SpeakersEnrolled)
	assert.InDelta(t, 120.0, res.Stats.TrimmedSeconds, 1e-9)
}

func TestRun_MultipleChunksUseGlobalTime(t *testing.T) {
	r := NewRunner(staticLoader{render(conversationLayout)}, &runTranscriber{}, &fakeEmbedder{}, fourChunkOptions(), WithLogger(quietLogger()))

	res, err := r.Run(context.Background(), Input{Enrollments: enrollments()})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Stats.Chunks)
	conv := res.Conversation
	require.Equal(t, 6, conv.Len())

	wantStarts := []float64{0, 10, 30, 60, 90, 110}
	for i, s := range conv.Segments {
		assert.InDelta(t, wantStarts[i], s.Start, 1e-9)
		assert.Equal(t, s.Text, s.Speaker, "segment %d", i)
		if i > 0 {
			assert.LessOrEqual(t, conv.Segments[i-1].Start, s.Start)
		}
		assert.LessOrEqual(t, s.End, 120.0)
	}
}

func TestRun_FailedChunkIsIsolated(t *testing.T) {
	// Only the second chunk (30-60 s) starts with Bob.
	tr := &runTranscriber{fail: func(clip audio.Waveform) bool {
		return voiceName(clip.Slice(0, rate)) == "Bob"
	}}
	r := NewRunner(staticLoader{render(conversationLayout)}, tr, &fakeEmbedder{}, fourChunkOptions(), WithLogger(quietLogger()))

	res, err := r.Run(context.Background(), Input{Enrollments: enrollments()})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stats.ChunksFailed)
	assert.Equal(t, 5, res.Conversation.Len())
	require.Len(t, res.Chunks, 4)
	assert.Error(t, res.Chunks[1].Err)
	for _, s := range res.Conversation.Segments {
		assert.False(t, s.Start >= 30 && s.Start < 60, "segment from failed chunk at %.1f", s.Start)
	}
}

func TestRun_FailureRatio(t *testing.T) {
	tr := &runTranscriber{fail: func(clip audio.Waveform) bool {
		return voiceName(clip.Slice(0, rate)) == "Bob"
	}}
	opts := fourChunkOptions()
	opts.MaxChunkFailureRatio = 0.2
	r := NewRunner(staticLoader{render(conversationLayout)}, tr, &fakeEmbedder{}, opts, WithLogger(quietLogger()))

	res, err := r.Run(context.Background(), Input{Enrollments: enrollments()})
	assert.ErrorIs(t, err, ErrTooManyFailures)
	assert.Nil(t, res)
}

func TestRun_AllChunksFailed(t *testing.T) {
	tr := &runTranscriber{fail: func(audio.Waveform) bool { return true }}
	r := NewRunner(staticLoader{render(conversationLayout)}, tr, &fakeEmbedder{}, fourChunkOptions(), WithLogger(quietLogger()))

	_, err := r.Run(context.Background(), Input{Enrollments: enrollments()})
	assert.ErrorIs(t, err, ErrAllChunksFailed)
	assert.ErrorContains(t, err, "upstream 500")
}

func TestRun_SegmentEmbeddingFailureDropsSegment(t *testing.T) {
	// Enrollment clips are 10 s; the two 50 s segments fail.
	emb := &fakeEmbedder{fail: func(clip audio.Waveform) bool { return clip.Seconds() > 40 }}
	r := NewRunner(staticLoader{render(conversationLayout)}, threeSegments(), emb, DefaultOptions(), WithLogger(quietLogger()))

	res, err := r.Run(context.Background(), Input{Enrollments: enrollments()})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.SegmentsFailed)
	require.Equal(t, 1, res.Conversation.Len())
	assert.Equal(t, "Alice", res.Conversation.Segments[0].Speaker)
}

func TestRun_ShortSegmentSkipsEmbedding(t *testing.T) {
	emb := &fakeEmbedder{}
	tr := &scriptedTranscriber{segments: []transcribe.Segment{
		{Start: 1, End: 1.2, Text: "uh"},
		{Start: 2, End: 6, Text: "Hello"},
	}}
	r := NewRunner(staticLoader{render(conversationLayout)}, tr, emb, DefaultOptions(), WithLogger(quietLogger()))

	res, err := r.Run(context.Background(), Input{Enrollments: enrollments()})
	require.NoError(t, err)

	require.Equal(t, 2, res.Conversation.Len())
	assert.Equal(t, speaker.LabelTooShort, res.Conversation.Segments[0].Speaker)
	assert.Equal(t, "Alice", res.Conversation.Segments[1].Speaker)
	assert.Equal(t, 1, res.Stats.SegmentsShort)
	// Two enrollments plus one embeddable segment.
	assert.Equal(t, int32(3), emb.calls.Load())
}

func TestRun_NoSpeakers(t *testing.T) {
	r := NewRunner(staticLoader{render(conversationLayout)}, threeSegments(), &fakeEmbedder{}, DefaultOptions(), WithLogger(quietLogger()))

	_, err := r.Run(context.Background(), Input{Enrollments: []speaker.Enrollment{
		{Name: "Alice", Range: timecode.Range{Start: 10, End: 5}},
	}})
	assert.ErrorIs(t, err, speaker.ErrNoSpeakers)
}

func TestRun_SilentRecording(t *testing.T) {
	silent := audio.Waveform{SampleRate: rate, Channels: 1, Samples: make([]int16, 5*rate)}
	r := NewRunner(staticLoader{silent}, threeSegments(), &fakeEmbedder{}, DefaultOptions(), WithLogger(quietLogger()))

	_, err := r.Run(context.Background(), Input{Enrollments: enrollments()})
	assert.ErrorIs(t, err, audio.ErrNoAudio)
}

func TestRun_NoChunksLongEnough(t *testing.T) {
	short := render([]voice{{0, 0.5, aliceHz}})
	r := NewRunner(staticLoader{short}, threeSegments(), &fakeEmbedder{}, DefaultOptions(), WithLogger(quietLogger()))

	_, err := r.Run(context.Background(), Input{Enrollments: enrollments()})
	assert.ErrorIs(t, err, ErrNoChunks)
}

func TestRun_EmptyConversation(t *testing.T) {
	r := NewRunner(staticLoader{render(conversationLayout)}, &scriptedTranscriber{}, &fakeEmbedder{}, DefaultOptions(), WithLogger(quietLogger()))

	_, err := r.Run(context.Background(), Input{Enrollments: enrollments()})
	assert.ErrorIs(t, err, ErrEmptyConversation)
}

type blockingTranscriber struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingTranscriber) Transcribe(ctx context.Context, _ audio.Waveform, _ string) ([]transcribe.Segment, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRun_Cancelled(t *testing.T) {
	tr := &blockingTranscriber{started: make(chan struct{})}
	r := NewRunner(staticLoader{render(conversationLayout)}, tr, &fakeEmbedder{}, fourChunkOptions(), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-tr.started
		cancel()
	}()

	res, err := r.Run(ctx, Input{Enrollments: enrollments()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestRun_LoadError(t *testing.T) {
	r := NewRunner(audio.NewLoader(nil, t.TempDir()), threeSegments(), &fakeEmbedder{}, DefaultOptions(), WithLogger(quietLogger()))

	_, err := r.Run(context.Background(), Input{AudioPath: filepath.Join(t.TempDir(), "missing.wav")})
	assert.ErrorContains(t, err, "load audio")
}

func TestRun_ProgressEvents(t *testing.T) {
	var mu sync.Mutex
	counts := map[EventKind]int{}
	planned := 0

	r := NewRunner(staticLoader{render(conversationLayout)}, &runTranscriber{}, &fakeEmbedder{}, fourChunkOptions(), WithLogger(quietLogger()))
	_, err := r.Run(context.Background(), Input{
		Enrollments: enrollments(),
		Progress: func(ev Event) {
			mu.Lock()
			defer mu.Unlock()
			counts[ev.Kind]++
			if ev.Kind == EventChunksPlanned {
				planned = ev.Total
			}
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 4, planned)
	assert.Equal(t, 1, counts[EventTrimming])
	assert.Equal(t, 1, counts[EventEnrolling])
	assert.Equal(t, 4, counts[EventChunkStarted])
	assert.Equal(t, 4, counts[EventChunkDone])
}
