package audio

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestTrimmer_RemovesSilence(t *testing.T) {
	const rate = 16000
	in := Concat(rate, 1,
		tone(rate, 2, 0.5),
		silence(rate, 3),
		tone(rate, 2, 0.5),
	)

	trimmer := NewTrimmer(DefaultTrimOpts(), testLogger())
	out, err := trimmer.Trim(context.Background(), in)
	require.NoError(t, err)

	// The silent gap and a margin on both of its sides are gone.
	assert.Less(t, out.Seconds(), 4.0)
	assert.Greater(t, out.Seconds(), 2.0)
	for i, s := range out.Samples {
		if s != 0 {
			continue
		}
		// Zero crossings of the sine are fine; long zero runs are not.
		if i+8 < len(out.Samples) {
			assert.NotEqual(t, make([]int16, 8), out.Samples[i:i+8], "silence survived at sample %d", i)
		}
	}
}

func TestTrimmer_NoSilenceKeepsEverything(t *testing.T) {
	in := tone(16000, 3, 0.5)

	out, err := NewTrimmer(DefaultTrimOpts(), testLogger()).Trim(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in.Samples, out.Samples)
}

func TestTrimmer_AllSilent(t *testing.T) {
	_, err := NewTrimmer(DefaultTrimOpts(), testLogger()).Trim(context.Background(), silence(16000, 2))
	assert.ErrorIs(t, err, ErrNoAudio)
}

func TestTrimmer_Idempotent(t *testing.T) {
	const rate = 16000
	tests := []struct {
		name string
		in   Waveform
	}{
		{
			name: "equal level speech",
			in: Concat(rate, 1,
				silence(rate, 1),
				tone(rate, 2, 0.4),
				silence(rate, 1.5),
				tone(rate, 3, 0.4),
				silence(rate, 1),
			),
		},
		{
			name: "loud then quiet speech after silence",
			in: Concat(rate, 1,
				silence(rate, 2),
				tone(rate, 3, 0.5),
				tone(rate, 3, 0.02),
			),
		},
		{
			name: "quiet speech between loud passages",
			in: Concat(rate, 1,
				tone(rate, 2, 0.6),
				tone(rate, 2, 0.05),
				silence(rate, 1),
				tone(rate, 2, 0.3),
			),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trimmer := NewTrimmer(DefaultTrimOpts(), testLogger())

			once, err := trimmer.Trim(context.Background(), tt.in)
			require.NoError(t, err)
			require.Less(t, once.Frames(), tt.in.Frames())

			twice, err := trimmer.Trim(context.Background(), once)
			require.NoError(t, err)

			assert.Equal(t, once.Frames(), twice.Frames(), "second trim removed more audio")
			assert.Equal(t, once.Samples, twice.Samples)
		})
	}
}

func TestTrimmer_SubWindowsConcatenateInOrder(t *testing.T) {
	const rate = 16000
	in := tone(rate, 5, 0.5)

	opts := DefaultTrimOpts()
	opts.WindowSec = 1
	out, err := NewTrimmer(opts, testLogger()).Trim(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in.Samples, out.Samples)
}

func TestTrimmer_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTrimmer(DefaultTrimOpts(), testLogger()).Trim(ctx, tone(16000, 1, 0.5))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTrimmer_InvalidWaveform(t *testing.T) {
	_, err := NewTrimmer(DefaultTrimOpts(), testLogger()).Trim(context.Background(), Waveform{})
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestNewTrimmer_Defaults(t *testing.T) {
	tr := NewTrimmer(TrimOpts{ThresholdDB: -6}, nil)

	assert.Equal(t, 512, tr.opts.FrameLength)
	assert.Equal(t, 800, tr.opts.WindowSec)
	assert.Equal(t, -80.0, tr.opts.FloorDB)
	assert.Equal(t, -6.0, tr.opts.ThresholdDB)
	assert.NotNil(t, tr.logger)
}
