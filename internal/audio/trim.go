package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
)

// TrimOpts configures silence trimming.
type TrimOpts struct {
	// ThresholdDB is added to the mean frame level of a sub-window; frames
	// below the result are silent. Default: -10 dB.
	ThresholdDB float64

	// MarginMs widens every silent frame on both sides so the attack and
	// decay of adjacent speech are removed with it rather than clipped.
	// Default: 500 milliseconds.
	MarginMs int

	// FrameLength is the RMS analysis window in frames. The hop is a quarter
	// of it. Default: 512.
	FrameLength int

	// WindowSec bounds how much audio is analysed at once.
	// Default: 800 seconds.
	WindowSec int

	// FloorDB is an absolute level in dBFS below which a frame is always silent.
	// Default: -80 dBFS.
	FloorDB float64
}

// DefaultTrimOpts returns the default options for silence trimming.
func DefaultTrimOpts() TrimOpts {
	return TrimOpts{
		ThresholdDB: -10,
		MarginMs:    500,
		FrameLength: 512,
		WindowSec:   800,
		FloorDB:     -80,
	}
}

// Trimmer removes low-energy stretches from a waveform.
type Trimmer struct {
	opts   TrimOpts
	logger *slog.Logger
}

// NewTrimmer creates a Trimmer. Zero FrameLength, WindowSec and FloorDB
// fall back to their defaults.
func NewTrimmer(opts TrimOpts, logger *slog.Logger) *Trimmer {
	def := DefaultTrimOpts()
	if opts.FrameLength <= 0 {
		opts.FrameLength = def.FrameLength
	}
	if opts.WindowSec <= 0 {
		opts.WindowSec = def.WindowSec
	}
	if opts.FloorDB == 0 {
		opts.FloorDB = def.FloorDB
	}
	if opts.MarginMs < 0 {
		opts.MarginMs = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Trimmer{opts: opts, logger: logger}
}

// Trim returns w with its silent stretches removed.
//
// The waveform is processed in WindowSec sub-windows. A sub-window that fails
// is logged and left out of the result. Returns ErrNoAudio if nothing is left.
func (t *Trimmer) Trim(ctx context.Context, w Waveform) (Waveform, error) {
	if err := w.Validate(); err != nil {
		return Waveform{}, err
	}

	windowFrames := t.opts.WindowSec * w.SampleRate
	frames := w.Frames()

	var parts []Waveform
	for start, index := 0, 0; start < frames; start, index = start+windowFrames, index+1 {
		if err := ctx.Err(); err != nil {
			return Waveform{}, fmt.Errorf("trim cancelled: %w", err)
		}

		kept, err := t.trimWindowSafe(w.Slice(start, start+windowFrames))
		if err != nil {
			t.logger.Warn("dropping sub-window after trim failure",
				slog.Int("window", index),
				slog.Float64("start_sec", float64(start)/float64(w.SampleRate)),
				slog.String("error", err.Error()),
			)
			continue
		}
		parts = append(parts, kept...)
	}

	out := Concat(w.SampleRate, w.Channels, parts...)
	if out.Empty() {
		return Waveform{}, ErrNoAudio
	}

	t.logger.Debug("silence trimmed",
		slog.Float64("input_sec", w.Seconds()),
		slog.Float64("output_sec", out.Seconds()),
	)
	return out, nil
}

// trimWindowSafe runs trimWindow, converting a panic into an error.
func (t *Trimmer) trimWindowSafe(w Waveform) (kept []Waveform, err error) {
	defer func() {
		if r := recover(); r != nil {
			kept, err = nil, fmt.Errorf("trim window panic: %v", r)
		}
	}()
	return t.trimWindow(w)
}

// trimWindow returns the non-silent runs of w as views into it.
func (t *Trimmer) trimWindow(w Waveform) ([]Waveform, error) {
	n := w.Frames()
	if n == 0 {
		return nil, nil
	}

	hop := t.opts.FrameLength / 4
	if hop < 1 {
		hop = 1
	}
	levels := frameLevels(w, t.opts.FrameLength, hop)

	// Frames under the floor stay out of the mean so that removing silence
	// does not move the cutoff on a second pass.
	var mean float64
	audible := 0
	for _, l := range levels {
		if l >= t.opts.FloorDB {
			mean += l
			audible++
		}
	}
	if audible == 0 {
		return nil, nil
	}
	mean /= float64(audible)
	if math.IsNaN(mean) || math.IsInf(mean, 0) {
		return nil, fmt.Errorf("invalid mean level %v", mean)
	}

	margin := t.opts.MarginMs * w.SampleRate / 1000 / hop
	excluded := make([]bool, len(levels))
	cutoff := mean + t.opts.ThresholdDB
	for i, l := range levels {
		if l >= cutoff && l >= t.opts.FloorDB {
			continue
		}
		lo, hi := max(0, i-margin), min(len(levels)-1, i+margin)
		for j := lo; j <= hi; j++ {
			excluded[j] = true
		}
	}

	var runs []Waveform
	runStart := -1
	for i := 0; i <= len(excluded); i++ {
		keep := i < len(excluded) && !excluded[i]
		switch {
		case keep && runStart < 0:
			runStart = i
		case !keep && runStart >= 0:
			runs = append(runs, w.Slice(runStart*hop, min(i*hop, n)))
			runStart = -1
		}
	}
	return runs, nil
}

// frameLevels computes the RMS level in dBFS of every hop-spaced analysis frame.
// Frames that would run past the end use the last full-length window instead.
func frameLevels(w Waveform, frameLength, hop int) []float64 {
	n := w.Frames()
	count := (n + hop - 1) / hop
	levels := make([]float64, count)

	for i := range levels {
		start := i * hop
		end := start + frameLength
		if end > n {
			end = n
			start = max(0, n-frameLength)
		}
		var sum float64
		for f := start; f < end; f++ {
			v := w.monoFrame(f)
			sum += v * v
		}
		rms := math.Sqrt(sum / float64(end-start))
		levels[i] = 20 * math.Log10(rms+1e-10)
	}
	return levels
}
