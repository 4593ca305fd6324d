// Package audio provides the in-memory waveform model and the signal-level
// stages of the transcription pipeline: decoding, silence trimming and
// size-bounded chunking.
package audio

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Static errors for waveform handling.
var (
	// ErrInvalidFormat is returned when a waveform has an unusable layout.
	ErrInvalidFormat = errors.New("audio: invalid waveform format")
	// ErrNoAudio is returned when no audible samples remain after trimming.
	ErrNoAudio = errors.New("audio: no audio left after silence trimming")
	// ErrUnsupportedFormat is returned when a WAV stream is not 16-bit PCM.
	ErrUnsupportedFormat = errors.New("audio: unsupported WAV encoding")
)

// wavHeaderSize is the size of a canonical PCM WAV header.
const wavHeaderSize = 44

// bytesPerSample is fixed at 2: waveforms are always PCM16.
const bytesPerSample = 2

// Waveform is a block of interleaved PCM16 samples.
//
// A Waveform handed to a downstream stage must be treated as read-only:
// Slice returns views that share the backing array with the original.
type Waveform struct {
	// SampleRate is the number of frames per second.
	SampleRate int
	// Channels is the number of interleaved channels per frame.
	Channels int
	// Samples holds Frames()*Channels interleaved samples.
	Samples []int16
}

// Validate checks that the waveform layout is consistent.
func (w Waveform) Validate() error {
	if w.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, w.SampleRate)
	}
	if w.Channels <= 0 {
		return fmt.Errorf("%w: channels %d", ErrInvalidFormat, w.Channels)
	}
	if len(w.Samples)%w.Channels != 0 {
		return fmt.Errorf("%w: %d samples not divisible by %d channels", ErrInvalidFormat, len(w.Samples), w.Channels)
	}
	return nil
}

// Frames returns the number of sample frames.
func (w Waveform) Frames() int {
	if w.Channels <= 0 {
		return 0
	}
	return len(w.Samples) / w.Channels
}

// Seconds returns the duration in seconds.
func (w Waveform) Seconds() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(w.Frames()) / float64(w.SampleRate)
}

// Duration returns the duration as a time.Duration.
func (w Waveform) Duration() time.Duration {
	return time.Duration(w.Seconds() * float64(time.Second))
}

// Empty reports whether the waveform has no frames.
func (w Waveform) Empty() bool {
	return w.Frames() == 0
}

// WAVSize returns the size in bytes of the waveform serialized as PCM16 WAV.
func (w Waveform) WAVSize() int64 {
	return wavHeaderSize + int64(len(w.Samples))*bytesPerSample
}

// Slice returns the frames in [startFrame, endFrame) as a view.
// Out-of-range bounds are clamped; an inverted range yields an empty waveform.
func (w Waveform) Slice(startFrame, endFrame int) Waveform {
	frames := w.Frames()
	startFrame = clamp(startFrame, 0, frames)
	endFrame = clamp(endFrame, 0, frames)
	if endFrame < startFrame {
		endFrame = startFrame
	}
	lo, hi := startFrame*w.Channels, endFrame*w.Channels
	return Waveform{
		SampleRate: w.SampleRate,
		Channels:   w.Channels,
		Samples:    w.Samples[lo:hi:hi],
	}
}

// SliceSeconds returns the frames between start and end seconds as a view.
func (w Waveform) SliceSeconds(start, end float64) Waveform {
	return w.Slice(w.FrameAt(start), w.FrameAt(end))
}

// FrameAt converts a time in seconds to a frame index, rounding down.
func (w Waveform) FrameAt(sec float64) int {
	if sec <= 0 || math.IsNaN(sec) {
		return 0
	}
	return int(math.Floor(sec*float64(w.SampleRate) + 1e-9))
}

// Concat joins waveforms that share the same format into a new waveform.
// The result never aliases any of the inputs.
func Concat(sampleRate, channels int, parts ...Waveform) Waveform {
	total := 0
	for _, p := range parts {
		total += len(p.Samples)
	}
	out := Waveform{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    make([]int16, 0, total),
	}
	for _, p := range parts {
		out.Samples = append(out.Samples, p.Samples...)
	}
	return out
}

// monoFrame returns the mean of the channels of frame i, normalised to [-1, 1].
func (w Waveform) monoFrame(i int) float64 {
	base := i * w.Channels
	var sum float64
	for c := 0; c < w.Channels; c++ {
		sum += float64(w.Samples[base+c])
	}
	return sum / float64(w.Channels) / 32768.0
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
