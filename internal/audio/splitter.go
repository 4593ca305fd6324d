package audio

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrMaxBytesTooSmall is returned when the chunk size limit cannot hold even one frame.
var ErrMaxBytesTooSmall = errors.New("audio: max chunk size too small")

// SplitOpts configures the behavior of audio splitting.
type SplitOpts struct {
	// MaxBytes is the largest serialized WAV size a chunk may have.
	// Default: 10 MiB.
	MaxBytes int64

	// MinChunkSec is the shortest chunk worth transcribing. Shorter chunks
	// are dropped by Transcribable before dispatch.
	// Default: 1 second.
	MinChunkSec float64
}

// DefaultSplitOpts returns the default options for audio splitting.
func DefaultSplitOpts() SplitOpts {
	return SplitOpts{
		MaxBytes:    10 * 1024 * 1024,
		MinChunkSec: 1,
	}
}

// Chunk is a contiguous slice of a waveform together with its position.
type Chunk struct {
	// Index is the zero-based position of the chunk in split order.
	Index int
	// Offset is where the chunk begins in the source waveform, in seconds.
	Offset float64
	// Waveform holds the chunk's samples.
	Waveform Waveform
}

// Duration returns the length of the chunk in seconds.
func (c Chunk) Duration() float64 {
	return c.Waveform.Seconds()
}

// End returns where the chunk ends in the source waveform, in seconds.
func (c Chunk) End() float64 {
	return c.Offset + c.Duration()
}

// Splitter defines the interface for dividing a waveform into
// transcription-sized chunks.
type Splitter interface {
	// Split divides w into ordered, non-overlapping chunks whose serialized
	// size does not exceed opts.MaxBytes. Concatenating the chunks in order
	// reproduces w exactly.
	Split(w Waveform, opts SplitOpts) ([]Chunk, error)
}

// SizeSplitter implements Splitter with equal-duration slices.
type SizeSplitter struct{}

// NewSizeSplitter creates a new SizeSplitter.
func NewSizeSplitter() *SizeSplitter {
	return &SizeSplitter{}
}

// Split implements Splitter.Split.
func (SizeSplitter) Split(w Waveform, opts SplitOpts) ([]Chunk, error) {
	return Split(w, opts.MaxBytes)
}

// Split divides w into equal-duration chunks that each fit in maxBytes.
// A waveform that already fits is returned as a single chunk at offset 0.
func Split(w Waveform, maxBytes int64) ([]Chunk, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	blockAlign := int64(w.Channels * bytesPerSample)
	if maxBytes < wavHeaderSize+blockAlign {
		return nil, fmt.Errorf("%w: %d bytes", ErrMaxBytesTooSmall, maxBytes)
	}

	total := w.WAVSize()
	if total <= maxBytes {
		return []Chunk{{Index: 0, Offset: 0, Waveform: w}}, nil
	}

	frames := w.Frames()
	n := int((total + maxBytes - 1) / maxBytes)
	framesPer := ceilDiv(frames, n)
	for wavHeaderSize+int64(framesPer)*blockAlign > maxBytes {
		n++
		framesPer = ceilDiv(frames, n)
	}

	chunks := make([]Chunk, 0, n)
	for start := 0; start < frames; start += framesPer {
		chunks = append(chunks, Chunk{
			Index:    len(chunks),
			Offset:   float64(start) / float64(w.SampleRate),
			Waveform: w.Slice(start, start+framesPer),
		})
	}
	return chunks, nil
}

// Transcribable drops chunks shorter than minSec, logging each one.
// Remaining chunks keep their original Index.
func Transcribable(chunks []Chunk, minSec float64, logger *slog.Logger) []Chunk {
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Duration() < minSec {
			logger.Warn("skipping chunk below minimum duration",
				slog.Int("chunk", c.Index),
				slog.Float64("offset_sec", c.Offset),
				slog.Float64("duration_sec", c.Duration()),
				slog.Float64("min_sec", minSec),
			)
			continue
		}
		out = append(out, c)
	}
	return out
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Verify interface implementation at compile time.
var _ Splitter = (*SizeSplitter)(nil)
