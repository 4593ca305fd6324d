package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/youpy/go-wav"
)

// readBatch is the number of frames pulled from the WAV reader per call.
const readBatch = 4096

// WAVReader is the input accepted by DecodeWAV. *os.File and *bytes.Reader
// both satisfy it.
type WAVReader interface {
	io.Reader
	io.ReaderAt
}

// DecodeWAV reads a 16-bit PCM WAV stream into a Waveform.
// Streams with other encodings or more than two channels return
// ErrUnsupportedFormat so callers can fall back to a converter.
func DecodeWAV(r WAVReader) (Waveform, error) {
	reader := wav.NewReader(r)

	format, err := reader.Format()
	if err != nil {
		return Waveform{}, fmt.Errorf("read wav format: %w", err)
	}
	if format.AudioFormat != wav.AudioFormatPCM || format.BitsPerSample != 16 {
		return Waveform{}, fmt.Errorf("%w: format=%d bits=%d", ErrUnsupportedFormat, format.AudioFormat, format.BitsPerSample)
	}
	if format.NumChannels == 0 || format.NumChannels > 2 {
		return Waveform{}, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, format.NumChannels)
	}

	channels := int(format.NumChannels)
	w := Waveform{
		SampleRate: int(format.SampleRate),
		Channels:   channels,
	}

	for {
		samples, err := reader.ReadSamples(readBatch)
		for _, s := range samples {
			for c := 0; c < channels; c++ {
				w.Samples = append(w.Samples, int16(s.Values[c]))
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Waveform{}, fmt.Errorf("read wav samples: %w", err)
		}
		if len(samples) == 0 {
			break
		}
	}

	if err := w.Validate(); err != nil {
		return Waveform{}, err
	}
	return w, nil
}

// EncodeWAV writes the waveform as a 16-bit PCM WAV stream.
func EncodeWAV(dst io.Writer, w Waveform) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if w.Channels > 2 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, w.Channels)
	}

	frames := w.Frames()
	writer := wav.NewWriter(dst, uint32(frames), uint16(w.Channels), uint32(w.SampleRate), 16)

	batch := make([]wav.Sample, 0, readBatch)
	for i := 0; i < frames; i++ {
		var s wav.Sample
		for c := 0; c < w.Channels; c++ {
			s.Values[c] = int(w.Samples[i*w.Channels+c])
		}
		batch = append(batch, s)
		if len(batch) == cap(batch) {
			if err := writer.WriteSamples(batch); err != nil {
				return fmt.Errorf("write wav samples: %w", err)
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := writer.WriteSamples(batch); err != nil {
			return fmt.Errorf("write wav samples: %w", err)
		}
	}
	return nil
}

// WAVBytes serializes the waveform to an in-memory WAV file.
func WAVBytes(w Waveform) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(w.WAVSize()))
	if err := EncodeWAV(&buf, w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
