package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// TargetSampleRate is the rate recordings are normalised to before processing.
// Both the transcription and embedding collaborators expect 16 kHz mono.
const TargetSampleRate = 16000

// SupportedExtensions lists the upload formats accepted by the pipeline.
var SupportedExtensions = []string{".wav", ".mp3", ".m4a", ".ogg", ".flac", ".aac", ".wma", ".mp4", ".webm"}

// IsSupported reports whether the file extension is an accepted upload format.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Converter normalises arbitrary audio files into PCM16 WAV.
type Converter interface {
	// Convert writes src as a mono 16 kHz PCM16 WAV file at dst.
	Convert(ctx context.Context, src, dst string) error
}

// FFmpegConverter implements Converter using the ffmpeg CLI.
type FFmpegConverter struct {
	ffmpegPath string
}

// NewFFmpegConverter creates a new FFmpegConverter.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
func NewFFmpegConverter(ffmpegPath string) *FFmpegConverter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegConverter{ffmpegPath: ffmpegPath}
}

// Convert implements Converter.Convert.
func (c *FFmpegConverter) Convert(ctx context.Context, src, dst string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", src)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-y",
		"-hide_banner",
		"-i", src,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(TargetSampleRate),
		"-c:a", "pcm_s16le",
		dst,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg error: %w, stderr: %s", err, stderr.String())
	}
	return nil
}

// Loader reads recordings from disk into waveforms, converting through a
// Converter when the file is not already mono PCM16 WAV at TargetSampleRate.
type Loader struct {
	converter Converter
	tempDir   string
}

// NewLoader creates a Loader. Converted files are written under tempDir
// and removed once decoded.
func NewLoader(converter Converter, tempDir string) *Loader {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Loader{converter: converter, tempDir: tempDir}
}

// Load decodes the recording at path.
func (l *Loader) Load(ctx context.Context, path string) (Waveform, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		w, err := decodeFile(path)
		switch {
		case err == nil && w.Channels == 1 && w.SampleRate == TargetSampleRate:
			return w, nil
		case err == nil && l.converter == nil:
			return Waveform{}, fmt.Errorf("%w: %s is %d Hz with %d channels and no converter is configured",
				ErrUnsupportedFormat, filepath.Base(path), w.SampleRate, w.Channels)
		case err != nil && !errors.Is(err, ErrUnsupportedFormat):
			return Waveform{}, err
		}
	}

	if l.converter == nil {
		return Waveform{}, fmt.Errorf("%w: no converter configured for %s", ErrUnsupportedFormat, filepath.Base(path))
	}

	if err := os.MkdirAll(l.tempDir, 0750); err != nil {
		return Waveform{}, fmt.Errorf("create temp directory: %w", err)
	}
	f, err := os.CreateTemp(l.tempDir, "normalized_*.wav")
	if err != nil {
		return Waveform{}, fmt.Errorf("create temp file: %w", err)
	}
	converted := f.Name()
	_ = f.Close()
	defer func() { _ = os.Remove(converted) }()

	if err := l.converter.Convert(ctx, path, converted); err != nil {
		return Waveform{}, fmt.Errorf("convert audio: %w", err)
	}
	return decodeFile(converted)
}

func decodeFile(path string) (Waveform, error) {
	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return Waveform{}, fmt.Errorf("open audio file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return DecodeWAV(f)
}
