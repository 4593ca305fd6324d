// Package transcribe turns bounded audio clips into timestamped text
// segments using a remote speech-to-text service.
package transcribe

import (
	"context"
	"errors"

	"github.com/maauso/speakerscribe/internal/audio"
)

// Static errors for transcription client operations.
var (
	// ErrAPIKeyRequired is returned when no API key is configured.
	ErrAPIKeyRequired = errors.New("transcribe: API key is required")
	// ErrEmptyClip is returned when asked to transcribe a clip with no frames.
	ErrEmptyClip = errors.New("transcribe: empty clip")
	// ErrClipTooLarge is returned when a clip exceeds the service upload limit.
	ErrClipTooLarge = errors.New("transcribe: clip exceeds upload limit")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("transcribe: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("transcribe: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("transcribe: request failed")
)

// Segment is a span of transcribed speech. Start and End are seconds
// relative to the beginning of the transcribed clip.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// Transcriber converts one audio clip into ordered segments.
// It returns either the full segment list or an error, never a partial result.
type Transcriber interface {
	Transcribe(ctx context.Context, clip audio.Waveform, language string) ([]Segment, error)
}
