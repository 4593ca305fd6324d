// Package speaker builds reference voice profiles for enrolled speakers and
// attributes transcribed segments to the closest one.
package speaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maauso/speakerscribe/internal/audio"
	"github.com/maauso/speakerscribe/internal/embedding"
	"github.com/maauso/speakerscribe/internal/timecode"
)

// ErrNoSpeakers is returned when enrollment produced no usable profile.
var ErrNoSpeakers = errors.New("speaker: no speakers enrolled")

// Enrollment names a speaker and the window of the recording where only
// they are talking.
type Enrollment struct {
	Name  string
	Range timecode.Range
}

// Profile is the reference embedding of one enrolled speaker.
// Profiles are immutable once created and safe to share between goroutines.
type Profile struct {
	Name      string
	Embedding []float64
}

// Skipped records an enrollment that did not yield a profile.
type Skipped struct {
	Name   string
	Reason string
}

// EnrollResult is the outcome of Enroll.
type EnrollResult struct {
	// Profiles are in enrollment order.
	Profiles []Profile
	Skipped  []Skipped
}

// Enroll builds one profile per valid enrollment by embedding the matching
// slice of the full recording.
//
// Invalid ranges, empty slices, embedding failures, reserved labels and
// repeated names are logged and skipped; they never abort the run. Only a cancelled context
// returns an error.
func Enroll(ctx context.Context, full audio.Waveform, enrollments []Enrollment, embedder embedding.Embedder, logger *slog.Logger) (EnrollResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var res EnrollResult
	seen := make(map[string]bool, len(enrollments))
	skip := func(e Enrollment, reason string) {
		logger.Warn("skipping speaker enrollment",
			slog.String("speaker", e.Name),
			slog.String("range", e.Range.String()),
			slog.String("reason", reason),
		)
		res.Skipped = append(res.Skipped, Skipped{Name: e.Name, Reason: reason})
	}

	for _, e := range enrollments {
		if err := ctx.Err(); err != nil {
			return EnrollResult{}, fmt.Errorf("enrollment cancelled: %w", err)
		}

		if e.Name == "" {
			skip(e, "empty speaker name")
			continue
		}
		if e.Name == LabelTooShort || e.Name == LabelUnknown {
			skip(e, "reserved speaker name")
			continue
		}
		if seen[e.Name] {
			skip(e, "duplicate speaker name")
			continue
		}
		if err := e.Range.Validate(); err != nil {
			skip(e, err.Error())
			continue
		}

		clip := full.SliceSeconds(e.Range.Start, e.Range.End)
		if clip.Empty() {
			skip(e, "range lies outside the recording")
			continue
		}

		vec, err := embedder.Embed(ctx, clip)
		if err != nil {
			if ctx.Err() != nil {
				return EnrollResult{}, fmt.Errorf("enrollment cancelled: %w", ctx.Err())
			}
			skip(e, "embedding failed: "+err.Error())
			continue
		}

		seen[e.Name] = true
		res.Profiles = append(res.Profiles, Profile{Name: e.Name, Embedding: vec})
		logger.Info("speaker enrolled",
			slog.String("speaker", e.Name),
			slog.String("range", e.Range.String()),
			slog.Int("dims", len(vec)),
		)
	}

	return res, nil
}
