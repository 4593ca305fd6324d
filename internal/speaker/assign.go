package speaker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/maauso/speakerscribe/internal/audio"
	"github.com/maauso/speakerscribe/internal/embedding"
)

// Reserved labels. Enroll refuses them as speaker names.
const (
	// LabelTooShort marks a segment too short to classify.
	LabelTooShort = "short_segment"
	// LabelUnknown marks a segment with no acceptable match.
	LabelUnknown = "unknown"
)

// ErrDimensionMismatch is returned when two embeddings differ in length.
var ErrDimensionMismatch = errors.New("speaker: embedding dimensions differ")

// AssignOpts configures an Assigner.
type AssignOpts struct {
	// MinSegment is the shortest segment that is embedded at all.
	// Default: 400 milliseconds.
	MinSegment time.Duration

	// MaxDistance, when positive, is the largest cosine distance accepted as
	// a match; farther segments are labelled LabelUnknown. Zero disables it.
	MaxDistance float64
}

// DefaultAssignOpts returns the default assignment options.
func DefaultAssignOpts() AssignOpts {
	return AssignOpts{MinSegment: 400 * time.Millisecond}
}

// Assignment is the label chosen for one segment.
type Assignment struct {
	Speaker string
	// Distance is the cosine distance to the chosen profile, or -1 when no
	// embedding was compared.
	Distance float64
}

// Embedded reports whether the assignment came from an embedding comparison.
func (a Assignment) Embedded() bool {
	return a.Distance >= 0
}

// Assigner matches segment audio to the nearest enrolled profile.
type Assigner struct {
	embedder embedding.Embedder
	profiles []Profile
	opts     AssignOpts
}

// NewAssigner creates an Assigner over profiles, which must stay unmodified
// for the Assigner's lifetime.
func NewAssigner(embedder embedding.Embedder, profiles []Profile, opts AssignOpts) *Assigner {
	return &Assigner{embedder: embedder, profiles: profiles, opts: opts}
}

// Assign labels the segment clip.
//
// Clips shorter than MinSegment get LabelTooShort without an embedding call.
// With no profiles the label is LabelUnknown. Otherwise the profile at the
// smallest cosine distance wins; on a tie the earlier profile is kept.
func (a *Assigner) Assign(ctx context.Context, clip audio.Waveform) (Assignment, error) {
	if clip.Duration() < a.opts.MinSegment || clip.Empty() {
		return Assignment{Speaker: LabelTooShort, Distance: -1}, nil
	}
	if len(a.profiles) == 0 {
		return Assignment{Speaker: LabelUnknown, Distance: -1}, nil
	}

	vec, err := a.embedder.Embed(ctx, clip)
	if err != nil {
		return Assignment{}, fmt.Errorf("embed segment: %w", err)
	}

	return a.nearest(vec)
}

func (a *Assigner) nearest(vec []float64) (Assignment, error) {
	best := Assignment{Speaker: LabelUnknown, Distance: math.Inf(1)}
	for _, p := range a.profiles {
		d, err := CosineDistance(vec, p.Embedding)
		if err != nil {
			return Assignment{}, fmt.Errorf("compare with %s: %w", p.Name, err)
		}
		if d < best.Distance {
			best = Assignment{Speaker: p.Name, Distance: d}
		}
	}

	if a.opts.MaxDistance > 0 && best.Distance > a.opts.MaxDistance {
		best.Speaker = LabelUnknown
	}
	return best, nil
}

// CosineDistance returns 1 - cos(a, b), in [0, 2].
// A zero-length vector is at distance 1 from everything.
func CosineDistance(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1, nil
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	sim = math.Max(-1, math.Min(1, sim))
	return 1 - sim, nil
}
