// Package timecode parses the "mm:ss" and "h:mm:ss" time strings used to
// mark speaker enrollment windows, and models the resulting time ranges.
package timecode

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Static errors for time parsing and validation.
var (
	// ErrFormat is returned when a time string is neither "mm:ss" nor "h:mm:ss".
	ErrFormat = errors.New("timecode: invalid time format")
	// ErrInvalidRange is returned when a range does not end after it starts.
	ErrInvalidRange = errors.New("timecode: range end must be after start")
)

// Range is a half-open interval of a recording, in seconds.
type Range struct {
	Start float64 `json:"start_sec" yaml:"start_sec"`
	End   float64 `json:"end_sec" yaml:"end_sec"`
}

// Validate returns ErrInvalidRange unless End > Start and Start is not negative.
func (r Range) Validate() error {
	if r.Start < 0 || r.End <= r.Start {
		return fmt.Errorf("%w: start=%.3f end=%.3f", ErrInvalidRange, r.Start, r.End)
	}
	return nil
}

// Duration returns End - Start in seconds.
func (r Range) Duration() float64 {
	return r.End - r.Start
}

// String formats the range as "start-end" time strings.
func (r Range) String() string {
	return Format(r.Start) + "-" + Format(r.End)
}

// Parse converts "mm:ss" or "h:mm:ss" to seconds.
// Every field must be a non-negative integer; seconds must be below 60, and
// in the three-field form minutes must be below 60 too.
func Parse(s string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrFormat, s)
	}

	fields := make([]int, len(parts))
	for i, p := range parts {
		if p == "" || strings.ContainsAny(p, "+-") {
			return 0, fmt.Errorf("%w: %q", ErrFormat, s)
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrFormat, s)
		}
		fields[i] = v
	}

	if fields[len(fields)-1] >= 60 {
		return 0, fmt.Errorf("%w: seconds out of range in %q", ErrFormat, s)
	}

	if len(fields) == 2 {
		return float64(fields[0]*60 + fields[1]), nil
	}
	if fields[1] >= 60 {
		return 0, fmt.Errorf("%w: minutes out of range in %q", ErrFormat, s)
	}
	return float64(fields[0]*3600 + fields[1]*60 + fields[2]), nil
}

// ParseRange parses start and end strings into a validated Range.
func ParseRange(start, end string) (Range, error) {
	s, err := Parse(start)
	if err != nil {
		return Range{}, fmt.Errorf("start: %w", err)
	}
	e, err := Parse(end)
	if err != nil {
		return Range{}, fmt.Errorf("end: %w", err)
	}
	r := Range{Start: s, End: e}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

// Format renders seconds as "mm:ss", or "hh:mm:ss" from one hour up.
func Format(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	total := int(sec)
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
