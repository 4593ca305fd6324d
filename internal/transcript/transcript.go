// Package transcript merges per-chunk, speaker-labelled segments into one
// globally ordered conversation and renders it.
package transcript

import (
	"sort"
)

// Segment is a labelled span of speech. In a ChunkResult its times are
// relative to the chunk; in a Conversation they are relative to the whole
// (silence-trimmed) recording.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker"`
}

// ChunkResult is what one chunk worker hands to the reducer.
type ChunkResult struct {
	// Index is the chunk's split position.
	Index int
	// Offset is the chunk start within the recording, in seconds.
	Offset float64
	// Segments are chunk-relative and already labelled.
	Segments []Segment
	// FailedSegments counts segments dropped because labelling failed.
	FailedSegments int
	// Err is set when the whole chunk failed; Segments is then empty.
	Err error
}

// Failed reports whether the chunk contributed nothing because of an error.
func (r ChunkResult) Failed() bool {
	return r.Err != nil
}

// Conversation is the final, time-ordered transcript.
type Conversation struct {
	Segments []Segment `json:"segments"`
	// Duration is the length of the recording the segments refer to.
	Duration float64 `json:"duration"`
}

// Assemble converts every chunk's segments to global time and returns them
// as one conversation ordered by start time.
//
// Results are processed in chunk index order regardless of the order they
// are passed in. Segments starting at or past duration are dropped and ends
// are clamped to it; a non-positive duration disables clamping.
func Assemble(results []ChunkResult, duration float64) Conversation {
	ordered := make([]ChunkResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	conv := Conversation{Duration: duration, Segments: make([]Segment, 0)}
	for _, r := range ordered {
		if r.Failed() {
			continue
		}
		for _, s := range r.Segments {
			g := Segment{
				Start:   r.Offset + s.Start,
				End:     r.Offset + s.End,
				Text:    s.Text,
				Speaker: s.Speaker,
			}
			if duration > 0 {
				if g.Start >= duration {
					continue
				}
				g.End = min(g.End, duration)
			}
			g.End = max(g.End, g.Start)
			conv.Segments = append(conv.Segments, g)
		}
	}

	// Chunks never overlap, so this only reorders within a chunk whose
	// segments arrived out of order.
	sort.SliceStable(conv.Segments, func(i, j int) bool {
		return conv.Segments[i].Start < conv.Segments[j].Start
	})
	return conv
}

// Len returns the number of segments.
func (c Conversation) Len() int {
	return len(c.Segments)
}

// Speakers returns the distinct speaker labels in order of first appearance.
func (c Conversation) Speakers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range c.Segments {
		if !seen[s.Speaker] {
			seen[s.Speaker] = true
			out = append(out, s.Speaker)
		}
	}
	return out
}
