package transcript

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maauso/speakerscribe/internal/timecode"
)

// Line is one entry of the structured transcript document.
type Line struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Lines returns the conversation as speaker/text pairs in document order.
func (c Conversation) Lines() []Line {
	out := make([]Line, len(c.Segments))
	for i, s := range c.Segments {
		out[i] = Line{Speaker: s.Speaker, Text: strings.TrimSpace(s.Text)}
	}
	return out
}

// RenderJSON returns the structured document: a JSON array of
// {"speaker", "text"} objects.
func (c Conversation) RenderJSON() ([]byte, error) {
	data, err := json.MarshalIndent(c.Lines(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal transcript: %w", err)
	}
	return data, nil
}

// RenderText returns one "speaker: text" line per segment, newline-joined.
func (c Conversation) RenderText() string {
	lines := c.Lines()
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.Speaker + ": " + l.Text
	}
	return strings.Join(parts, "\n")
}

// RenderTimestamped is RenderText with a "[mm:ss-mm:ss] " prefix on each line.
func (c Conversation) RenderTimestamped() string {
	var b strings.Builder
	for i, s := range c.Segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s-%s] %s: %s", timecode.Format(s.Start), timecode.Format(s.End), s.Speaker, strings.TrimSpace(s.Text))
	}
	return b.String()
}
