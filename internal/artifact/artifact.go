// Package artifact renders an assembled transcript as an SRT subtitle file
// and as a plain-text document. Rendering is pure: the same transcript always
// produces byte-identical output.
package artifact

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

// EmptyLineMarker stands in for a line with no recognized speech in the
// document view.
const EmptyLineMarker = "(no speech recognized)"

// FormatTimestamp renders d as HH:MM:SS,mmm. Sub-millisecond precision is
// truncated, never rounded, so adjacent cues cannot be pushed into overlap.
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := int64(d / time.Millisecond)
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}

// ToSubtitle renders the transcript as SRT. Lines without text get no cue,
// and cues are numbered from 1 without gaps.
func ToSubtitle(t types.Transcript) []byte {
	var buf bytes.Buffer
	cue := 0
	for _, line := range t.Lines {
		if line.Text == "" {
			continue
		}
		cue++
		if cue > 1 {
			buf.WriteByte('\n')
		}
		fmt.Fprintf(&buf, "%d\n%s --> %s\n%s: %s\n",
			cue, FormatTimestamp(line.Start), FormatTimestamp(line.End), line.Speaker, line.Text)
	}
	return buf.Bytes()
}

// ToDocument renders the transcript as a readable document: a header with a
// speaker roster, then the lines in order with a blank line wherever the
// speaker changes.
func ToDocument(t types.Transcript) string {
	var sb strings.Builder

	sb.WriteString("Transcript\n")
	if t.SourceFileID != "" {
		fmt.Fprintf(&sb, "Source: %s\n", t.SourceFileID)
	}
	fmt.Fprintf(&sb, "Duration: %s\n", clock(t.TotalDuration))

	speakers := t.Speakers()
	if len(speakers) > 0 {
		sb.WriteString("\nSpeakers:\n")
		width := 0
		for _, sp := range speakers {
			if w := runewidth.StringWidth(sp); w > width {
				width = w
			}
		}
		talk := speakingTime(t)
		for _, sp := range speakers {
			fmt.Fprintf(&sb, "  %s  %s\n", runewidth.FillRight(sp, width), clock(talk[sp]))
		}
	}

	prev := ""
	for i, line := range t.Lines {
		if i == 0 || line.Speaker != prev {
			fmt.Fprintf(&sb, "\n%s:\n", line.Speaker)
			prev = line.Speaker
		}
		text := line.Text
		if text == "" {
			text = EmptyLineMarker
		}
		fmt.Fprintf(&sb, "[%s - %s] %s\n", clock(line.Start), clock(line.End), text)
	}
	return sb.String()
}

func speakingTime(t types.Transcript) map[string]time.Duration {
	out := make(map[string]time.Duration)
	for _, line := range t.Lines {
		out[line.Speaker] += line.End - line.Start
	}
	return out
}

// clock formats d as HH:MM:SS, truncated to whole seconds.
func clock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}
