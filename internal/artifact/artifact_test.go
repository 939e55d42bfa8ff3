package artifact

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

func ms(n int64) time.Duration { return time.Duration(n) * time.Millisecond }

func sample() types.Transcript {
	return types.Transcript{
		SourceFileID:  "meeting.mp3",
		TotalDuration: ms(9000),
		Lines: []types.TranscriptLine{
			{Index: 0, Start: 0, End: ms(2000), Speaker: "SPEAKER_00", Text: "Hello everyone."},
			{Index: 1, Start: ms(2000), End: ms(3500), Speaker: "SPEAKER_00", Text: ""},
			{Index: 2, Start: ms(3500), End: ms(6250), Speaker: "B", Text: "Thanks for joining."},
			{Index: 3, Start: ms(6250), End: ms(9000), Speaker: "SPEAKER_00", Text: "Let's begin."},
		},
	}
}

func TestFormatTimestamp(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00,000"},
		{ms(1), "00:00:00,001"},
		{ms(61_500), "00:01:01,500"},
		{ms(3_723_004), "01:02:03,004"},
		{1999999 * time.Microsecond, "00:00:01,999"},
		{-time.Second, "00:00:00,000"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatTimestamp(tc.in), tc.in.String())
	}
}

func TestToSubtitleSnapshot(t *testing.T) {
	want := "1\n" +
		"00:00:00,000 --> 00:00:02,000\n" +
		"SPEAKER_00: Hello everyone.\n" +
		"\n" +
		"2\n" +
		"00:00:03,500 --> 00:00:06,250\n" +
		"B: Thanks for joining.\n" +
		"\n" +
		"3\n" +
		"00:00:06,250 --> 00:00:09,000\n" +
		"SPEAKER_00: Let's begin.\n"
	assert.Equal(t, want, string(ToSubtitle(sample())))
}

func TestToSubtitleSkipsEmptyCue(t *testing.T) {
	tr := types.Transcript{Lines: []types.TranscriptLine{
		{Index: 0, Start: 0, End: ms(1000), Speaker: "A", Text: "one"},
		{Index: 1, Start: ms(1000), End: ms(2000), Speaker: "B", Text: ""},
		{Index: 2, Start: ms(2000), End: ms(3000), Speaker: "A", Text: "two"},
	}}

	out := string(ToSubtitle(tr))
	blocks := strings.Split(strings.TrimSuffix(out, "\n"), "\n\n")
	require.Len(t, blocks, 2)
	assert.True(t, strings.HasPrefix(blocks[0], "1\n00:00:00,000 --> 00:00:01,000\n"))
	assert.True(t, strings.HasPrefix(blocks[1], "2\n00:00:02,000 --> 00:00:03,000\n"))
	assert.NotContains(t, out, "B:")
}

func TestToSubtitleCuesDoNotOverlap(t *testing.T) {
	tr := types.Transcript{Lines: []types.TranscriptLine{
		{Index: 0, Start: 0, End: 1_000_999_999, Speaker: "A", Text: "a"},
		{Index: 1, Start: 1_000_999_999, End: 2_500_000_000, Speaker: "B", Text: "b"},
	}}
	out := string(ToSubtitle(tr))
	assert.Contains(t, out, "00:00:00,000 --> 00:00:01,000\n")
	assert.Contains(t, out, "00:00:01,000 --> 00:00:02,500\n")
}

func TestToSubtitleEmptyTranscript(t *testing.T) {
	assert.Empty(t, ToSubtitle(types.Transcript{}))
}

func TestToDocumentSnapshot(t *testing.T) {
	want := "Transcript\n" +
		"Source: meeting.mp3\n" +
		"Duration: 00:00:09\n" +
		"\n" +
		"Speakers:\n" +
		"  SPEAKER_00  00:00:06\n" +
		"  B           00:00:02\n" +
		"\n" +
		"SPEAKER_00:\n" +
		"[00:00:00 - 00:00:02] Hello everyone.\n" +
		"[00:00:02 - 00:00:03] (no speech recognized)\n" +
		"\n" +
		"B:\n" +
		"[00:00:03 - 00:00:06] Thanks for joining.\n" +
		"\n" +
		"SPEAKER_00:\n" +
		"[00:00:06 - 00:00:09] Let's begin.\n"
	assert.Equal(t, want, ToDocument(sample()))
}

func TestRenderingIsDeterministic(t *testing.T) {
	assert.Equal(t, ToSubtitle(sample()), ToSubtitle(sample()))
	assert.Equal(t, ToDocument(sample()), ToDocument(sample()))
}
