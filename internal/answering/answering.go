// Package answering is the port to the external language model that answers
// questions about a transcript.
package answering

import (
	"context"
	"strings"

	"github.com/codebuildervaibhav/transcript-agent/internal/artifact"
	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

// Request carries everything the model needs for one answer. The model keeps
// no state between calls.
type Request struct {
	// TranscriptContext is the full rendered transcript, never truncated.
	TranscriptContext string
	// History is the windowed conversation so far, oldest first. It does
	// not include Question.
	History  []types.Turn
	Question string
}

// Model answers one question.
type Model interface {
	Answer(ctx context.Context, req Request) (string, error)
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(ctx context.Context, req Request) (string, error)

func (f ModelFunc) Answer(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// RenderContext renders a transcript as the grounding context handed to the
// model: one "[start --> end] speaker: text" line per transcript line.
func RenderContext(t types.Transcript) string {
	var sb strings.Builder
	for _, line := range t.Lines {
		sb.WriteString("[")
		sb.WriteString(artifact.FormatTimestamp(line.Start))
		sb.WriteString(" --> ")
		sb.WriteString(artifact.FormatTimestamp(line.End))
		sb.WriteString("] ")
		sb.WriteString(line.Speaker)
		sb.WriteString(": ")
		sb.WriteString(line.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// SystemPrompt builds the analysis instructions with the transcript embedded
// as the sole source of truth.
func SystemPrompt(transcriptContext string) string {
	var sb strings.Builder
	sb.WriteString("You are a language analysis assistant. You analyze a transcribed conversation, podcast or speech ")
	sb.WriteString("and answer the user's questions about it thoughtfully and accurately.\n\n")
	sb.WriteString("You can:\n")
	sb.WriteString("1. Summarize the whole conversation or a specific speaker's contributions.\n")
	sb.WriteString("2. Identify the key topics and themes discussed.\n")
	sb.WriteString("3. Answer detailed questions such as what a speaker thought about a topic.\n")
	sb.WriteString("4. Structure content as outlines, categories or concise bullet points.\n\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Base every answer only on the transcript below.\n")
	sb.WriteString("- Do not invent information that is not in the transcript.\n")
	sb.WriteString("- Quote the transcript only when the user asks for a quote.\n")
	sb.WriteString("- Refer to speakers by their labels.\n\n")
	sb.WriteString("Transcript (sole source of truth):\n")
	sb.WriteString(transcriptContext)
	sb.WriteString("\nAnswer the user's current question using the conversation history for context.")
	return sb.String()
}
