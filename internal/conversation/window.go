package conversation

import (
	"strings"

	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

// WindowPolicy bounds the history sent with each question. Zero disables a
// limit. The transcript is never counted against it.
type WindowPolicy struct {
	MaxTurns  int
	MaxTokens int
}

// EstimateTokens approximates a token count as a quarter of the byte length,
// at least 1 for non-blank text.
func EstimateTokens(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	t := len(s) / 4
	if t < 1 {
		t = 1
	}
	return t
}

// Window returns the newest suffix of history that fits the policy, with
// reserved tokens already spoken for by the pending question. Oldest turns
// go first; the kept turns keep their order. A window never starts with an
// agent turn, so every answer it contains still has its question.
func Window(history []types.Turn, reserved int, p WindowPolicy) []types.Turn {
	start := 0
	if p.MaxTurns > 0 && len(history) > p.MaxTurns {
		start = len(history) - p.MaxTurns
	}

	if p.MaxTokens > 0 {
		used := reserved
		for i := len(history) - 1; i >= start; i-- {
			used += EstimateTokens(history[i].Content)
			if used > p.MaxTokens {
				start = i + 1
				break
			}
		}
	}

	for start < len(history) && history[start].Role == types.RoleAgent {
		start++
	}

	out := make([]types.Turn, len(history)-start)
	copy(out, history[start:])
	return out
}
