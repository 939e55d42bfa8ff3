package transcription

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/codebuildervaibhav/transcript-agent/internal/failure"
	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

// Normalizer decodes input media into the canonical mono waveform.
type Normalizer interface {
	Normalize(ctx context.Context, inputPath string) (types.Waveform, error)
}

// Diarizer splits a waveform into speaker-labeled segments, sorted by start.
type Diarizer interface {
	Diarize(ctx context.Context, wf types.Waveform) ([]types.SpeakerSegment, error)
}

// Transcriber recognizes the speech in one waveform slice. An empty text is
// a valid result; errors are classified as transient or permanent.
type Transcriber interface {
	Transcribe(ctx context.Context, slice types.Waveform) (types.Recognition, error)
}

// Compile-time interface implementation checks.
var (
	_ Normalizer  = (*FFmpegNormalizer)(nil)
	_ Diarizer    = (*PyannoteDiarizer)(nil)
	_ Transcriber = (*WhisperTranscriber)(nil)
	_ Transcriber = (*OpenAITranscriber)(nil)
)

// classifyExecError turns a failed subprocess run into a taxonomy error.
// Context errors are passed through wrapped so the retry policy can tell a
// per-call timeout from cancellation of the whole job.
func classifyExecError(ctx context.Context, op string, err error, output []byte) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return failure.Permanent(op, err)
	}
	detail := strings.TrimSpace(string(output))
	if len(detail) > 2000 {
		detail = detail[len(detail)-2000:]
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if detail == "" {
			detail = strings.TrimSpace(string(exitErr.Stderr))
		}
		// Helper scripts exit with 3 on configuration/auth problems.
		if exitErr.ExitCode() == 3 {
			return failure.Permanent(op, fmt.Errorf("%v: %s", err, detail))
		}
		return failure.Transient(op, fmt.Errorf("%v: %s", err, detail))
	}
	return failure.Transient(op, err)
}
