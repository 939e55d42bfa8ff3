package transcription

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/codebuildervaibhav/transcript-agent/internal/failure"
	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

//go:embed assets/pyannote_diarize.py
var pyannoteScript []byte

// PyannoteDiarizer runs the pyannote speaker-diarization pipeline through a
// small Python helper and reads its JSON output.
type PyannoteDiarizer struct {
	python  string
	model   string
	token   string
	tempDir string
}

// NewPyannoteDiarizer creates a diarizer. token is the Hugging Face token
// the pretrained pipeline is gated behind.
func NewPyannoteDiarizer(python, model, token, tempDir string) *PyannoteDiarizer {
	if python == "" {
		python = "python"
	}
	return &PyannoteDiarizer{python: python, model: model, token: token, tempDir: tempDir}
}

func (d *PyannoteDiarizer) Diarize(ctx context.Context, wf types.Waveform) ([]types.SpeakerSegment, error) {
	if d.token == "" {
		return nil, failure.Permanent("diarize", errors.New("hugging face token is required for diarization"))
	}

	workDir, err := os.MkdirTemp(d.tempDir, "diarize_*")
	if err != nil {
		return nil, failure.Transient("diarize", err)
	}
	defer os.RemoveAll(workDir)

	audioPath := wf.Path
	if audioPath == "" {
		audioPath = filepath.Join(workDir, "input.wav")
		if err := WriteWAV(audioPath, wf); err != nil {
			return nil, failure.Permanent("diarize", err)
		}
	}

	scriptPath := filepath.Join(workDir, "pyannote_diarize.py")
	if err := os.WriteFile(scriptPath, pyannoteScript, 0o755); err != nil {
		return nil, failure.Transient("diarize", fmt.Errorf("write helper script: %w", err))
	}

	args := []string{scriptPath, "--audio", audioPath}
	if d.model != "" {
		args = append(args, "--model", d.model)
	}
	cmd := exec.CommandContext(ctx, d.python, args...)
	cmd.Env = append(os.Environ(), "HUGGINGFACE_TOKEN="+d.token)

	out, err := cmd.Output()
	if err != nil {
		return nil, classifyExecError(ctx, "diarize", err, nil)
	}
	return ParseDiarization(out)
}

type diarizationSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// ParseDiarization converts the helper's [{start, end, speaker}] output, with
// times in seconds, into speaker segments. Order is preserved.
func ParseDiarization(data []byte) ([]types.SpeakerSegment, error) {
	var raw []diarizationSegment
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, failure.Permanent("diarize", fmt.Errorf("parse diarization output: %w", err))
	}

	segments := make([]types.SpeakerSegment, 0, len(raw))
	for _, r := range raw {
		segments = append(segments, types.SpeakerSegment{
			Start:   secondsToDuration(r.Start),
			End:     secondsToDuration(r.End),
			Speaker: strings.TrimSpace(r.Speaker),
		})
	}
	return segments, nil
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec*1000+0.5) * time.Millisecond
}
