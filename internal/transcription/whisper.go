package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/codebuildervaibhav/transcript-agent/internal/failure"
	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

// WhisperTranscriber wraps Python's OpenAI Whisper for transcription.
// Each call handles one waveform slice in its own work directory, so calls
// may run concurrently.
type WhisperTranscriber struct {
	modelName string
	python    string
	language  string
	tempDir   string
}

// NewWhisperTranscriber creates a new transcriber using Python Whisper
func NewWhisperTranscriber(modelName, python, language, tempDir string) *WhisperTranscriber {
	if modelName == "" {
		modelName = "small"
	}
	if python == "" {
		python = "python"
	}
	return &WhisperTranscriber{
		modelName: modelName,
		python:    python,
		language:  language,
		tempDir:   tempDir,
	}
}

// Transcribe runs whisper over a single slice
func (wt *WhisperTranscriber) Transcribe(ctx context.Context, slice types.Waveform) (types.Recognition, error) {
	if len(slice.Samples) == 0 {
		return types.Recognition{}, nil
	}

	workDir, err := os.MkdirTemp(wt.tempDir, "whisper_*")
	if err != nil {
		return types.Recognition{}, failure.Transient("transcribe", fmt.Errorf("create work dir: %w", err))
	}
	defer os.RemoveAll(workDir)

	audioPath := filepath.Join(workDir, "segment.wav")
	if err := WriteWAV(audioPath, slice); err != nil {
		return types.Recognition{}, failure.Permanent("transcribe", err)
	}

	args := []string{"-m", "whisper",
		audioPath,
		"--model", wt.modelName,
		"--output_dir", workDir,
		"--output_format", "json",
		"--fp16", "False", // CPU compatibility
	}
	if wt.language != "" {
		args = append(args, "--language", wt.language)
	}

	cmd := exec.CommandContext(ctx, wt.python, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return types.Recognition{}, classifyExecError(ctx, "transcribe", err, output)
	}

	jsonData, err := os.ReadFile(filepath.Join(workDir, "segment.json"))
	if err != nil {
		return types.Recognition{}, failure.Transient("transcribe", fmt.Errorf("read whisper output: %w", err))
	}
	return ParseWhisperOutput(jsonData)
}

// WhisperOutput matches Python Whisper's JSON output format
type WhisperOutput struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []WhisperSegment `json:"segments"`
}

// WhisperSegment represents a timestamped segment from Whisper
type WhisperSegment struct {
	ID           int     `json:"id"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// ParseWhisperOutput converts whisper's JSON into a recognition. Confidence
// is the mean speech probability of the recognized segments.
func ParseWhisperOutput(data []byte) (types.Recognition, error) {
	var out WhisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return types.Recognition{}, failure.Permanent("transcribe", fmt.Errorf("parse whisper JSON: %w", err))
	}

	rec := types.Recognition{Text: strings.TrimSpace(out.Text)}
	if len(out.Segments) > 0 {
		var sum float64
		for _, seg := range out.Segments {
			sum += 1 - seg.NoSpeechProb
		}
		confidence := sum / float64(len(out.Segments))
		rec.Confidence = &confidence
	}
	return rec, nil
}
