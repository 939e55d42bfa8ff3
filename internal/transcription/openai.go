package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/codebuildervaibhav/transcript-agent/internal/failure"
	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

// OpenAITranscriber sends each slice to the OpenAI audio transcription API.
type OpenAITranscriber struct {
	apiKey  string
	model   string
	baseURL string
	tempDir string
}

// NewOpenAITranscriber creates a transcriber for the hosted API
func NewOpenAITranscriber(apiKey, model, tempDir string) *OpenAITranscriber {
	return &OpenAITranscriber{
		apiKey:  apiKey,
		model:   model,
		tempDir: tempDir,
	}
}

// WithBaseURL overrides the API root (proxies, tests).
func (o *OpenAITranscriber) WithBaseURL(url string) *OpenAITranscriber {
	o.baseURL = url
	return o
}

func (o *OpenAITranscriber) client() openai.Client {
	// Retries belong to the segment retry policy.
	opts := []option.RequestOption{option.WithAPIKey(o.apiKey), option.WithMaxRetries(0)}
	if o.baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(o.baseURL, "/")+"/"))
	}
	return openai.NewClient(opts...)
}

func (o *OpenAITranscriber) Transcribe(ctx context.Context, slice types.Waveform) (types.Recognition, error) {
	if len(slice.Samples) == 0 {
		return types.Recognition{}, nil
	}
	if o.apiKey == "" {
		return types.Recognition{}, failure.Permanent("transcribe", fmt.Errorf("OPENAI_API_KEY is not set"))
	}

	// The wav encoder needs a seekable writer.
	tmp, err := os.CreateTemp(o.tempDir, "stt-*.wav")
	if err != nil {
		return types.Recognition{}, failure.Transient("transcribe", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	if err := EncodeWAV(tmp, slice); err != nil {
		return types.Recognition{}, failure.Permanent("transcribe", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return types.Recognition{}, failure.Transient("transcribe", err)
	}

	client := o.client()
	resp, err := client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model:          openai.AudioModel(o.model),
		File:           tmp,
		ResponseFormat: openai.AudioResponseFormatJSON,
	})
	if err != nil {
		if ctx.Err() != nil {
			return types.Recognition{}, fmt.Errorf("transcribe: %w", ctx.Err())
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return types.Recognition{}, failure.FromHTTPStatus("transcribe", apiErr.StatusCode, apiErr.Message)
		}
		return types.Recognition{}, failure.Transient("transcribe", err)
	}
	return types.Recognition{Text: strings.TrimSpace(resp.Text)}, nil
}
