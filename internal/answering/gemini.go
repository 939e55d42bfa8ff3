package answering

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/generativelanguage/v1beta"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/codebuildervaibhav/transcript-agent/internal/failure"
	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

// Gemini answers through the Generative Language API.
type Gemini struct {
	APIKey      string
	Model       string
	Temperature float64
	// Endpoint overrides the API root; empty uses the public service.
	Endpoint string
}

func NewGemini(apiKey, model string, temperature float64) *Gemini {
	return &Gemini{
		APIKey:      apiKey,
		Model:       model,
		Temperature: temperature,
	}
}

func (g *Gemini) service(ctx context.Context) (*generativelanguage.Service, error) {
	opts := []option.ClientOption{option.WithAPIKey(g.APIKey)}
	if g.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(g.Endpoint, "/")+"/"))
	}
	return generativelanguage.NewService(ctx, opts...)
}

// buildRequest maps an answer request onto a generateContent call. Agent
// turns use the "model" role.
func (g *Gemini) buildRequest(req Request) *generativelanguage.GenerateContentRequest {
	body := &generativelanguage.GenerateContentRequest{
		SystemInstruction: &generativelanguage.Content{
			Parts: []*generativelanguage.Part{{Text: SystemPrompt(req.TranscriptContext)}},
		},
		GenerationConfig: &generativelanguage.GenerationConfig{
			Temperature:     g.Temperature,
			ForceSendFields: []string{"Temperature"},
		},
	}
	for _, turn := range req.History {
		role := "user"
		if turn.Role == types.RoleAgent {
			role = "model"
		}
		body.Contents = append(body.Contents, &generativelanguage.Content{
			Role:  role,
			Parts: []*generativelanguage.Part{{Text: turn.Content}},
		})
	}
	body.Contents = append(body.Contents, &generativelanguage.Content{
		Role:  "user",
		Parts: []*generativelanguage.Part{{Text: req.Question}},
	})
	return body
}

func (g *Gemini) modelName() string {
	if strings.HasPrefix(g.Model, "models/") {
		return g.Model
	}
	return "models/" + g.Model
}

func (g *Gemini) Answer(ctx context.Context, req Request) (string, error) {
	if g.APIKey == "" {
		return "", failure.Permanent("answer", errors.New("GEMINI_API_KEY is not set"))
	}

	svc, err := g.service(ctx)
	if err != nil {
		return "", failure.Permanent("answer", err)
	}

	resp, err := svc.Models.GenerateContent(g.modelName(), g.buildRequest(req)).Context(ctx).Do()
	if err != nil {
		return "", classifyAPIError(ctx, "answer", err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", failure.Permanent("answer", fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return "", failure.Transient("answer", errors.New("no candidates in response"))
	}

	candidate := resp.Candidates[0]
	var sb strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part != nil {
				sb.WriteString(part.Text)
			}
		}
	}
	answer := strings.TrimSpace(sb.String())
	if answer == "" {
		return "", failure.Transient("answer", fmt.Errorf("empty answer (finish reason %q)", candidate.FinishReason))
	}
	return answer, nil
}

// classifyAPIError sorts an SDK error by HTTP status. Transport errors are
// transient unless the caller gave up.
func classifyAPIError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = strings.TrimSpace(apiErr.Body)
		}
		return failure.FromHTTPStatus(op, apiErr.Code, msg)
	}
	return failure.Transient(op, err)
}
