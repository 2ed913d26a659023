package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/eyecheck/gateway/pkg/models"
)

// Gemini calls the Gemini API.
type Gemini struct {
	name   string
	client *genai.Client
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, name, apiKey string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Gemini{name: name, client: client}, nil
}

// Name returns the configured provider name.
func (p *Gemini) Name() string {
	return p.name
}

func (p *Gemini) request(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.Input))
	for _, t := range req.Input {
		role := genai.RoleUser
		if t.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: t.Content}},
		})
	}

	cfg := &genai.GenerateContentConfig{}
	if req.SystemInstructions != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstructions, "")
	}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.TopP != nil {
		cfg.TopP = genai.Ptr(float32(*req.TopP))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	applyThinking(cfg, req.Model, req.ReasoningEffort)
	return contents, cfg
}

// applyThinking maps a reasoning effort hint onto the model family's
// thinking controls. Models without thinking support are left alone.
func applyThinking(cfg *genai.GenerateContentConfig, model, effort string) {
	if effort == "" {
		return
	}
	isG3 := strings.Contains(model, "gemini-3")
	isG25 := strings.Contains(model, "gemini-2.5")
	if !isG3 && !isG25 {
		return
	}

	cfg.ThinkingConfig = &genai.ThinkingConfig{}
	high := effort == "high" || effort == "medium"
	switch {
	case isG3 && high:
		cfg.ThinkingConfig.ThinkingLevel = genai.ThinkingLevel("high")
	case isG3:
		cfg.ThinkingConfig.ThinkingLevel = genai.ThinkingLevel("low")
	case high || strings.Contains(model, "pro"):
		// Pro models cannot turn thinking off.
		cfg.ThinkingConfig.ThinkingBudget = genai.Ptr[int32](-1)
	default:
		cfg.ThinkingConfig.ThinkingBudget = genai.Ptr[int32](0)
	}
}

func usageFrom(md *genai.GenerateContentResponseUsageMetadata) *models.Usage {
	if md == nil {
		return nil
	}
	return &models.Usage{
		PromptTokens:     int(md.PromptTokenCount),
		CompletionTokens: int(md.CandidatesTokenCount),
		TotalTokens:      int(md.TotalTokenCount),
	}
}

// Generate runs GenerateContent.
func (p *Gemini) Generate(ctx context.Context, req Request) (Response, error) {
	contents, cfg := p.request(req)
	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return Response{}, geminiError("gemini", err)
	}
	return Response{Text: resp.Text(), Usage: usageFrom(resp.UsageMetadata)}, nil
}

// GenerateStreaming runs GenerateContentStream.
func (p *Gemini) GenerateStreaming(ctx context.Context, req Request) (iter.Seq2[string, error], error) {
	contents, cfg := p.request(req)
	return func(yield func(string, error) bool) {
		for resp, err := range p.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
			if err != nil {
				yield("", geminiError("gemini stream", err))
				return
			}
			if text := resp.Text(); text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
	}, nil
}

func geminiError(prefix string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return wrapStatus(prefix, apiErr.Code, err)
	}
	return fmt.Errorf("%s: %w", prefix, err)
}
