package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/eyecheck/gateway/pkg/models"
)

// OpenAI calls an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	name   string
	client openai.Client
}

// NewOpenAI creates an OpenAI provider. An empty baseURL uses the default
// API endpoint.
func NewOpenAI(name, baseURL, apiKey string, opts ...option.RequestOption) *OpenAI {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)
	return &OpenAI{name: name, client: openai.NewClient(reqOpts...)}
}

// Name returns the configured provider name.
func (p *OpenAI) Name() string {
	return p.name
}

func (p *OpenAI) params(req Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemInstructions != "" {
		messages = append(messages, openai.SystemMessage(req.SystemInstructions))
	}
	for _, t := range req.Input {
		if t.Role == models.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(t.Content))
		} else {
			messages = append(messages, openai.UserMessage(t.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.ReasoningEffort != "" && supportsReasoning(req.Model) {
		params.ReasoningEffort = shared.ReasoningEffort(req.ReasoningEffort)
	}
	return params
}

// supportsReasoning reports whether model accepts reasoning_effort.
func supportsReasoning(model string) bool {
	return strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") ||
		strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5")
}

// Generate runs a chat completion.
func (p *OpenAI) Generate(ctx context.Context, req Request) (Response, error) {
	completion, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return Response{}, openaiError("openai", err)
	}
	if len(completion.Choices) == 0 {
		return Response{}, fmt.Errorf("openai: no choices in response")
	}
	return Response{
		Text: completion.Choices[0].Message.Content,
		Usage: &models.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil
}

// GenerateStreaming runs a streamed chat completion. The HTTP request is sent
// on the first iteration.
func (p *OpenAI) GenerateStreaming(ctx context.Context, req Request) (iter.Seq2[string, error], error) {
	params := p.params(req)
	return func(yield func(string, error) bool) {
		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield("", openaiError("openai stream", err))
		}
	}, nil
}

func openaiError(prefix string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return wrapStatus(prefix, apiErr.StatusCode, err)
	}
	return fmt.Errorf("%s: %w", prefix, err)
}
