package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/eyecheck/gateway/pkg/models"
)

func TestOutcome(t *testing.T) {
	text := TextOutcome("hello")
	assert.False(t, text.IsStream())
	assert.Equal(t, "hello", text.Text())
	assert.Nil(t, text.Stream())

	s := StreamOutcome(func(yield func(string, error) bool) {
		yield("a", nil)
	})
	assert.True(t, s.IsStream())
	assert.Empty(t, s.Text())
}

func TestOpenAIGenerate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "Blink often."}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)
	}))
	defer srv.Close()

	p := NewOpenAI("openai", srv.URL+"/v1/", "sk-test")
	temp := 0.2
	resp, err := p.Generate(context.Background(), Request{
		Model:              "gpt-4o-mini",
		SystemInstructions: "be brief",
		ReasoningEffort:    "high",
		Input: []models.ConversationTurn{
			{Role: models.RoleUser, Content: "hi"},
			{Role: models.RoleAssistant, Content: "hello"},
			{Role: models.RoleUser, Content: "dry eyes?"},
		},
		Temperature: &temp,
		MaxTokens:   200,
	})
	require.NoError(t, err)
	assert.Equal(t, "Blink often.", resp.Text)
	assert.Equal(t, &models.Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}, resp.Usage)

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "assistant", msgs[2].(map[string]any)["role"])
	assert.Equal(t, 0.2, got["temperature"])
	assert.NotContains(t, got, "reasoning_effort", "non-reasoning models must not receive an effort hint")
}

func TestOpenAIGenerateStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Rest ", "your ", "eyes."} {
			fmt.Fprintf(w, "data: {\"id\":\"c\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"o4-mini\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAI("openai", srv.URL+"/v1/", "sk-test")
	seq, err := p.GenerateStreaming(context.Background(), Request{Model: "o4-mini", Input: UserInput("tips?")})
	require.NoError(t, err)

	var b strings.Builder
	for chunk, err := range seq {
		require.NoError(t, err)
		b.WriteString(chunk)
	}
	assert.Equal(t, "Rest your eyes.", b.String())
}

func TestOpenAIUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	p := NewOpenAI("openai", srv.URL+"/v1/", "sk-test")
	_, err := p.Generate(context.Background(), Request{Model: "gpt-4o-mini", Input: UserInput("hi")})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRejected))
}

func TestOpenAIRejectedModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"message":"The model bogus does not exist","type":"invalid_request_error","code":"model_not_found"}}`)
	}))
	defer srv.Close()

	p := NewOpenAI("openai", srv.URL+"/v1/", "sk-test")
	_, err := p.Generate(context.Background(), Request{Model: "bogus", Input: UserInput("hi")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))
}

func TestWrapStatus(t *testing.T) {
	base := errors.New("boom")
	for status, rejected := range map[int]bool{
		http.StatusBadRequest:          true,
		http.StatusNotFound:            true,
		http.StatusRequestTimeout:      false,
		http.StatusTooManyRequests:     false,
		http.StatusInternalServerError: false,
		0:                              false,
	} {
		err := wrapStatus("test", status, base)
		assert.Equal(t, rejected, errors.Is(err, ErrRejected), "status %d", status)
		assert.True(t, errors.Is(err, base))
	}
}

func TestGeminiRejected(t *testing.T) {
	err := geminiError("gemini", genai.APIError{Code: http.StatusBadRequest, Message: "invalid model"})
	assert.True(t, errors.Is(err, ErrRejected))

	err = geminiError("gemini", genai.APIError{Code: http.StatusServiceUnavailable})
	assert.False(t, errors.Is(err, ErrRejected))
}

func TestApplyThinking(t *testing.T) {
	cfg := &genai.GenerateContentConfig{}
	applyThinking(cfg, "gemini-3-flash", "high")
	require.NotNil(t, cfg.ThinkingConfig)
	assert.Equal(t, genai.ThinkingLevel("high"), cfg.ThinkingConfig.ThinkingLevel)

	cfg = &genai.GenerateContentConfig{}
	applyThinking(cfg, "gemini-2.5-flash", "low")
	require.NotNil(t, cfg.ThinkingConfig.ThinkingBudget)
	assert.EqualValues(t, 0, *cfg.ThinkingConfig.ThinkingBudget)

	cfg = &genai.GenerateContentConfig{}
	applyThinking(cfg, "gemini-2.5-pro", "low")
	assert.EqualValues(t, -1, *cfg.ThinkingConfig.ThinkingBudget)

	cfg = &genai.GenerateContentConfig{}
	applyThinking(cfg, "gemini-2.0-flash", "high")
	assert.Nil(t, cfg.ThinkingConfig)
}
