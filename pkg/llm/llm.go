// Package llm is the boundary to upstream language model providers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"

	"github.com/eyecheck/gateway/pkg/models"
)

// ErrStreamingUnsupported is returned by GenerateStreaming when a provider or
// model cannot deliver incremental output.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// ErrRejected marks a provider refusing the request itself, such as an
// unknown model or an invalid parameter. It says nothing about provider
// health and is not worth retrying.
var ErrRejected = errors.New("request rejected by provider")

// wrapStatus prefixes err with the provider name and marks client errors
// other than timeouts and rate limits as ErrRejected.
func wrapStatus(prefix string, status int, err error) error {
	if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w: %w", prefix, ErrRejected, err)
	}
	return fmt.Errorf("%s: %w", prefix, err)
}

// Request is one generation call.
type Request struct {
	Model              string
	SystemInstructions string
	// ReasoningEffort is a hint ("minimal", "low", "medium", "high") passed
	// to models that support it and ignored by the rest.
	ReasoningEffort string
	Input           []models.ConversationTurn
	Temperature     *float64
	TopP            *float64
	MaxTokens       int
}

// Response is a complete generation result.
type Response struct {
	Text  string
	Usage *models.Usage
}

// Provider generates text from a Request.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
}

// StreamingProvider is implemented by providers that can deliver partial
// output. The returned sequence yields text fragments in order; a non-nil
// error ends the sequence.
type StreamingProvider interface {
	Provider
	GenerateStreaming(ctx context.Context, req Request) (iter.Seq2[string, error], error)
}

// Outcome is either a complete text or a stream of fragments.
type Outcome struct {
	text   string
	stream iter.Seq2[string, error]
}

// TextOutcome wraps a complete text.
func TextOutcome(text string) Outcome {
	return Outcome{text: text}
}

// StreamOutcome wraps a fragment sequence.
func StreamOutcome(seq iter.Seq2[string, error]) Outcome {
	return Outcome{stream: seq}
}

// IsStream reports whether the outcome carries a stream.
func (o Outcome) IsStream() bool {
	return o.stream != nil
}

// Text returns the complete text. It is empty for stream outcomes.
func (o Outcome) Text() string {
	return o.text
}

// Stream returns the fragment sequence, or nil for text outcomes.
func (o Outcome) Stream() iter.Seq2[string, error] {
	return o.stream
}

// UserInput builds the input for a single user prompt.
func UserInput(text string) []models.ConversationTurn {
	return []models.ConversationTurn{{Role: models.RoleUser, Content: text}}
}
