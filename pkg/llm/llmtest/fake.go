// Package llmtest provides a scripted llm provider for tests.
package llmtest

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/eyecheck/gateway/pkg/llm"
	"github.com/eyecheck/gateway/pkg/models"
)

// Reply scripts one provider call.
type Reply struct {
	Text string
	Err  error
	// Chunks, when set, are yielded by GenerateStreaming instead of Text.
	Chunks []string
	// StreamErr is yielded after Chunks.
	StreamErr error
	// ChunkDelay is waited before each streamed chunk.
	ChunkDelay time.Duration
	Usage     *models.Usage
}

// Fake replays scripted replies in order and then repeats Default.
type Fake struct {
	ProviderName string
	Default      Reply
	// NoStreaming makes GenerateStreaming return llm.ErrStreamingUnsupported.
	NoStreaming bool

	mu       sync.Mutex
	replies  []Reply
	requests []llm.Request
}

// New returns a Fake named "fake" that replays replies.
func New(replies ...Reply) *Fake {
	return &Fake{ProviderName: "fake", replies: replies}
}

// Push appends scripted replies.
func (f *Fake) Push(replies ...Reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, replies...)
}

// Requests returns every request received so far.
func (f *Fake) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}

// Calls returns how many requests were received.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *Fake) next(req llm.Request) Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.replies) == 0 {
		return f.Default
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r
}

// Name implements llm.Provider.
func (f *Fake) Name() string {
	return f.ProviderName
}

// Generate implements llm.Provider.
func (f *Fake) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	r := f.next(req)
	if r.Err != nil {
		return llm.Response{}, r.Err
	}
	text := r.Text
	if text == "" {
		for _, c := range r.Chunks {
			text += c
		}
	}
	return llm.Response{Text: text, Usage: r.Usage}, nil
}

// GenerateStreaming implements llm.StreamingProvider.
func (f *Fake) GenerateStreaming(ctx context.Context, req llm.Request) (iter.Seq2[string, error], error) {
	if f.NoStreaming {
		return nil, llm.ErrStreamingUnsupported
	}
	r := f.next(req)
	if r.Err != nil {
		return nil, r.Err
	}
	chunks := r.Chunks
	if chunks == nil && r.Text != "" {
		chunks = []string{r.Text}
	}
	return func(yield func(string, error) bool) {
		for _, c := range chunks {
			if r.ChunkDelay > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(r.ChunkDelay):
				}
			}
			if ctx.Err() != nil {
				yield("", ctx.Err())
				return
			}
			if !yield(c, nil) {
				return
			}
		}
		if r.StreamErr != nil {
			yield("", r.StreamErr)
		}
	}, nil
}

var _ llm.StreamingProvider = (*Fake)(nil)
