package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyecheck/gateway/pkg/breaker"
	"github.com/eyecheck/gateway/pkg/config"
	"github.com/eyecheck/gateway/pkg/kvstore"
	"github.com/eyecheck/gateway/pkg/llm"
	"github.com/eyecheck/gateway/pkg/llm/llmtest"
	"github.com/eyecheck/gateway/pkg/locale"
	"github.com/eyecheck/gateway/pkg/router"
)

var errUpstream = errors.New("upstream 503")

func newTestPipeline(t *testing.T, fake *llmtest.Fake, attempts int) (*Pipeline, *breaker.Breaker) {
	t.Helper()
	return newTimedPipeline(t, fake, attempts, time.Second)
}

func newTimedPipeline(t *testing.T, fake *llmtest.Fake, attempts int, timeout time.Duration) (*Pipeline, *breaker.Breaker) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	r, err := router.New(config.RouterConfig{DefaultModel: "test-model"}, []llm.Provider{fake})
	require.NoError(t, err)
	b := breaker.New(kvstore.NewMemory(), breaker.DefaultConfig(), logger, nil)
	p := New(r, b, Config{
		Timeout:         timeout,
		MaxAttempts:     attempts,
		RetryBackoff:    time.Millisecond,
		ReasoningEffort: "high",
	}, logger, nil)
	return p, b
}

func TestTwoPassKeepsDraftOnPass(t *testing.T) {
	draft := "  Screens strain the eyes.\nTry the 20-20-20 rule.  \n"
	fake := llmtest.New(
		llmtest.Reply{Text: draft},
		llmtest.Reply{Text: " PASS\n"},
	)
	p, _ := newTestPipeline(t, fake, 3)

	res := p.Generate(context.Background(), Request{Mode: TwoPass, System: "sys", User: "tired eyes?", Locale: "en"})
	require.True(t, res.OK())
	assert.Equal(t, draft, res.Text, "PASS must return the draft byte for byte")

	reqs := fake.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "high", reqs[0].ReasoningEffort)
	assert.Equal(t, "sys", reqs[0].SystemInstructions)
	assert.Equal(t, locale.T("en", locale.ReviewerPrompt), reqs[1].SystemInstructions)
	assert.Contains(t, reqs[1].Input[0].Content, draft)
	assert.Equal(t, "test-model", reqs[1].Model, "reviewer uses the same model")
}

func TestTwoPassReturnsCorrection(t *testing.T) {
	fake := llmtest.New(
		llmtest.Reply{Text: "Carrots cure myopia."},
		llmtest.Reply{Text: "Carrots do not cure myopia, but vitamin A supports eye health."},
	)
	p, _ := newTestPipeline(t, fake, 3)

	res := p.Generate(context.Background(), Request{Mode: TwoPass, User: "carrots?"})
	assert.Equal(t, "Carrots do not cure myopia, but vitamin A supports eye health.", res.Text)
}

func TestTwoPassIsNotRetried(t *testing.T) {
	fake := llmtest.New(
		llmtest.Reply{Text: "draft"},
		llmtest.Reply{Err: errUpstream},
	)
	p, b := newTestPipeline(t, fake, 3)

	res := p.Generate(context.Background(), Request{Mode: TwoPass, User: "hi", Locale: "es"})
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, locale.T("es", locale.Busy), res.Text)
	assert.Equal(t, 2, fake.Calls())
	assert.Equal(t, 1, b.Status(context.Background()).Failures)
}

func TestSinglePassRetries(t *testing.T) {
	fake := llmtest.New(
		llmtest.Reply{Err: errUpstream},
		llmtest.Reply{Err: errUpstream},
		llmtest.Reply{Text: `{"ok":true}`},
	)
	p, b := newTestPipeline(t, fake, 3)

	res := p.Generate(context.Background(), Request{User: "report"})
	require.True(t, res.OK())
	assert.Equal(t, `{"ok":true}`, res.Text)
	assert.Equal(t, 3, fake.Calls())
	assert.Equal(t, 0, b.Status(context.Background()).Failures)
}

func TestSinglePassFailureCountsOnce(t *testing.T) {
	fake := llmtest.New()
	fake.Default = llmtest.Reply{Err: errUpstream}
	p, b := newTestPipeline(t, fake, 3)

	res := p.Generate(context.Background(), Request{User: "report"})
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 3, fake.Calls())
	assert.Equal(t, 1, b.Status(context.Background()).Failures)
}

func TestBreakerShortCircuits(t *testing.T) {
	ctx := context.Background()
	fake := llmtest.New()
	fake.Default = llmtest.Reply{Err: errUpstream}
	p, b := newTestPipeline(t, fake, 1)

	for i := 0; i < 5; i++ {
		res := p.Generate(ctx, Request{User: "hi"})
		require.Equal(t, StatusFailed, res.Status)
	}
	require.True(t, b.IsOpen(ctx))

	res := p.Generate(ctx, Request{User: "hi", Locale: "en"})
	assert.Equal(t, StatusUnavailable, res.Status)
	assert.Equal(t, locale.T("en", locale.Busy), res.Text)
	assert.Equal(t, 5, fake.Calls(), "no upstream call while open")
}

func TestSuccessClosesBreaker(t *testing.T) {
	ctx := context.Background()
	fake := llmtest.New(
		llmtest.Reply{Err: errUpstream},
		llmtest.Reply{Text: "fine"},
	)
	p, b := newTestPipeline(t, fake, 1)

	p.Generate(ctx, Request{User: "hi"})
	require.Equal(t, 1, b.Status(ctx).Failures)
	p.Generate(ctx, Request{User: "hi"})
	assert.Equal(t, 0, b.Status(ctx).Failures)
}

func collect(t *testing.T, out Output) (string, error) {
	t.Helper()
	if !out.IsStream() {
		return out.Text(), nil
	}
	var b strings.Builder
	for chunk, err := range out.Stream() {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}

func TestStreamMatchesGenerate(t *testing.T) {
	ctx := context.Background()
	fake := llmtest.New()
	fake.Default = llmtest.Reply{Chunks: []string{"Look ", "away ", "every ", "20 ", "minutes."}}
	p, _ := newTestPipeline(t, fake, 1)

	out, err := p.Stream(ctx, Request{User: "tips"})
	require.NoError(t, err)
	require.True(t, out.IsStream())
	assert.True(t, out.Retryable)

	streamed, err := collect(t, out)
	require.NoError(t, err)

	full := p.Generate(ctx, Request{User: "tips"})
	assert.Equal(t, full.Text, streamed)
}

func TestStreamTwoPassFilter(t *testing.T) {
	ctx := context.Background()

	fake := llmtest.New(
		llmtest.Reply{Text: "The draft."},
		llmtest.Reply{Chunks: []string{"PA", "SS", "\n"}},
	)
	p, _ := newTestPipeline(t, fake, 1)
	out, err := p.Stream(ctx, Request{Mode: TwoPass, User: "q"})
	require.NoError(t, err)
	assert.False(t, out.Retryable)
	got, err := collect(t, out)
	require.NoError(t, err)
	assert.Equal(t, "The draft.", got)

	fake.Push(
		llmtest.Reply{Text: "The draft."},
		llmtest.Reply{Chunks: []string{"PAS", "TA is ", "not eye food."}},
	)
	out, err = p.Stream(ctx, Request{Mode: TwoPass, User: "q"})
	require.NoError(t, err)
	got, err = collect(t, out)
	require.NoError(t, err)
	assert.Equal(t, "PASTA is not eye food.", got)
}

func TestStreamRecordsFailure(t *testing.T) {
	ctx := context.Background()
	fake := llmtest.New(llmtest.Reply{Chunks: []string{"partial"}, StreamErr: errUpstream})
	p, b := newTestPipeline(t, fake, 1)

	out, err := p.Stream(ctx, Request{User: "q"})
	require.NoError(t, err)
	got, err := collect(t, out)
	assert.ErrorIs(t, err, errUpstream)
	assert.Equal(t, "partial", got)
	assert.Equal(t, 1, b.Status(ctx).Failures)
}

func TestStreamBreakerOpen(t *testing.T) {
	ctx := context.Background()
	fake := llmtest.New()
	p, b := newTestPipeline(t, fake, 1)
	for i := 0; i < 5; i++ {
		b.RecordFailure(ctx)
	}

	out, err := p.Stream(ctx, Request{User: "q", Locale: "en"})
	require.NoError(t, err)
	assert.False(t, out.IsStream())
	assert.Equal(t, StatusUnavailable, out.Status)
	assert.Equal(t, locale.T("en", locale.Busy), out.Text())
	assert.Zero(t, fake.Calls())
}

func TestStreamUnsupported(t *testing.T) {
	fake := llmtest.New()
	fake.NoStreaming = true
	p, _ := newTestPipeline(t, fake, 1)

	_, err := p.Stream(context.Background(), Request{User: "q"})
	assert.ErrorIs(t, err, llm.ErrStreamingUnsupported)
}

func TestCanceledRequestsKeepBreakerClosed(t *testing.T) {
	fake := llmtest.New()
	fake.Default = llmtest.Reply{Text: "fine"}
	p, b := newTestPipeline(t, fake, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		res := p.Generate(ctx, Request{Mode: TwoPass, User: "hi", Locale: "en"})
		require.Equal(t, StatusFailed, res.Status)
		res = p.Generate(ctx, Request{User: "hi", Locale: "en"})
		require.Equal(t, StatusFailed, res.Status)
	}
	assert.False(t, b.IsOpen(context.Background()))
	assert.Zero(t, b.Status(context.Background()).Failures)
	assert.Zero(t, fake.Calls())
}

func TestCanceledStreamKeepsBreakerClosed(t *testing.T) {
	fake := llmtest.New()
	fake.Default = llmtest.Reply{Chunks: []string{"a", "b"}}
	p, b := newTestPipeline(t, fake, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		out, err := p.Stream(ctx, Request{User: "q"})
		require.NoError(t, err)
		_, err = collect(t, out)
		require.ErrorIs(t, err, context.Canceled)

		out, err = p.Stream(ctx, Request{Mode: TwoPass, User: "q"})
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, out.Status)
	}
	assert.False(t, b.IsOpen(context.Background()))
	assert.Zero(t, b.Status(context.Background()).Failures)
}

func TestRejectedRequestIsNotCounted(t *testing.T) {
	ctx := context.Background()
	rejected := fmt.Errorf("openai: %w: 404 model not found", llm.ErrRejected)
	fake := llmtest.New()
	fake.Default = llmtest.Reply{Err: rejected}
	p, b := newTestPipeline(t, fake, 3)

	for i := 0; i < 5; i++ {
		res := p.Generate(ctx, Request{User: "hi", Model: "bogus"})
		require.Equal(t, StatusFailed, res.Status)
	}
	assert.Equal(t, 5, fake.Calls(), "rejected requests are not retried")
	assert.False(t, b.IsOpen(ctx))
	assert.Zero(t, b.Status(ctx).Failures)
}

func TestStreamTimeoutIsPerFragment(t *testing.T) {
	ctx := context.Background()
	fake := llmtest.New(llmtest.Reply{
		Chunks:     []string{"one ", "two ", "three ", "four"},
		ChunkDelay: 30 * time.Millisecond,
	})
	p, b := newTimedPipeline(t, fake, 1, 100*time.Millisecond)

	out, err := p.Stream(ctx, Request{User: "q"})
	require.NoError(t, err)
	var got strings.Builder
	for chunk, err := range out.Stream() {
		require.NoError(t, err)
		got.WriteString(chunk)
		// A slow reader does not count against the upstream.
		time.Sleep(60 * time.Millisecond)
	}
	assert.Equal(t, "one two three four", got.String())
	assert.Zero(t, b.Status(ctx).Failures)
}

func TestStreamIdleTimeout(t *testing.T) {
	ctx := context.Background()
	fake := llmtest.New(
		llmtest.Reply{Text: "The draft."},
		llmtest.Reply{Chunks: []string{"never"}, ChunkDelay: time.Second},
	)
	p, b := newTimedPipeline(t, fake, 1, 20*time.Millisecond)

	out, err := p.Stream(ctx, Request{Mode: TwoPass, User: "q"})
	require.NoError(t, err)
	_, err = collect(t, out)
	assert.ErrorIs(t, err, ErrStreamIdle)
	assert.Equal(t, 1, b.Status(ctx).Failures)
}
