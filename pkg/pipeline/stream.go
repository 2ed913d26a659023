package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/eyecheck/gateway/pkg/llm"
	"github.com/eyecheck/gateway/pkg/router"
)

// ErrStreamIdle ends a native stream that produced nothing for the
// configured timeout.
var ErrStreamIdle = errors.New("upstream stream idle")

// Output is the result of Stream.
type Output struct {
	llm.Outcome
	Status   Status
	Model    string
	Provider string
	// Retryable is set when a stream that fails before its first fragment
	// may be replaced by a call to Generate.
	Retryable bool
}

// Stream starts native incremental delivery for req. A non-nil error means
// the caller should fall back to Generate; nothing has been sent upstream
// that would make that fallback a duplicate.
//
// Single-pass requests stream the provider directly. Two-pass requests draft
// synchronously and then stream the reviewer through a filter that replaces
// a PASS verdict with the draft. Breaker outcomes are recorded when the
// returned stream finishes.
func (p *Pipeline) Stream(ctx context.Context, req Request) (Output, error) {
	route, blocked := p.admit(ctx, req)
	if blocked != nil {
		return Output{
			Outcome:  llm.TextOutcome(blocked.Text),
			Status:   blocked.Status,
			Model:    blocked.Model,
			Provider: blocked.Provider,
		}, nil
	}

	sp, ok := route.Provider.(llm.StreamingProvider)
	if !ok {
		return Output{}, llm.ErrStreamingUnsupported
	}

	out := Output{Status: StatusOK, Model: route.Model, Provider: route.Provider.Name()}
	if req.Mode != TwoPass {
		seq, err := p.startStream(ctx, sp, route, "stream", p.llmRequest(route, req, req.System, userInput(req)))
		if err != nil {
			return Output{}, err
		}
		out.Outcome = llm.StreamOutcome(p.guard(ctx, seq, true))
		out.Retryable = true
		return out, nil
	}

	log := p.log.WithField("provider", route.Provider.Name())
	d, err := p.draft(ctx, route, req)
	if err != nil {
		p.failure(ctx, err, log, "upstream generation failed")
		res := p.busy(req, StatusFailed, route)
		return Output{Outcome: llm.TextOutcome(res.Text), Status: StatusFailed, Model: res.Model, Provider: res.Provider}, nil
	}

	seq, err := p.startStream(ctx, sp, route, "review", p.reviewRequest(route, req, d.Text))
	if err != nil {
		// The draft has already been paid for; finish the review without
		// streaming rather than redoing both passes.
		r, err := p.call(ctx, route, "review", p.reviewRequest(route, req, d.Text))
		if err != nil {
			p.failure(ctx, err, log, "upstream review failed")
			res := p.busy(req, StatusFailed, route)
			return Output{Outcome: llm.TextOutcome(res.Text), Status: StatusFailed, Model: res.Model, Provider: res.Provider}, nil
		}
		p.success(ctx)
		out.Outcome = llm.TextOutcome(accept(d.Text, r.Text))
		return out, nil
	}
	out.Outcome = llm.StreamOutcome(p.guard(ctx, passFilter(d.Text, seq), false))
	return out, nil
}

// startStream opens a native stream. The timeout applies to the wait for
// each fragment, paused while the consumer handles one, so a long but
// steady stream is never cut off.
func (p *Pipeline) startStream(ctx context.Context, sp llm.StreamingProvider, route router.Route, mode string, req llm.Request) (iter.Seq2[string, error], error) {
	ctx, cancel := context.WithCancelCause(ctx)
	idle := time.AfterFunc(p.cfg.Timeout, func() { cancel(ErrStreamIdle) })
	start := time.Now()
	seq, err := sp.GenerateStreaming(ctx, req)
	if err != nil {
		idle.Stop()
		cancel(nil)
		if !errors.Is(err, llm.ErrStreamingUnsupported) {
			p.metrics.UpstreamCall(route.Provider.Name(), mode, err, time.Since(start))
			p.log.WithError(err).WithField("provider", route.Provider.Name()).Debug("stream start failed")
		}
		return nil, err
	}
	return func(yield func(string, error) bool) {
		defer cancel(nil)
		defer idle.Stop()
		for chunk, err := range seq {
			if err != nil {
				if errors.Is(context.Cause(ctx), ErrStreamIdle) {
					err = fmt.Errorf("%w after %s: %w", ErrStreamIdle, p.cfg.Timeout, err)
				}
				p.metrics.UpstreamCall(route.Provider.Name(), mode, err, time.Since(start))
				yield("", err)
				return
			}
			idle.Stop()
			if !yield(chunk, nil) {
				return
			}
			idle.Reset(p.cfg.Timeout)
		}
		p.metrics.UpstreamCall(route.Provider.Name(), mode, nil, time.Since(start))
	}, nil
}

// guard records the breaker outcome once the stream ends. When retryable is
// set, an error before the first fragment is left for the caller's Generate
// fallback to record.
func (p *Pipeline) guard(ctx context.Context, seq iter.Seq2[string, error], retryable bool) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		sent := false
		for chunk, err := range seq {
			if err != nil {
				if sent || !retryable {
					p.failure(ctx, err, p.log, "upstream stream failed")
				}
				yield("", err)
				return
			}
			sent = true
			if !yield(chunk, nil) {
				return
			}
		}
		p.success(ctx)
	}
}

// passFilter holds back reviewer output while it could still be the PASS
// token. A complete PASS (or an empty review) is replaced by draft; anything
// else is forwarded verbatim.
func passFilter(draft string, review iter.Seq2[string, error]) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var pending strings.Builder
		decided := false
		for chunk, err := range review {
			if err != nil {
				yield("", err)
				return
			}
			if decided {
				if !yield(chunk, nil) {
					return
				}
				continue
			}
			pending.WriteString(chunk)
			if strings.HasPrefix(PassToken, strings.TrimSpace(pending.String())) {
				continue
			}
			decided = true
			if !yield(pending.String(), nil) {
				return
			}
		}
		if !decided {
			yield(accept(draft, pending.String()), nil)
		}
	}
}
