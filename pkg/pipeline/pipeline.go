// Package pipeline runs generation requests against the routed provider,
// guarded by the circuit breaker.
//
// Single-pass requests make one call, retried with exponential backoff.
// Two-pass requests draft an answer and then ask the same model to review
// it; the reviewer either answers PASS, keeping the draft, or returns a
// corrected reply. Two-pass requests are never retried.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/eyecheck/gateway/pkg/llm"
	"github.com/eyecheck/gateway/pkg/locale"
	"github.com/eyecheck/gateway/pkg/metrics"
	"github.com/eyecheck/gateway/pkg/models"
	"github.com/eyecheck/gateway/pkg/router"
)

// PassToken is the exact reviewer reply that accepts a draft.
const PassToken = "PASS"

// Mode selects the generation protocol.
type Mode int

const (
	SinglePass Mode = iota
	TwoPass
)

func (m Mode) String() string {
	if m == TwoPass {
		return "two-pass"
	}
	return "single-pass"
}

// Status classifies a result.
type Status string

const (
	StatusOK          Status = "ok"
	StatusUnavailable Status = "unavailable" // breaker open, no call made
	StatusFailed      Status = "failed"      // provider call failed
)

// Breaker is the subset of breaker.Breaker the pipeline uses.
type Breaker interface {
	IsOpen(ctx context.Context) bool
	RecordFailure(ctx context.Context)
	RecordSuccess(ctx context.Context)
}

// Config controls upstream calls.
type Config struct {
	// Timeout bounds each provider call. For native streams it bounds the
	// wait for each fragment rather than the whole stream.
	Timeout time.Duration
	// MaxAttempts bounds single-pass attempts, including the first.
	MaxAttempts int
	// RetryBackoff is the initial backoff interval between attempts.
	RetryBackoff time.Duration
	// ReasoningEffort is the hint used for two-pass drafts.
	ReasoningEffort string
}

// DefaultConfig returns the default upstream settings.
func DefaultConfig() Config {
	return Config{
		Timeout:         25 * time.Second,
		MaxAttempts:     3,
		RetryBackoff:    500 * time.Millisecond,
		ReasoningEffort: "high",
	}
}

// Request is one logical generation.
type Request struct {
	Mode    Mode
	System  string
	User    string
	History []models.ConversationTurn
	Locale  string
	Model   string

	Temperature *float64
	TopP        *float64
	MaxTokens   int
}

// Result is the outcome of Generate. Text is always safe to show the user.
type Result struct {
	Text     string
	Status   Status
	Usage    models.Usage
	Model    string
	Provider string
}

// OK reports whether the text came from the model.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Pipeline generates text through the router.
type Pipeline struct {
	router  *router.Router
	breaker Breaker
	cfg     Config
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

// New creates a Pipeline.
func New(r *router.Router, b Breaker, cfg Config, log logrus.FieldLogger, m *metrics.Metrics) *Pipeline {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	return &Pipeline{router: r, breaker: b, cfg: cfg, log: log, metrics: m}
}

func (p *Pipeline) busy(req Request, status Status, route router.Route) Result {
	res := Result{Text: locale.T(req.Locale, locale.Busy), Status: status, Model: route.Model}
	if route.Provider != nil {
		res.Provider = route.Provider.Name()
	}
	return res
}

// admit resolves the route and checks the breaker. A non-nil Result means
// the request must not reach the provider.
func (p *Pipeline) admit(ctx context.Context, req Request) (router.Route, *Result) {
	route, err := p.router.Resolve(req.Model)
	if err != nil {
		p.log.WithError(err).WithField("model", req.Model).Error("route resolution failed")
		res := p.busy(req, StatusFailed, route)
		return route, &res
	}
	if p.breaker.IsOpen(context.WithoutCancel(ctx)) {
		p.metrics.BreakerEvent("upstream", "short_circuit")
		p.log.WithFields(logrus.Fields{
			"provider": route.Provider.Name(),
			"model":    route.Model,
		}).Info("circuit open, short-circuiting upstream call")
		res := p.busy(req, StatusUnavailable, route)
		return route, &res
	}
	return route, nil
}

// Generate runs req to completion. Provider errors never escape: they are
// recorded once against the breaker and replaced by the localized busy
// message.
func (p *Pipeline) Generate(ctx context.Context, req Request) Result {
	route, blocked := p.admit(ctx, req)
	if blocked != nil {
		return *blocked
	}

	var (
		text  string
		usage models.Usage
		err   error
	)
	if req.Mode == TwoPass {
		text, usage, err = p.twoPass(ctx, route, req)
	} else {
		text, usage, err = p.singlePass(ctx, route, req)
	}
	if err != nil {
		p.failure(ctx, err, p.log.WithFields(logrus.Fields{
			"provider": route.Provider.Name(),
			"model":    route.Model,
			"mode":     req.Mode.String(),
		}), "upstream generation failed")
		return p.busy(req, StatusFailed, route)
	}

	p.success(ctx)
	return Result{
		Text:     text,
		Status:   StatusOK,
		Usage:    usage,
		Model:    route.Model,
		Provider: route.Provider.Name(),
	}
}

// failure records err against the breaker when it says something about
// upstream health. A request the caller abandoned, or one the provider
// refused as invalid, leaves the breaker alone.
func (p *Pipeline) failure(ctx context.Context, err error, log logrus.FieldLogger, msg string) {
	switch {
	case ctx.Err() != nil:
		log.WithError(err).Debug("request canceled, upstream outcome not recorded")
	case errors.Is(err, llm.ErrRejected):
		log.WithError(err).Warn("provider rejected request")
	default:
		p.breaker.RecordFailure(context.WithoutCancel(ctx))
		log.WithError(err).Warn(msg)
	}
}

func (p *Pipeline) success(ctx context.Context) {
	p.breaker.RecordSuccess(context.WithoutCancel(ctx))
}

func (p *Pipeline) llmRequest(route router.Route, req Request, system string, input []models.ConversationTurn) llm.Request {
	return llm.Request{
		Model:              route.Model,
		SystemInstructions: system,
		Input:              input,
		Temperature:        req.Temperature,
		TopP:               req.TopP,
		MaxTokens:          req.MaxTokens,
	}
}

func userInput(req Request) []models.ConversationTurn {
	input := make([]models.ConversationTurn, 0, len(req.History)+1)
	input = append(input, req.History...)
	return append(input, models.ConversationTurn{Role: models.RoleUser, Content: req.User})
}

// call makes one provider call bounded by the configured timeout.
func (p *Pipeline) call(ctx context.Context, route router.Route, mode string, req llm.Request) (llm.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := route.Provider.Generate(ctx, req)
	p.metrics.UpstreamCall(route.Provider.Name(), mode, err, time.Since(start))
	return resp, err
}

func addUsage(total *models.Usage, u *models.Usage) {
	if u != nil {
		*total = total.Add(*u)
	}
}

func (p *Pipeline) singlePass(ctx context.Context, route router.Route, req Request) (string, models.Usage, error) {
	llmReq := p.llmRequest(route, req, req.System, userInput(req))

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.cfg.RetryBackoff
	if expo.InitialInterval <= 0 {
		expo.InitialInterval = time.Millisecond
	}
	expo.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(p.cfg.MaxAttempts-1)), ctx)

	var resp llm.Response
	attempt := 0
	op := func() error {
		attempt++
		var err error
		resp, err = p.call(ctx, route, "single", llmReq)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, llm.ErrRejected) {
			return backoff.Permanent(err)
		}
		p.log.WithError(err).WithFields(logrus.Fields{
			"provider": route.Provider.Name(),
			"attempt":  attempt,
		}).Debug("single-pass attempt failed")
		return err
	}
	if err := backoff.Retry(op, bo); err != nil {
		return "", models.Usage{}, fmt.Errorf("single-pass after %d attempts: %w", attempt, err)
	}

	var usage models.Usage
	addUsage(&usage, resp.Usage)
	return resp.Text, usage, nil
}

func (p *Pipeline) draft(ctx context.Context, route router.Route, req Request) (llm.Response, error) {
	draftReq := p.llmRequest(route, req, req.System, userInput(req))
	draftReq.ReasoningEffort = p.cfg.ReasoningEffort
	resp, err := p.call(ctx, route, "draft", draftReq)
	if err != nil {
		return resp, fmt.Errorf("draft: %w", err)
	}
	return resp, nil
}

func (p *Pipeline) reviewRequest(route router.Route, req Request, draft string) llm.Request {
	var b strings.Builder
	if req.System != "" {
		b.WriteString("Assistant instructions:\n")
		b.WriteString(req.System)
		b.WriteString("\n\n")
	}
	b.WriteString("User message:\n")
	b.WriteString(req.User)
	b.WriteString("\n\nDraft reply:\n")
	b.WriteString(draft)
	return p.llmRequest(route, req, locale.T(req.Locale, locale.ReviewerPrompt), llm.UserInput(b.String()))
}

// accept applies the reviewer verdict. An empty review keeps the draft.
func accept(draft, review string) string {
	switch strings.TrimSpace(review) {
	case PassToken, "":
		return draft
	default:
		return review
	}
}

func (p *Pipeline) twoPass(ctx context.Context, route router.Route, req Request) (string, models.Usage, error) {
	var usage models.Usage

	d, err := p.draft(ctx, route, req)
	if err != nil {
		return "", usage, err
	}
	addUsage(&usage, d.Usage)

	r, err := p.call(ctx, route, "review", p.reviewRequest(route, req, d.Text))
	if err != nil {
		return "", usage, fmt.Errorf("review: %w", err)
	}
	addUsage(&usage, r.Usage)

	return accept(d.Text, r.Text), usage, nil
}
