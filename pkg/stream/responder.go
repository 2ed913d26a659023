// Package stream delivers generated text to clients as server-sent events.
//
// Native provider streams are forwarded fragment by fragment. When native
// streaming is unavailable, or fails before anything was sent, the full text
// is generated instead and written in fixed-size slices at a steady pace.
package stream

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/eyecheck/gateway/pkg/locale"
	"github.com/eyecheck/gateway/pkg/metrics"
	"github.com/eyecheck/gateway/pkg/models"
	"github.com/eyecheck/gateway/pkg/pipeline"
	"github.com/eyecheck/gateway/pkg/telemetry"
)

// Delivery paths.
const (
	DeliveryNative   = "native"
	DeliveryFallback = "fallback"
	DeliveryCanned   = "canned"
)

// Generator is the subset of pipeline.Pipeline the responder uses.
type Generator interface {
	Stream(ctx context.Context, req pipeline.Request) (pipeline.Output, error)
	Generate(ctx context.Context, req pipeline.Request) pipeline.Result
}

// Config controls fallback slicing.
type Config struct {
	ChunkSize  int
	ChunkDelay time.Duration
}

// DefaultConfig returns 160-rune slices 25ms apart.
func DefaultConfig() Config {
	return Config{ChunkSize: 160, ChunkDelay: 25 * time.Millisecond}
}

// Options describe the request being answered.
type Options struct {
	UserID   string
	Endpoint string
	// Notice, when set, is sent before the first chunk.
	Notice *NoticeData
}

// Summary describes a finished response.
type Summary struct {
	// Text is everything delivered in chunk events.
	Text     string
	Status   pipeline.Status
	Delivery string
	Chunks   int
	Model    string
	Provider string
	Usage    models.Usage
	// Interrupted is set when the upstream stream failed after output began.
	Interrupted bool
	// Err is a transport failure writing to the client.
	Err error
}

// OK reports whether the model answered and the client received all of it.
func (s Summary) OK() bool {
	return s.Status == pipeline.StatusOK && !s.Interrupted && s.Err == nil
}

func (s Summary) result() string {
	switch {
	case s.Err != nil:
		return "disconnected"
	case s.Interrupted:
		return "error"
	default:
		return "done"
	}
}

// Responder writes generated text as SSE.
type Responder struct {
	cfg     Config
	usage   *telemetry.Async
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

// New creates a Responder. usage may be nil.
func New(cfg Config, usage *telemetry.Async, log logrus.FieldLogger, m *metrics.Metrics) *Responder {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkDelay < 0 {
		cfg.ChunkDelay = 0
	}
	return &Responder{cfg: cfg, usage: usage, log: log, metrics: m}
}

// Respond generates req through gen and streams it to w.
func (r *Responder) Respond(ctx context.Context, w http.ResponseWriter, gen Generator, req pipeline.Request, opts Options) Summary {
	start := time.Now()
	sw, err := newSSEWriter(w)
	if err != nil {
		r.log.WithError(err).Error("cannot stream response")
		return Summary{Status: pipeline.StatusFailed, Err: err}
	}

	var sum Summary
	if opts.Notice != nil {
		if err := sw.send(EventNotice, opts.Notice); err != nil {
			sum.Err = err
		}
	}
	if sum.Err == nil {
		sum = r.deliver(ctx, sw, gen, req)
	}
	r.finish(sw, &sum, req.Locale)
	r.record(req, opts, sum, time.Since(start))
	return sum
}

// RespondText streams a fixed text, such as a safety refusal, without
// calling a model.
func (r *Responder) RespondText(ctx context.Context, w http.ResponseWriter, text string, opts Options) Summary {
	sw, err := newSSEWriter(w)
	if err != nil {
		r.log.WithError(err).Error("cannot stream response")
		return Summary{Status: pipeline.StatusFailed, Err: err}
	}
	sum := Summary{Status: pipeline.StatusOK, Delivery: DeliveryCanned}
	if opts.Notice != nil {
		sum.Err = sw.send(EventNotice, opts.Notice)
	}
	if sum.Err == nil {
		r.slices(ctx, sw, text, &sum)
	}
	r.finish(sw, &sum, "")
	return sum
}

func (r *Responder) deliver(ctx context.Context, sw *sseWriter, gen Generator, req pipeline.Request) Summary {
	out, err := gen.Stream(ctx, req)
	if err != nil {
		r.log.WithError(err).Debug("native streaming unavailable, generating in full")
		return r.fallback(ctx, sw, gen, req)
	}

	sum := Summary{Status: out.Status, Model: out.Model, Provider: out.Provider, Delivery: DeliveryNative}
	if !out.IsStream() {
		r.slices(ctx, sw, out.Text(), &sum)
		return sum
	}

	var text strings.Builder
	for chunk, err := range out.Stream() {
		if err != nil {
			if sum.Chunks == 0 && out.Retryable {
				r.log.WithError(err).Debug("stream failed before output, generating in full")
				return r.fallback(ctx, sw, gen, req)
			}
			if sum.Chunks == 0 {
				sum.Status = pipeline.StatusFailed
				r.slices(ctx, sw, locale.T(req.Locale, locale.Busy), &sum)
				return sum
			}
			sum.Status = pipeline.StatusFailed
			sum.Interrupted = true
			break
		}
		if chunk == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			sum.Err = err
			break
		}
		if err := sw.chunk(chunk); err != nil {
			sum.Err = err
			break
		}
		sum.Chunks++
		text.WriteString(chunk)
	}
	sum.Text = text.String()
	return sum
}

func (r *Responder) fallback(ctx context.Context, sw *sseWriter, gen Generator, req pipeline.Request) Summary {
	res := gen.Generate(ctx, req)
	sum := Summary{
		Status:   res.Status,
		Model:    res.Model,
		Provider: res.Provider,
		Usage:    res.Usage,
		Delivery: DeliveryFallback,
	}
	r.slices(ctx, sw, res.Text, &sum)
	return sum
}

// slices writes text in ChunkSize-rune pieces, ChunkDelay apart.
func (r *Responder) slices(ctx context.Context, sw *sseWriter, text string, sum *Summary) {
	limit := rate.Inf
	if r.cfg.ChunkDelay > 0 {
		limit = rate.Every(r.cfg.ChunkDelay)
	}
	lim := rate.NewLimiter(limit, 1)

	var sent strings.Builder
	defer func() { sum.Text = sent.String() }()
	for _, piece := range Split(text, r.cfg.ChunkSize) {
		if err := lim.Wait(ctx); err != nil {
			sum.Err = err
			return
		}
		if err := sw.chunk(piece); err != nil {
			sum.Err = err
			return
		}
		sum.Chunks++
		sent.WriteString(piece)
	}
}

func (r *Responder) finish(sw *sseWriter, sum *Summary, loc string) {
	if sum.Err == nil {
		if sum.Interrupted {
			sum.Err = sw.send(EventError, ErrorData{Message: locale.T(loc, locale.StreamError)})
		} else {
			sum.Err = sw.done()
		}
	}
	if sum.Err != nil {
		r.log.WithError(sum.Err).WithField("chunks", sum.Chunks).Info("client stream ended early")
	}
	r.metrics.Stream(sum.Delivery, sum.result())
}

func (r *Responder) record(req pipeline.Request, opts Options, sum Summary, elapsed time.Duration) {
	if sum.Delivery == "" || sum.Status == pipeline.StatusUnavailable {
		return
	}
	in, out := sum.Usage.PromptTokens, sum.Usage.CompletionTokens
	if sum.Usage.TotalTokens == 0 {
		in = telemetry.EstimateTokens(promptText(req))
		out = telemetry.EstimateTokens(sum.Text)
	}
	r.usage.Record(models.UsageRecord{
		UserID:    opts.UserID,
		Service:   "eyegate",
		Endpoint:  opts.Endpoint,
		Model:     sum.Model,
		Provider:  sum.Provider,
		TokensIn:  in,
		TokensOut: out,
		LatencyMs: elapsed.Milliseconds(),
		Status:    string(sum.Status),
	})
}

func promptText(req pipeline.Request) string {
	var b strings.Builder
	b.WriteString(req.System)
	for _, t := range req.History {
		b.WriteString(t.Content)
	}
	b.WriteString(req.User)
	return b.String()
}

// Split cuts text into pieces of at most size runes. Concatenating the
// pieces yields text.
func Split(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	pieces := make([]string, 0, utf8.RuneCountInString(text)/size+1)
	for len(text) > 0 {
		end, n := 0, 0
		for end < len(text) && n < size {
			_, w := utf8.DecodeRuneInString(text[end:])
			end += w
			n++
		}
		pieces = append(pieces, text[:end])
		text = text[end:]
	}
	return pieces
}
