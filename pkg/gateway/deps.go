package gateway

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/eyecheck/gateway/pkg/breaker"
	"github.com/eyecheck/gateway/pkg/config"
	"github.com/eyecheck/gateway/pkg/conversation"
	"github.com/eyecheck/gateway/pkg/identity"
	"github.com/eyecheck/gateway/pkg/kvstore"
	"github.com/eyecheck/gateway/pkg/llm"
	"github.com/eyecheck/gateway/pkg/metrics"
	"github.com/eyecheck/gateway/pkg/pipeline"
	"github.com/eyecheck/gateway/pkg/ratelimit"
	"github.com/eyecheck/gateway/pkg/router"
	"github.com/eyecheck/gateway/pkg/safety"
	"github.com/eyecheck/gateway/pkg/stream"
	"github.com/eyecheck/gateway/pkg/telemetry"
)

// NewDeps assembles the gateway services from cfg. sink may be nil to
// discard usage records; reg may be nil to disable metrics.
func NewDeps(cfg *config.Config, store kvstore.Store, providers []llm.Provider, sink telemetry.Sink, reg *prometheus.Registry, log logrus.FieldLogger) (Deps, error) {
	r, err := router.New(cfg.Router, providers)
	if err != nil {
		return Deps{}, fmt.Errorf("build router: %w", err)
	}

	var m *metrics.Metrics
	var gatherer prometheus.Gatherer
	if reg != nil {
		m = metrics.New(reg)
		gatherer = reg
	}

	b := breaker.New(store, BreakerConfig(cfg.Breaker), log, m)
	usage := telemetry.NewAsync(sink, telemetry.NewPricer(cfg.Pricing), log)

	return Deps{
		Store:   store,
		Limiter: ratelimit.New(store, RateLimitConfig(cfg.RateLimit), log, m),
		Safety:  safety.New(),
		Conversations: conversation.New(store, conversation.Config{
			MaxTurns: cfg.Conversation.MaxTurns,
			TTL:      cfg.Conversation.TTL,
		}, log),
		Pipeline: pipeline.New(r, b, pipeline.Config{
			Timeout:         cfg.Generation.Timeout,
			MaxAttempts:     cfg.Generation.MaxAttempts,
			RetryBackoff:    cfg.Generation.RetryBackoff,
			ReasoningEffort: cfg.Generation.ReasoningEffort,
		}, log, m),
		Responder: stream.New(stream.Config{
			ChunkSize:  cfg.Streaming.ChunkSize,
			ChunkDelay: cfg.Streaming.ChunkDelay,
		}, usage, log, m),
		Identity: identity.NewResolver(cfg.Auth.JWTSecret),
		Usage:    usage,
		Metrics:  m,
		Gatherer: gatherer,
		Log:      log,
	}, nil
}

// BreakerConfig converts the breaker config section.
func BreakerConfig(c config.BreakerConfig) breaker.Config {
	return breaker.Config{
		Name:          c.Name,
		FailureWindow: c.FailureWindow,
		Threshold:     c.Threshold,
		OpenDuration:  c.OpenDuration,
	}
}

// RateLimitConfig converts the rate limit config section.
func RateLimitConfig(c config.RateLimitConfig) ratelimit.Config {
	out := ratelimit.Config{
		Default:   ratelimit.Policy{Limit: c.Default.Limit, Window: c.Default.Window},
		Endpoints: make(map[string]ratelimit.Policy, len(c.Endpoints)),
	}
	for name, p := range c.Endpoints {
		out.Endpoints[name] = ratelimit.Policy{Limit: p.Limit, Window: p.Window}
	}
	return out
}
