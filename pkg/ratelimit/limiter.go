// Package ratelimit admits or rejects requests per (client, endpoint) pair
// using window counters kept in the shared cache.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eyecheck/gateway/pkg/cache"
	"github.com/eyecheck/gateway/pkg/kvstore"
	"github.com/eyecheck/gateway/pkg/metrics"
	"github.com/eyecheck/gateway/pkg/models"
)

// ErrAdmissionDenied is returned when a client has used up its window.
var ErrAdmissionDenied = errors.New("admission denied")

// DeniedError carries the retry hint for a rejected request.
type DeniedError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s, retry after %s", ErrAdmissionDenied, e.Endpoint, e.RetryAfter.Round(time.Second))
}

func (e *DeniedError) Unwrap() error { return ErrAdmissionDenied }

// Policy is a request limit per window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Config is the per-endpoint policy table. Endpoints without an entry use
// Default.
type Config struct {
	Default   Policy
	Endpoints map[string]Policy
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Endpoint   string
}

// Err returns a *DeniedError for a rejected decision and nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Endpoint: d.Endpoint, RetryAfter: d.RetryAfter}
}

// Limiter enforces Config against counters in a kvstore.Store.
type Limiter struct {
	cfg      Config
	counters *cache.Cache[models.RateLimitCounter]
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
}

// New creates a Limiter. Cache options (such as a clock) apply to the
// underlying counter cache.
func New(store kvstore.Store, cfg Config, log logrus.FieldLogger, m *metrics.Metrics, opts ...cache.Option) *Limiter {
	opts = append([]cache.Option{cache.WithLogger(log)}, opts...)
	return &Limiter{
		cfg:      cfg,
		counters: cache.New[models.RateLimitCounter](store, "ratelimit", opts...),
		log:      log,
		metrics:  m,
	}
}

// PolicyFor returns the policy applied to endpoint.
func (l *Limiter) PolicyFor(endpoint string) Policy {
	if p, ok := l.cfg.Endpoints[endpoint]; ok {
		return p
	}
	return l.cfg.Default
}

// Admit counts one request from clientID against endpoint. Store errors are
// logged by the cache and the request is admitted.
func (l *Limiter) Admit(ctx context.Context, clientID, endpoint string) Decision {
	policy := l.PolicyFor(endpoint)
	key := cache.GenerateKey(endpoint, clientID)
	now := l.counters.Now()

	counter, ok := l.counters.Get(ctx, key)
	if !ok || !now.Before(counter.WindowExpiresAt) {
		counter = models.RateLimitCounter{
			ClientID:        clientID,
			Endpoint:        endpoint,
			WindowExpiresAt: now.Add(policy.Window),
		}
	}

	remainingWindow := counter.WindowExpiresAt.Sub(now)
	if counter.Count >= policy.Limit {
		l.metrics.Admission(endpoint, false)
		l.log.WithFields(logrus.Fields{
			"client":      clientID,
			"endpoint":    endpoint,
			"count":       counter.Count,
			"retry_after": remainingWindow.Round(time.Second),
		}).Info("rate limit exceeded")
		return Decision{
			Allowed:    false,
			Limit:      policy.Limit,
			Remaining:  0,
			RetryAfter: remainingWindow,
			Endpoint:   endpoint,
		}
	}

	counter.Count++
	l.counters.Set(ctx, key, counter, remainingWindow)
	l.metrics.Admission(endpoint, true)

	return Decision{
		Allowed:   true,
		Limit:     policy.Limit,
		Remaining: policy.Limit - counter.Count,
		Endpoint:  endpoint,
	}
}
