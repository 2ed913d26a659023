// Package breaker implements a circuit breaker whose state lives in the
// shared key-value store, so every gateway instance sees the same state.
//
// The breaker has two states. Closed passes calls through and counts
// failures inside a fixed window. Reaching the threshold opens it until
// OpenDuration has elapsed, after which it closes again without a probe.
// Any recorded success closes it immediately.
package breaker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eyecheck/gateway/pkg/cache"
	"github.com/eyecheck/gateway/pkg/kvstore"
	"github.com/eyecheck/gateway/pkg/metrics"
	"github.com/eyecheck/gateway/pkg/models"
)

// Config holds breaker thresholds.
type Config struct {
	Name          string
	FailureWindow time.Duration
	Threshold     int
	OpenDuration  time.Duration
}

// DefaultConfig returns the thresholds used for the upstream LLM.
func DefaultConfig() Config {
	return Config{
		Name:          "upstream-llm",
		FailureWindow: 60 * time.Second,
		Threshold:     5,
		OpenDuration:  120 * time.Second,
	}
}

// Breaker tracks failures of one named dependency.
type Breaker struct {
	cfg      Config
	failures *cache.Cache[models.WindowCounter]
	marker   *cache.Cache[time.Time]
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
}

const (
	failuresKey = "failures"
	openKey     = "open_until"
)

// New creates a Breaker over store.
func New(store kvstore.Store, cfg Config, log logrus.FieldLogger, m *metrics.Metrics, opts ...cache.Option) *Breaker {
	opts = append([]cache.Option{cache.WithLogger(log)}, opts...)
	prefix := "breaker:" + cfg.Name
	return &Breaker{
		cfg:      cfg,
		failures: cache.New[models.WindowCounter](store, prefix, opts...),
		marker:   cache.New[time.Time](store, prefix, opts...),
		log:      log.WithField("breaker", cfg.Name),
		metrics:  m,
	}
}

// Name returns the breaker's name.
func (b *Breaker) Name() string {
	return b.cfg.Name
}

// IsOpen reports whether calls should short-circuit. An expired open marker
// is removed together with the failure counter.
func (b *Breaker) IsOpen(ctx context.Context) bool {
	openUntil, ok := b.marker.Get(ctx, openKey)
	if !ok {
		return false
	}
	if b.marker.Now().Before(openUntil) {
		return true
	}
	b.marker.Delete(ctx, openKey)
	b.failures.Delete(ctx, failuresKey)
	b.log.Info("circuit breaker closed after open window")
	return false
}

// RecordFailure counts one failure and opens the breaker when the count
// within the failure window reaches the threshold.
func (b *Breaker) RecordFailure(ctx context.Context) {
	now := b.failures.Now()
	counter, ok := b.failures.Get(ctx, failuresKey)
	if !ok || !now.Before(counter.WindowExpiresAt) {
		counter = models.WindowCounter{WindowExpiresAt: now.Add(b.cfg.FailureWindow)}
	}
	counter.Count++
	b.failures.Set(ctx, failuresKey, counter, counter.WindowExpiresAt.Sub(now))
	b.metrics.BreakerEvent(b.cfg.Name, "failure")

	if counter.Count >= b.cfg.Threshold {
		openUntil := now.Add(b.cfg.OpenDuration)
		b.marker.Set(ctx, openKey, openUntil, b.cfg.OpenDuration)
		b.metrics.BreakerEvent(b.cfg.Name, "open")
		b.log.WithFields(logrus.Fields{
			"failures":   counter.Count,
			"open_until": openUntil.Format(time.RFC3339),
		}).Warn("circuit breaker opened")
	}
}

// RecordSuccess clears the failure count and the open marker.
func (b *Breaker) RecordSuccess(ctx context.Context) {
	b.failures.Delete(ctx, failuresKey)
	b.marker.Delete(ctx, openKey)
	b.metrics.BreakerEvent(b.cfg.Name, "success")
}

// Reset closes the breaker by hand.
func (b *Breaker) Reset(ctx context.Context) {
	b.failures.Delete(ctx, failuresKey)
	b.marker.Delete(ctx, openKey)
	b.metrics.BreakerEvent(b.cfg.Name, "reset")
	b.log.Info("circuit breaker reset")
}

// Status returns the current state without side effects.
func (b *Breaker) Status(ctx context.Context) models.BreakerStatus {
	st := models.BreakerStatus{Name: b.cfg.Name, State: models.BreakerClosed}
	now := b.failures.Now()
	if e, ok := b.failures.Entry(ctx, failuresKey); ok && now.Before(e.Data.WindowExpiresAt) {
		st.Failures = e.Data.Count
	}
	if e, ok := b.marker.Entry(ctx, openKey); ok && now.Before(e.Data) {
		st.State = models.BreakerOpen
		st.OpenUntil = e.Data
	}
	return st
}
