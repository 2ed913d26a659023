// Package metrics holds the gateway's prometheus collectors. All recording
// methods are safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "eyegate"

// Metrics groups the collectors registered for one gateway instance.
type Metrics struct {
	admissions      *prometheus.CounterVec
	safetyBlocks    *prometheus.CounterVec
	breakerEvents   *prometheus.CounterVec
	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	streams         *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Labels: endpoint, result (allowed, denied)
		admissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "admissions_total",
			Help:      "Rate limiter decisions by endpoint",
		}, []string{"endpoint", "result"}),

		// Labels: category
		safetyBlocks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "safety",
			Name:      "verdicts_total",
			Help:      "Content safety verdicts that matched a category",
		}, []string{"category", "allowed"}),

		// Labels: breaker, event (failure, open, success, short_circuit, reset)
		breakerEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "events_total",
			Help:      "Circuit breaker transitions and recorded outcomes",
		}, []string{"breaker", "event"}),

		// Labels: provider, mode (single, draft, review, stream), status (ok, error)
		upstreamCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "calls_total",
			Help:      "Upstream LLM calls by provider and outcome",
		}, []string{"provider", "mode", "status"}),

		upstreamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "latency_seconds",
			Help:      "Upstream LLM call latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}, []string{"provider", "mode"}),

		// Labels: cache, result (hit, miss)
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by result",
		}, []string{"cache", "result"}),

		// Labels: delivery (native, fallback, canned), result (done, error, disconnected)
		streams: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "responses_total",
			Help:      "Streamed responses by delivery path and result",
		}, []string{"delivery", "result"}),
	}
}

// Admission records a rate limiter decision.
func (m *Metrics) Admission(endpoint string, allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.admissions.WithLabelValues(endpoint, result).Inc()
}

// SafetyVerdict records a matched safety category.
func (m *Metrics) SafetyVerdict(category string, allowed bool) {
	if m == nil || category == "" {
		return
	}
	a := "false"
	if allowed {
		a = "true"
	}
	m.safetyBlocks.WithLabelValues(category, a).Inc()
}

// BreakerEvent records a breaker event.
func (m *Metrics) BreakerEvent(breaker, event string) {
	if m == nil {
		return
	}
	m.breakerEvents.WithLabelValues(breaker, event).Inc()
}

// UpstreamCall records one provider call and its latency.
func (m *Metrics) UpstreamCall(provider, mode string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.upstreamCalls.WithLabelValues(provider, mode, status).Inc()
	m.upstreamLatency.WithLabelValues(provider, mode).Observe(elapsed.Seconds())
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

// Stream records a finished streamed response.
func (m *Metrics) Stream(delivery, result string) {
	if m == nil {
		return
	}
	m.streams.WithLabelValues(delivery, result).Inc()
}
