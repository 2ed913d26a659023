package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecording(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Admission("chat", true)
	m.Admission("chat", false)
	m.Admission("chat", false)
	m.CacheLookup("report", true)
	m.UpstreamCall("openai", "single", errors.New("boom"), time.Second)
	m.BreakerEvent("upstream-llm", "open")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissions.WithLabelValues("chat", "allowed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.admissions.WithLabelValues("chat", "denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("report", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamCalls.WithLabelValues("openai", "single", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerEvents.WithLabelValues("upstream-llm", "open")))
}

func TestNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Admission("chat", true)
		m.SafetyVerdict("emergency", false)
		m.BreakerEvent("b", "failure")
		m.UpstreamCall("p", "single", nil, time.Millisecond)
		m.CacheLookup("c", false)
		m.Stream("native", "done")
	})
}
