package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyecheck/gateway/pkg/cache"
	"github.com/eyecheck/gateway/pkg/kvstore"
	"github.com/eyecheck/gateway/pkg/metrics"
	"github.com/eyecheck/gateway/pkg/models"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T) (*Breaker, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	store := kvstore.NewMemory()
	store.SetClock(clk.now)
	logger, _ := test.NewNullLogger()
	m := metrics.New(prometheus.NewRegistry())
	return New(store, DefaultConfig(), logger, m, cache.WithClock(clk.now)), clk
}

func TestOpensAtThreshold(t *testing.T) {
	ctx := context.Background()
	b, clk := newTestBreaker(t)

	for i := 0; i < 4; i++ {
		b.RecordFailure(ctx)
		clk.advance(time.Second)
		require.False(t, b.IsOpen(ctx), "breaker opened after %d failures", i+1)
	}

	b.RecordFailure(ctx)
	assert.True(t, b.IsOpen(ctx))

	st := b.Status(ctx)
	assert.Equal(t, models.BreakerOpen, st.State)
	assert.Equal(t, 5, st.Failures)
}

func TestClosesAfterOpenDuration(t *testing.T) {
	ctx := context.Background()
	b, clk := newTestBreaker(t)

	for i := 0; i < 5; i++ {
		b.RecordFailure(ctx)
	}
	require.True(t, b.IsOpen(ctx))

	clk.advance(119 * time.Second)
	assert.True(t, b.IsOpen(ctx))

	clk.advance(time.Second)
	assert.False(t, b.IsOpen(ctx))
	assert.Equal(t, 0, b.Status(ctx).Failures, "counters reset on close")

	// One more failure must not reopen immediately.
	b.RecordFailure(ctx)
	assert.False(t, b.IsOpen(ctx))
}

func TestFailuresOutsideWindowDoNotAccumulate(t *testing.T) {
	ctx := context.Background()
	b, clk := newTestBreaker(t)

	for i := 0; i < 4; i++ {
		b.RecordFailure(ctx)
	}
	clk.advance(61 * time.Second)
	b.RecordFailure(ctx)

	assert.False(t, b.IsOpen(ctx))
	assert.Equal(t, 1, b.Status(ctx).Failures)
}

func TestSuccessResets(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBreaker(t)

	for i := 0; i < 5; i++ {
		b.RecordFailure(ctx)
	}
	require.True(t, b.IsOpen(ctx))

	b.RecordSuccess(ctx)
	assert.False(t, b.IsOpen(ctx))
	assert.Equal(t, models.BreakerStatus{Name: "upstream-llm", State: models.BreakerClosed}, b.Status(ctx))

	for i := 0; i < 4; i++ {
		b.RecordFailure(ctx)
	}
	assert.False(t, b.IsOpen(ctx), "success must clear the failure count")
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBreaker(t)

	for i := 0; i < 5; i++ {
		b.RecordFailure(ctx)
	}
	b.Reset(ctx)
	assert.False(t, b.IsOpen(ctx))
}
