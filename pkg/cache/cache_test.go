package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyecheck/gateway/pkg/kvstore"
)

type report struct {
	Score int    `json:"score"`
	Note  string `json:"note"`
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(t *testing.T) (*Cache[report], *kvstore.Memory, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	store := kvstore.NewMemory()
	// The store never expires anything on its own so stale entries stay
	// visible to the cache layer.
	store.SetClock(func() time.Time { return time.Time{} })
	logger, _ := test.NewNullLogger()
	return New[report](store, "report", WithClock(clk.now), WithLogger(logger)), store, clk
}

func TestSetAndGet(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)

	c.Set(ctx, "u1", report{Score: 7, Note: "ok"}, time.Second)

	got, ok := c.Get(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, report{Score: 7, Note: "ok"}, got)

	_, ok = c.Get(ctx, "u2")
	assert.False(t, ok)
}

func TestExpiredEntryIsDeleted(t *testing.T) {
	ctx := context.Background()
	c, store, clk := newTestCache(t)

	c.Set(ctx, "u1", report{Score: 1}, time.Second)
	clk.advance(1100 * time.Millisecond)

	_, ok := c.Get(ctx, "u1")
	assert.False(t, ok, "entry older than its TTL must not be returned")

	_, err := store.Get(ctx, "report:u1")
	assert.ErrorIs(t, err, kvstore.ErrNotFound, "expired entry must be removed from the store")

	_, ok = c.Get(ctx, "u1")
	assert.False(t, ok)
}

func TestHitCountIncrements(t *testing.T) {
	ctx := context.Background()
	c, _, clk := newTestCache(t)

	c.Set(ctx, "u1", report{Score: 2}, time.Hour)
	clk.advance(time.Minute)
	c.Get(ctx, "u1")
	c.Get(ctx, "u1")

	entry, ok := c.Entry(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, 2, entry.HitCount)
	assert.Equal(t, 3600, entry.TTLSeconds)
	assert.Equal(t, clk.t.Add(-time.Minute), entry.StoredAt, "hits must not refresh StoredAt")

	stats := c.Stats(ctx)
	assert.EqualValues(t, 2, stats.Hits)
	assert.EqualValues(t, 1, stats.Entries)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)

	c.Set(ctx, "u1", report{}, time.Hour)
	c.Delete(ctx, "u1")

	_, ok := c.Get(ctx, "u1")
	assert.False(t, ok)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("store down")
}
func (failingStore) Put(context.Context, string, []byte, time.Duration) error {
	return errors.New("store down")
}
func (failingStore) Delete(context.Context, string) error { return errors.New("store down") }

func TestStoreErrorsAreSwallowed(t *testing.T) {
	ctx := context.Background()
	logger, hook := test.NewNullLogger()
	c := New[report](failingStore{}, "report", WithLogger(logger))

	assert.NotPanics(t, func() {
		c.Set(ctx, "u1", report{Score: 1}, time.Hour)
		c.Delete(ctx, "u1")
	})
	_, ok := c.Get(ctx, "u1")
	assert.False(t, ok)
	assert.NotEmpty(t, hook.AllEntries(), "swallowed errors should be logged")
	assert.EqualValues(t, 1, c.Stats(ctx).Misses)
}

func TestGenerateKey(t *testing.T) {
	k1 := GenerateKey("report", "user:1", map[string]int{"a": 1})
	k2 := GenerateKey("report", "user:1", map[string]int{"a": 1})
	k3 := GenerateKey("report", "user:2", map[string]int{"a": 1})

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Equal(t, `report:user:1:{"a":1}`, k1)

	long := GenerateKey("x", strings.Repeat("y", 200))
	assert.Len(t, long, len("x:")+64)
}
