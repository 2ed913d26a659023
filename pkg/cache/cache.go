// Package cache provides a TTL-bounded typed cache over a kvstore.Store.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eyecheck/gateway/pkg/kvstore"
	"github.com/eyecheck/gateway/pkg/metrics"
	"github.com/eyecheck/gateway/pkg/models"
)

// maxKeyPart is the longest key part kept verbatim; longer parts are hashed.
const maxKeyPart = 64

// Cache stores values of type T as JSON-encoded models.CacheEntry envelopes.
// Store failures never reach the caller: reads degrade to a miss and writes
// to a no-op, both logged at warn level.
type Cache[T any] struct {
	store   kvstore.Store
	prefix  string
	now     func() time.Time
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	hits    atomic.Int64
	misses  atomic.Int64
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now     func() time.Time
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger used for swallowed store errors.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics records hits and misses under the cache's prefix.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New creates a cache whose keys are namespaced under prefix.
func New[T any](store kvstore.Store, prefix string, opts ...Option) *Cache[T] {
	o := options{now: time.Now, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{
		store:   store,
		prefix:  prefix,
		now:     o.now,
		log:     o.log.WithField("cache", prefix),
		metrics: o.metrics,
	}
}

// Prefix returns the namespace this cache writes under.
func (c *Cache[T]) Prefix() string {
	return c.prefix + ":"
}

func (c *Cache[T]) fullKey(key string) string {
	return c.prefix + ":" + key
}

// Now returns the cache's notion of the current time.
func (c *Cache[T]) Now() time.Time {
	return c.now()
}

// Get returns the value stored at key. An expired entry is reported absent and
// deleted from the store. A hit increments the entry's hit count and rewrites
// it with its remaining TTL.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	entry, ok := c.load(ctx, key)
	if !ok {
		c.miss()
		return zero, false
	}

	now := c.now()
	if entry.Expired(now) {
		if err := c.store.Delete(ctx, c.fullKey(key)); err != nil {
			c.log.WithError(err).WithField("key", key).Warn("cache delete expired failed")
		}
		c.miss()
		return zero, false
	}

	entry.HitCount++
	if remaining := entry.Remaining(now); remaining > 0 {
		c.write(ctx, key, entry, remaining)
	}

	c.hits.Add(1)
	c.metrics.CacheLookup(c.prefix, true)
	return entry.Data, true
}

// Entry returns the full envelope for key without touching its hit count.
func (c *Cache[T]) Entry(ctx context.Context, key string) (models.CacheEntry[T], bool) {
	entry, ok := c.load(ctx, key)
	if !ok || entry.Expired(c.now()) {
		return models.CacheEntry[T]{}, false
	}
	return entry, true
}

// Set stores value for ttl, stamping it with the current time.
func (c *Cache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) {
	entry := models.CacheEntry[T]{
		Data:       value,
		StoredAt:   c.now(),
		TTLSeconds: int(math.Ceil(ttl.Seconds())),
	}
	c.write(ctx, key, entry, ttl)
}

// Delete removes key.
func (c *Cache[T]) Delete(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, c.fullKey(key)); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache delete failed")
	}
}

// Stats returns hit and miss counts, plus the entry count when the store
// supports it.
func (c *Cache[T]) Stats(ctx context.Context) models.CacheStats {
	stats := models.CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	if m, ok := c.store.(kvstore.Maintainer); ok {
		n, err := m.Len(ctx, c.Prefix())
		if err != nil {
			c.log.WithError(err).Warn("cache stats failed")
		}
		stats.Entries = n
	}
	return stats
}

func (c *Cache[T]) load(ctx context.Context, key string) (models.CacheEntry[T], bool) {
	var entry models.CacheEntry[T]
	data, err := c.store.Get(ctx, c.fullKey(key))
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			c.log.WithError(err).WithField("key", key).Warn("cache get failed")
		}
		return entry, false
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache entry corrupt")
		return entry, false
	}
	return entry, true
}

func (c *Cache[T]) write(ctx context.Context, key string, entry models.CacheEntry[T], ttl time.Duration) {
	data, err := json.Marshal(entry)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache encode failed")
		return
	}
	if err := c.store.Put(ctx, c.fullKey(key), data, ttl); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache put failed")
	}
}

func (c *Cache[T]) miss() {
	c.misses.Add(1)
	c.metrics.CacheLookup(c.prefix, false)
}

// GenerateKey joins parts into a stable key. Strings are used as-is, other
// values are JSON-encoded, and parts longer than 64 bytes are replaced by
// their SHA-256 hex digest.
func GenerateKey(parts ...any) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		var s string
		switch v := p.(type) {
		case string:
			s = v
		case fmt.Stringer:
			s = v.String()
		default:
			data, err := json.Marshal(v)
			if err != nil {
				s = fmt.Sprintf("%v", v)
			} else {
				s = string(data)
			}
		}
		if len(s) > maxKeyPart {
			s = fmt.Sprintf("%x", sha256.Sum256([]byte(s)))
		}
		out = append(out, s)
	}
	return strings.Join(out, ":")
}
