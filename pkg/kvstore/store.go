// Package kvstore defines the durable key-value store shared by the cache,
// rate limiter, circuit breaker and conversation store.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a byte-oriented key-value store with per-key expiry.
// A ttl of zero or less stores the value without expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Maintainer is implemented by stores that support inspection and bulk
// cleanup from the CLI.
type Maintainer interface {
	// Len reports the number of stored keys matching prefix.
	Len(ctx context.Context, prefix string) (int64, error)
	// Clear removes keys matching prefix. If expiredOnly is true, only keys
	// whose TTL has already elapsed are removed.
	Clear(ctx context.Context, prefix string, expiredOnly bool) error
}
