package models

import "time"

// CacheEntry is the envelope stored in the key-value store for every cached value.
type CacheEntry[T any] struct {
	Data       T         `json:"data"`
	StoredAt   time.Time `json:"stored_at"`
	TTLSeconds int       `json:"ttl_seconds"`
	HitCount   int       `json:"hit_count"`
}

// Expired reports whether the entry is past its TTL at now.
func (e CacheEntry[T]) Expired(now time.Time) bool {
	return now.Sub(e.StoredAt) > time.Duration(e.TTLSeconds)*time.Second
}

// Remaining returns how long the entry has left to live at now.
func (e CacheEntry[T]) Remaining(now time.Time) time.Duration {
	return e.StoredAt.Add(time.Duration(e.TTLSeconds) * time.Second).Sub(now)
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}
