package models

import "time"

// RateLimitCounter is the per (client, endpoint) admission counter.
type RateLimitCounter struct {
	ClientID        string    `json:"client_id"`
	Endpoint        string    `json:"endpoint"`
	Count           int       `json:"count"`
	WindowExpiresAt time.Time `json:"window_expires_at"`
}

// WindowCounter is a plain counter scoped to a time window.
type WindowCounter struct {
	Count           int       `json:"count"`
	WindowExpiresAt time.Time `json:"window_expires_at"`
}

// BreakerState is the observable state of a circuit breaker.
type BreakerState string

const (
	BreakerClosed BreakerState = "closed"
	BreakerOpen   BreakerState = "open"
)

// BreakerStatus is a point-in-time view of a breaker.
type BreakerStatus struct {
	Name      string       `json:"name"`
	State     BreakerState `json:"state"`
	Failures  int          `json:"failures"`
	OpenUntil time.Time    `json:"open_until,omitempty"`
}
