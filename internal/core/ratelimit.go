package core

import (
	"math"
	"time"
)

// EndpointClass groups routes that share a throttling policy.
type EndpointClass string

const (
	ClassGeneration EndpointClass = "generation"
	ClassAuth       EndpointClass = "auth"
	ClassAPI        EndpointClass = "api"
	ClassAdmin      EndpointClass = "admin"
)

// EndpointClasses lists the built-in classes in display order.
var EndpointClasses = []EndpointClass{ClassGeneration, ClassAuth, ClassAPI, ClassAdmin}

// Valid reports whether c is one of the built-in classes.
func (c EndpointClass) Valid() bool {
	for _, known := range EndpointClasses {
		if c == known {
			return true
		}
	}
	return false
}

// WindowConfig is the fixed-window policy for one endpoint class.
type WindowConfig struct {
	Window      time.Duration `json:"window"`
	MaxRequests int           `json:"max_requests"`
}

// RateLimitEntry is the counter stored for one (identity, class) key.
type RateLimitEntry struct {
	Key           string    `json:"key"`
	Count         int       `json:"count"`
	WindowResetAt time.Time `json:"window_reset_at"`
}

// Expired reports whether the entry's window has ended at now.
func (e *RateLimitEntry) Expired(now time.Time) bool {
	return e == nil || !now.Before(e.WindowResetAt)
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Admitted  bool      `json:"admitted"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// RetryAfter returns the whole seconds until the window resets, never negative.
func (d Decision) RetryAfter(now time.Time) int {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	return int(math.Ceil(wait.Seconds()))
}
