package limiter

import (
	"context"
	"time"

	"github.com/threadgate/threadgate/internal/core"
)

// Store holds fixed-window counters. Every method must be atomic per key:
// concurrent calls for the same key observe a single total order.
type Store interface {
	// IncrementIfBelow starts a fresh window (count 1) when the key is absent or
	// expired, increments when the count is below max, and otherwise leaves the
	// entry untouched. It returns the resulting entry and whether the call was
	// admitted.
	IncrementIfBelow(ctx context.Context, key string, max int, window time.Duration, now time.Time) (core.RateLimitEntry, bool, error)

	// Get returns the stored entry for key, or nil when there is none.
	Get(ctx context.Context, key string) (*core.RateLimitEntry, error)

	// Delete removes the entry for key.
	Delete(ctx context.Context, key string) error

	// Sweep removes entries whose window ended at or before now and returns how
	// many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Key builds the store key for an identity within an endpoint class.
func Key(identity string, class core.EndpointClass) string {
	return string(class) + ":" + identity
}
