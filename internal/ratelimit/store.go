package ratelimit

import (
	"context"
	"time"
)

// CounterStore is the shared TTL-capable key/counter store behind the limiter.
// Implementations may be a single-process map or a distributed KV service.
type CounterStore interface {
	// Get returns the counter for key. found is false when the key is absent or expired.
	Get(ctx context.Context, key string) (counter Counter, found bool, err error)

	// Put stores the counter and lets it expire after ttl.
	Put(ctx context.Context, key string, counter Counter, ttl time.Duration) error
}
