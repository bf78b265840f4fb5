package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Counter is the state of one fixed window after an increment.
type Counter struct {
	Count int64
	TTL   time.Duration
}

// CounterStore is a shared, TTL-capable counter reachable from every
// instance. Increment must be atomic per key: the first call in a window
// creates the key with count 1 and expiry window, later calls add one.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (Counter, error)
	// Peek returns the current window without counting a request. A missing
	// or expired key yields a zero Counter.
	Peek(ctx context.Context, key string) (Counter, error)
	Reset(ctx context.Context, key string) error
}

var (
	ErrEmptyKey         = errors.New("rate limit key is empty")
	ErrInvalidWindow    = errors.New("rate limit window must be positive")
	ErrStoreUnavailable = errors.New("rate_limit_store_unavailable")
)

func validateArgs(key string, window time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if window <= 0 {
		return ErrInvalidWindow
	}
	return nil
}
