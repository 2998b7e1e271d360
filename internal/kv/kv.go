// Package kv provides the ephemeral keyed store backing rate-limit counters
// and one-time passcodes. Implementations must make IncrWithTTL atomic.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or has expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is a TTL-scoped key-value store with the atomic primitives the
// intake pipeline needs. Values are opaque strings.
type Store interface {
	// IncrWithTTL atomically increments the counter at key and returns the
	// new value. The TTL is applied when the increment creates the key, so
	// a window counter expires relative to its first event.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// SetWithTTL stores value at key, replacing any existing value and TTL.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// CompareDel deletes key only if its current value equals expected, in
	// one atomic step, and reports whether it did. An absent or expired key
	// compares false. Used for single-use secrets.
	CompareDel(ctx context.Context, key, expected string) (bool, error)

	// Del removes key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error

	Close() error
}
