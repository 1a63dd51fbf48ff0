// Package tokenstore defines the TTL key/value store backing one-time
// tokens, short-lived blacklists, and session-scoped state.
package tokenstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means the key is absent or already expired.
	ErrNotFound = errors.New("tokenstore: not found")

	// ErrConsumed means a concurrent consumer won the race on a one-time
	// key. A losing consumer must observe this, never a false success.
	ErrConsumed = errors.New("tokenstore: already consumed")
)

// Store is a TTL key/value store. Implementations must make Consume
// atomic: for a single key with many racing consumers, at most one call
// returns the value.
type Store interface {
	// Set writes value under key with the given TTL, replacing any
	// previous entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the live value for key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Consume atomically reads the value and rewrites the entry's TTL to
	// the past, so every later Get or Consume fails. Exactly one of N
	// racing consumers succeeds.
	Consume(ctx context.Context, key string) ([]byte, error)

	// Delete removes the entry if present.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a live entry exists (blacklist checks).
	Exists(ctx context.Context, key string) (bool, error)

	// PruneExpired drops entries whose TTL has lapsed (housekeeping).
	PruneExpired(ctx context.Context) int
}
