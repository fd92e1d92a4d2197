// Package store provides the ephemeral key-value store that holds
// short-lived OAuth flow state and credentials. Entries are TTL-bounded
// and all cross-request coordination relies on the store's atomic
// per-key operations.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or has expired.
var ErrNotFound = errors.New("store: key not found")

// Store is a TTL-bounded key-value store with atomic per-key operations.
type Store interface {
	// Set writes value under key with the given TTL, overwriting any
	// previous entry (last-writer-wins).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value for key, or ErrNotFound if absent/expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetDelete atomically reads and removes the value for key. Of two
	// concurrent calls for the same key, exactly one receives the value;
	// the other receives ErrNotFound. This is what makes state tokens and
	// credentials single-use.
	GetDelete(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
