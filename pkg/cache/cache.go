// Package cache stores registry responses between runs.
//
// Metadata fetches dominate converter runtime; caching them makes repeated
// runs over large lockfiles cheap. The cache is strictly an optimization:
// every backend may drop data at any time, and the Null backend disables
// caching entirely. Backends: file (default, one file per key under the
// cache directory), redis, mongo, and null.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key/value store with per-entry TTL.
type Cache interface {
	// Get returns the cached value and whether it was present and fresh.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores a value. A ttl of 0 means the entry never expires.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	// Delete removes a value. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases backend resources.
	Close() error
}
