// Package cache holds the read-through cache used by the clinic API: the
// store backends, the key scheme, and the coordinator that decides which
// keys a mutation makes stale.
//
// The cache is never authoritative. Store failures are logged and treated
// as misses, and invalidation runs only after the writing transaction has
// committed. A crash between commit and invalidation leaves an entry stale
// until its TTL expires.
package cache

import (
	"context"
	"time"
)

// Store is a byte-oriented key/value store with per-entry TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
