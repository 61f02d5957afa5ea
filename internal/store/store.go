// Package store provides the durable key/value storage the pipeline depends
// on: attribution session fields, the destination cache, and the re-purchase
// ledger all live here. Two backends exist: Redis (preferred, cross-restart
// durable with native TTLs) and a JSON file for standalone runs.
package store

import (
	"context"
	"time"
)

// KV is the storage contract shared by every pipeline component. Values are
// opaque strings; callers serialize structured data themselves. A ttl of zero
// means the key never expires.
type KV interface {
	// Get returns the value for key. The bool reports whether the key exists
	// (expired keys count as absent).
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes key to value with an optional expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
