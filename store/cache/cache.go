// Package cache abstracts away a fast opens counter sitting in front of the
// filesystem message store. The beacon path bumps it on every fetch and the
// stats endpoint reads it instead of scanning message directories. It is an
// accelerator, not a source of truth: failures are logged and ignored.
package cache

import "context"

// Cache is interface to abstract away counting beacon fetches
type Cache interface {
	// Ping ensures Cache works
	Ping(ctx context.Context) error
	// Close closes cache, it should be called before application exits
	Close() error
	// Incr counts one beacon fetch for message id
	Incr(ctx context.Context, id string) error
	// Opens returns cached opens counter for message id
	Opens(ctx context.Context, id string) (int64, error)
	// Total returns cached total of all beacon fetches
	Total(ctx context.Context) (int64, error)
}
