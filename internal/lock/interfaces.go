// Package lock provides distributed and local locking abstractions.
// For single-node deployments, memory-based locks are used.
// For distributed deployments, Redis-based locks can be used.
package lock

import (
	"context"
	"time"
)

// Locker defines the interface for distributed/local locking.
// This abstraction allows switching between in-memory locks (single-node)
// and Redis-based locks (distributed) without changing business logic.
type Locker interface {
	// Acquire attempts to acquire a lock.
	// Returns true if the lock was acquired, false if it's held by another process.
	// The lock will automatically expire after the specified TTL.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release releases a lock.
	// Returns true if the lock was released, false if it wasn't held.
	Release(ctx context.Context, key string) (bool, error)

	// Extend extends the TTL of a held lock.
	// Returns true if the lock was extended, false if it's not held.
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// keys groups the lock key builders so call sites read as lock.Keys.Reconcile(p).
type keys struct{}

// Keys builds the well-known lock keys.
var Keys keys

// Reconcile is the single-flight lock for one provider's reconciliation run.
// Holding it ensures at most one scan-and-cleanup per provider across the
// deployment.
func (keys) Reconcile(provider string) string {
	return "filewarden:reconcile:" + provider
}
