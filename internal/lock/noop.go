package lock

import (
	"context"
	"time"
)

// NoopLocker implements Locker without any actual locking.
// Useful for tests and deployments where concurrent reconciliation runs are
// acceptable or externally prevented.
type NoopLocker struct{}

// NewNoopLocker creates a new no-op locker.
func NewNoopLocker() *NoopLocker {
	return &NoopLocker{}
}

// Acquire always succeeds.
func (n *NoopLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

// Release always succeeds.
func (n *NoopLocker) Release(ctx context.Context, key string) (bool, error) {
	return true, nil
}

// Extend always succeeds.
func (n *NoopLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

// Ensure NoopLocker implements Locker
var _ Locker = (*NoopLocker)(nil)
