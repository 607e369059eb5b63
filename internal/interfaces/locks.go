package interfaces

import (
	"context"
	"time"
)

// AccountLocker hands out exclusive, externally visible leases per account
type AccountLocker interface {
	// Acquire takes the lease for key or fails with models.ErrConcurrencyConflict
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock. Only the holder can extend or release it.
type Lease interface {
	Key() string
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}
