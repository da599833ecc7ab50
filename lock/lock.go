// Package lock provides the distributed lock that keeps sweeper runs from
// overlapping across instances.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotObtained is returned when another holder owns the lock.
var ErrNotObtained = errors.New("lock not obtained")

type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

type Lock interface {
	Release(ctx context.Context) error
}
