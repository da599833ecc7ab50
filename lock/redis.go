package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

type RedisLock struct {
	cli   *redislock.Client
	retry redislock.RetryStrategy
}

var _ Locker = (*RedisLock)(nil)

// NewRedisLock returns a locker that gives up at once when the key is held.
func NewRedisLock(cli *redis.Client) *RedisLock {
	return &RedisLock{cli: redislock.New(cli), retry: redislock.NoRetry()}
}

func (r *RedisLock) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	l, err := r.cli.Obtain(ctx, key, ttl, &redislock.Options{RetryStrategy: r.retry})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrNotObtained
		}
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}
	return &redisKeyLock{lock: l}, nil
}

type redisKeyLock struct {
	lock *redislock.Lock
}

func (l *redisKeyLock) Release(ctx context.Context) error {
	if err := l.lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
