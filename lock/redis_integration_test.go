//go:build integration

package lock

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis connects to VOUCHERHUB_TEST_REDIS_ADDR, for example a
// container started with `docker run -p 6379:6379 redis:7`.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("VOUCHERHUB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VOUCHERHUB_TEST_REDIS_ADDR not set")
	}

	cli := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = cli.Close() })
	require.NoError(t, cli.Ping(context.Background()).Err())
	return cli
}

func testKey(t *testing.T) string {
	return fmt.Sprintf("voucherhub:test:%s:%d", t.Name(), time.Now().UnixNano())
}

func TestRedisLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	locker := NewRedisLock(newTestRedis(t))
	key := testKey(t)

	held, err := locker.Obtain(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = locker.Obtain(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrNotObtained)

	require.NoError(t, held.Release(ctx))

	again, err := locker.Obtain(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))

	// A lock that is no longer held releases quietly.
	assert.NoError(t, again.Release(ctx))
}

func TestRedisLockExpires(t *testing.T) {
	ctx := context.Background()
	locker := NewRedisLock(newTestRedis(t))
	key := testKey(t)

	held, err := locker.Obtain(ctx, key, 200*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		next, err := locker.Obtain(ctx, key, time.Minute)
		if err != nil {
			return false
		}
		return next.Release(ctx) == nil
	}, 5*time.Second, 50*time.Millisecond)

	assert.NoError(t, held.Release(ctx))
}

func TestRedisLockSeparateKeys(t *testing.T) {
	ctx := context.Background()
	locker := NewRedisLock(newTestRedis(t))

	first, err := locker.Obtain(ctx, testKey(t)+":a", time.Minute)
	require.NoError(t, err)
	second, err := locker.Obtain(ctx, testKey(t)+":b", time.Minute)
	require.NoError(t, err)

	assert.NoError(t, first.Release(ctx))
	assert.NoError(t, second.Release(ctx))
}
