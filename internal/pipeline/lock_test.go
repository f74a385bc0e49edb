package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewRedisLocker(client, logger), mr
}

func TestRedisLockerAcquireAndRelease(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "test:lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock"))

	release()
	assert.False(t, mr.Exists("test:lock"))
}

func TestRedisLockerBlocksSecondHolder(t *testing.T) {
	locker, _ := newTestLocker(t)

	release, err := locker.Acquire(context.Background(), "test:lock", time.Minute)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = locker.Acquire(ctx, "test:lock", time.Minute)
	require.Error(t, err)
}

func TestRedisLockerReleaseLeavesForeignLockAlone(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "test:lock", time.Minute)
	require.NoError(t, err)

	// Simulate expiry plus takeover by another run.
	mr.FastForward(2 * time.Minute)
	require.NoError(t, mr.Set("test:lock", "someone-else"))

	release()
	value, err := mr.Get("test:lock")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", value)
}

func TestRedisLockerAcquireAfterExpiry(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	_, err := locker.Acquire(ctx, "test:lock", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	release, err := locker.Acquire(ctx, "test:lock", time.Minute)
	require.NoError(t, err)
	release()
}
