package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Locker guards the analytics read-modify-write. Without it two
// overlapping runs can both load the old state and one run's records are
// lost on the second save.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// RedisLocker implements the lock with SET NX and a TTL so a crashed run
// cannot hold the lock forever.
type RedisLocker struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisLocker(client *redis.Client, logger *logrus.Logger) *RedisLocker {
	return &RedisLocker{client: client, logger: logger}
}

// Acquire takes the lock or fails after a short bounded wait. The
// release func deletes the key only when it still holds our token; an
// expired lock taken over by another run is left alone.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()

	const attempts = 5
	for attempt := 0; attempt < attempts; attempt++ {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			release := func() {
				current, err := l.client.Get(context.Background(), key).Result()
				if err != nil || current != token {
					return
				}
				if err := l.client.Del(context.Background(), key).Err(); err != nil {
					l.logger.WithError(err).WithField("lock", key).Warn("Failed to release lock")
				}
			}
			return release, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("lock %s is held by another run", key)
}
