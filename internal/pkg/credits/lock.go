package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// Locker serializes balance mutations for one account across processes.
type Locker interface {
	Obtain(ctx context.Context, key string) (release func(), err error)
}

var ErrLockTimeout = errors.New("could not obtain credit lock")

type redisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisLocker uses bsm/redislock. ttl bounds how long a crashed holder can
// block an account; wait bounds how long Obtain retries.
func NewRedisLocker(rdb *redis.Client, ttl, wait time.Duration) Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 10 * time.Second
	}
	return &redisLocker{client: redislock.New(rdb), ttl: ttl, wait: wait}
}

func (l *redisLocker) Obtain(ctx context.Context, key string) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	lock, err := l.client.Obtain(waitCtx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(25 * time.Millisecond),
	})
	if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
	}
	if err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			log.Warnf("[Credits] Failed to release lock %s: %v", key, err)
		}
	}, nil
}
