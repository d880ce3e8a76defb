package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/requisition-fillrate/internal/core/service"
)

const (
	lockKeyPrefix  = "lock:requisition:"
	defaultLockTTL = 30 * time.Second
)

// RedisLocker serializes destination completions per requisition token
// across server instances.
type RedisLocker struct {
	locker *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{
		locker: redislock.New(client),
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 20),
	}
}

func (l *RedisLocker) Lock(ctx context.Context, token string) (func(context.Context) error, error) {
	lock, err := l.locker.Obtain(ctx, lockKeyPrefix+token, l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, service.ErrLockNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock: %w", err)
	}

	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return err
	}, nil
}
