package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisLocker shares locks between processes through Redis
type RedisLocker struct {
	client *redislock.Client
	prefix string
	ttl    time.Duration
	retry  redislock.RetryStrategy
	log    logrus.FieldLogger
}

// NewRedisLocker wraps a redis client. ttl bounds how long a crashed holder
// can keep a key.
func NewRedisLocker(rdb *redis.Client, prefix string, ttl time.Duration, log logrus.FieldLogger) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(rdb),
		prefix: strings.TrimRight(prefix, ":"),
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), int(ttl/(100*time.Millisecond))),
		log:    log,
	}
}

// Lock obtains key, retrying until the ttl has passed or ctx is done
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := l.key(key)
	lk, err := l.client.Obtain(ctx, lockKey, l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("could not obtain lock %s: %w", lockKey, err)
	}
	if err != nil {
		return nil, fmt.Errorf("error obtaining lock %s: %w", lockKey, err)
	}
	return func() {
		// a fresh context so a cancelled caller still releases the key
		if err := lk.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.log.WithField("key", lockKey).WithError(err).Warn("failed to release lock")
		}
	}, nil
}

// key namespaces key under the prefix as prefix:key
func (l *RedisLocker) key(key string) string {
	if l.prefix == "" {
		return key
	}
	return l.prefix + ":" + key
}
