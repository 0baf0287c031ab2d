package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"dukani/backend/internal/store"
)

// Redis holds lock scopes across processes sharing one Redis.
type Redis struct {
	client  *redislock.Client
	ttl     time.Duration
	wait    time.Duration
	backoff time.Duration
	logger  logrus.FieldLogger
}

func NewRedis(client redis.UniversalClient, ttl time.Duration, wait time.Duration, logger logrus.FieldLogger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &Redis{
		client:  redislock.New(client),
		ttl:     ttl,
		wait:    wait,
		backoff: 50 * time.Millisecond,
		logger:  logger,
	}
}

func (r *Redis) Acquire(ctx context.Context, keys ...string) (Release, error) {
	keys = Normalize(keys)
	waitCtx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()

	held := make([]*redislock.Lock, 0, len(keys))
	for _, key := range keys {
		l, err := r.client.Obtain(waitCtx, "lock:"+key, r.ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(r.backoff),
		})
		if err != nil {
			r.releaseAll(held)
			if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("lock %s: %w", key, store.ErrContention)
			}
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		held = append(held, l)
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.releaseAll(held) })
	}, nil
}

func (r *Redis) releaseAll(held []*redislock.Lock) {
	for i := len(held) - 1; i >= 0; i-- {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := held[i].Release(ctx)
		cancel()
		if err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.logger.WithFields(logrus.Fields{
				"field": "lock.releaseAll",
				"key":   held[i].Key(),
			}).WithError(err).Warn("failed to release redis lock")
		}
	}
}
