// Package lock serializes work on one business object across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

// ErrBusy indicates another worker holds the lock.
var ErrBusy = shared.Classify(shared.ErrConflict, errors.New("lock: resource is busy"))

// Locker acquires a named lock and returns its release function.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// RedisLocker implements Locker with redislock.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisLocker builds a locker on top of the shared redis client.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl, logger: logger}
}

// Acquire obtains key without retrying. ErrBusy is returned when it is held elsewhere.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	held, err := l.client.Obtain(ctx, key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrBusy, key)
	}
	if err != nil {
		return nil, fmt.Errorf("lock: obtain %s: %w", key, err)
	}
	return func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("release lock", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}

// Noop never blocks. It is used when redis is not configured.
type Noop struct{}

// Acquire returns immediately.
func (Noop) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}
