package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock stays held by someone else for
// longer than MaxWait.
var ErrNotAcquired = errors.New("lock: not acquired")

var releaseScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`)

// Locker provides a Redis-backed distributed lock.
type Locker struct {
	R            redis.UniversalClient
	RetryBackoff time.Duration
	// MaxWait bounds how long WithLock polls for a held key. Zero waits until
	// the context is done.
	MaxWait time.Duration
}

// WithLock executes fn while holding a lock for key. The lock is released
// when fn returns, and only if this caller still owns it.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	var deadline time.Time
	if l.MaxWait > 0 {
		deadline = time.Now().Add(l.MaxWait)
	}
	token := uuid.NewString()

	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			defer l.release(key, token)
			return fn(ctx)
		}
		if !deadline.IsZero() && time.Now().Add(retry).After(deadline) {
			return fmt.Errorf("%w: %s", ErrNotAcquired, key)
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l Locker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = releaseScript.Run(ctx, l.R, []string{key}, token).Err()
}
