package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"ms-restaurant/internal/logger"
)

const (
	lockKeyPrefix        = "order_lock:"
	defaultLockTTL       = 10 * time.Second
	defaultRetryInterval = 25 * time.Millisecond
)

// ErrLockNotHeld is returned by Unlock when the key expired or was taken over.
var ErrLockNotHeld = errors.New("order lock not held")

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a per-order mutex shared by every instance through Redis.
type Locker struct {
	Client        *redis.Client
	Logger        *logger.Logger
	TTL           time.Duration
	RetryInterval time.Duration
}

func NewLocker(client *redis.Client, ttl time.Duration, log *logger.Logger) *Locker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Locker{Client: client, Logger: log, TTL: ttl, RetryInterval: defaultRetryInterval}
}

func lockKey(orderID string) string {
	return lockKeyPrefix + orderID
}

// TryLock makes a single attempt. The returned token is needed to unlock.
func (l *Locker) TryLock(ctx context.Context, orderID string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.Client.SetNX(ctx, lockKey(orderID), token, l.TTL).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Lock retries until the lock is taken or ctx is done. Without a deadline on
// ctx it gives up after one TTL.
func (l *Locker) Lock(ctx context.Context, orderID string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.TTL)
		defer cancel()
	}

	interval := l.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		token, ok, err := l.TryLock(ctx, orderID)
		if err != nil {
			return "", fmt.Errorf("lock order %s: %w", orderID, err)
		}
		if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("lock order %s: %w", orderID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Unlock releases the lock only if token still owns it.
func (l *Locker) Unlock(ctx context.Context, orderID, token string) error {
	n, err := releaseScript.Run(ctx, l.Client, []string{lockKey(orderID)}, token).Int()
	if err != nil {
		return fmt.Errorf("unlock order %s: %w", orderID, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// WithLock runs fn while holding the order's lock.
func (l *Locker) WithLock(ctx context.Context, orderID string, fn func(ctx context.Context) error) error {
	token, err := l.Lock(ctx, orderID)
	if err != nil {
		return err
	}
	defer func() {
		// Release even if the caller's context is already cancelled
		if err := l.Unlock(context.WithoutCancel(ctx), orderID, token); err != nil {
			l.Logger.Warn("REDIS", fmt.Sprintf("release lock for order %s: %v", orderID, err))
		}
	}()
	return fn(ctx)
}
