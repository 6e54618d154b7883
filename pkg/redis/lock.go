package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Ramsey-B/clover/pkg/locks"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotHeld is returned when releasing a lock that expired or was taken over.
var ErrLockNotHeld = errors.New("lock not held")

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Locker provides distributed per-key locks shared by every service instance.
type Locker struct {
	client    *Client
	keyPrefix string
	ttl       time.Duration
}

// NewLocker creates a Locker. ttl bounds how long a crashed holder can block a key.
func NewLocker(client *Client, keyPrefix string, ttl time.Duration) *Locker {
	if keyPrefix == "" {
		keyPrefix = "clover:lock:"
	}
	return &Locker{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// Lock takes the key with SET NX or fails with locks.ErrHeld.
func (l *Locker) Lock(ctx context.Context, key string) (locks.Unlock, error) {
	lockKey := l.keyPrefix + key
	value := uuid.New().String()

	ok, err := l.client.rdb.SetNX(ctx, lockKey, value, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, locks.ErrHeld
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock: %s", lockKey)

	var once sync.Once
	return func() {
		once.Do(func() {
			// the holder's context may already be gone when the detached work finishes
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := l.release(releaseCtx, lockKey, value); err != nil {
				l.client.logger.WithContext(releaseCtx).WithError(err).Warnf("Failed to release lock: %s", lockKey)
			}
		})
	}, nil
}

func (l *Locker) release(ctx context.Context, lockKey, value string) error {
	result, err := releaseScript.Run(ctx, l.client.rdb, []string{lockKey}, value).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	l.client.logger.WithContext(ctx).Debugf("Released lock: %s", lockKey)
	return nil
}
