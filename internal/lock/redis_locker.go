// Package lock provides a distributed mutex keyed by name, backed by Redis.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL          = 30 * time.Second
	defaultRetryDelay   = 25 * time.Millisecond
	defaultAcquireLimit = 10 * time.Second
)

// ErrLockTimeout is returned when a lock cannot be acquired in time
var ErrLockTimeout = errors.New("timed out acquiring lock")

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements a SET NX PX lock per key
type RedisLocker struct {
	rdb          redis.UniversalClient
	prefix       string
	ttl          time.Duration
	retryDelay   time.Duration
	acquireLimit time.Duration
}

// Option customizes a RedisLocker
type Option func(*RedisLocker)

// WithTTL sets how long a lock lives if its holder never releases it
func WithTTL(ttl time.Duration) Option {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithAcquireTimeout bounds how long Lock waits for a contended key
func WithAcquireTimeout(d time.Duration) Option {
	return func(l *RedisLocker) {
		if d > 0 {
			l.acquireLimit = d
		}
	}
}

// NewRedisLocker creates a locker storing keys under prefix
func NewRedisLocker(rdb redis.UniversalClient, prefix string, opts ...Option) *RedisLocker {
	l := &RedisLocker{
		rdb:          rdb,
		prefix:       prefix,
		ttl:          defaultTTL,
		retryDelay:   defaultRetryDelay,
		acquireLimit: defaultAcquireLimit,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key returns the Redis key used for name
func (l *RedisLocker) Key(name string) string {
	return l.prefix + name
}

// Lock waits until the lock for name is held and returns its release func
func (l *RedisLocker) Lock(ctx context.Context, name string) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	key := l.Key(name)

	deadline := time.Now().Add(l.acquireLimit)
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}

	release := func() {
		// the caller's ctx may already be cancelled when releasing
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.rdb, []string{key}, token).Err()
	}
	return release, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
