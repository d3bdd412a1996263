package gridbase

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker serializes writes to one collection.
type Locker interface {
	// Lock blocks until key is held and returns the release function.
	Lock(ctx context.Context, key string) (release func(), err error)
}

// LocalLocker serializes writers inside one process.
type LocalLocker struct {
	locks *StripedLocks
}

// NewLocalLocker creates an in-process locker with 32 stripes.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: NewStripedLocks(32)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.locks.Lock(key), nil
}

// releaseScript deletes the lock only while we still own it.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// DistributedLock provides Redis-based locking across processes.
type DistributedLock struct {
	redis      *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
	ownsClient bool
}

// NewDistributedLock creates a lock manager on an existing client.
func NewDistributedLock(client *redis.Client, keyPrefix string) *DistributedLock {
	return &DistributedLock{
		redis:      client,
		keyPrefix:  keyPrefix,
		defaultTTL: 30 * time.Second,
	}
}

// NewDistributedLockWithOwnedClient creates a lock manager that closes client on Close.
func NewDistributedLockWithOwnedClient(client *redis.Client, keyPrefix string) *DistributedLock {
	l := NewDistributedLock(client, keyPrefix)
	l.ownsClient = true
	return l
}

// Lock makes one attempt to acquire key. It returns ErrLockHeld when another
// owner has it.
func (l *DistributedLock) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl == 0 {
		ttl = l.defaultTTL
	}

	lockKey := fmt.Sprintf("%s:lock:%s", l.keyPrefix, key)
	token := NewID()

	ok, err := l.redis.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, WithContext(ErrBackendUnavailable, map[string]interface{}{
			"key":    key,
			"reason": err.Error(),
		})
	}
	if !ok {
		return nil, WithContext(ErrLockHeld, map[string]interface{}{
			"key": key,
			"ttl": ttl,
		})
	}

	release := func() {
		// Background context: release must run even if the caller's context is done.
		l.redis.Eval(context.Background(), releaseScript, []string{lockKey}, token)
	}
	return release, nil
}

// TryLockWithRetry retries Lock with exponential backoff.
func (l *DistributedLock) TryLockWithRetry(ctx context.Context, key string, ttl time.Duration, cfg RetryConfig) (func(), error) {
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	backoff := cfg.InitialBackoff
	for i := 0; i < attempts; i++ {
		release, err := l.Lock(ctx, key, ttl)
		if err == nil {
			return release, nil
		}
		lastErr = err

		if i == attempts-1 {
			break
		}
		wait := backoff + time.Duration(float64(backoff)*cfg.JitterPercent)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		backoff *= time.Duration(cfg.BackoffMultiple)
	}

	return nil, fmt.Errorf("failed to acquire lock after %d attempts: %w", attempts, lastErr)
}

// Close releases the Redis client when the lock owns it
func (l *DistributedLock) Close() error {
	if l.ownsClient && l.redis != nil {
		return l.redis.Close()
	}
	return nil
}

// RedisLocker is a Locker backed by DistributedLock, for stores shared by
// several processes.
type RedisLocker struct {
	lock  *DistributedLock
	ttl   time.Duration
	retry RetryConfig
}

// NewRedisLocker creates a Locker using client. Lock keys are prefixed with prefix.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{
		lock:  NewDistributedLock(client, prefix),
		ttl:   10 * time.Second,
		retry: DefaultRetryConfig(),
	}
}

// WithRetry overrides the acquisition retry policy.
func (r *RedisLocker) WithRetry(cfg RetryConfig) *RedisLocker {
	r.retry = cfg
	return r
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	return r.lock.TryLockWithRetry(ctx, key, r.ttl, r.retry)
}
