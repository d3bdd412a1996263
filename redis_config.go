package gridbase

import (
	"context"
	"os"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisAddr is used when neither the caller nor the environment names
// a Redis server.
const DefaultRedisAddr = "localhost:6379"

// RedisOptions returns client options for the write locker. A non-empty addr
// wins; otherwise each setting comes from the first variable that is set:
//
//	GRIDBASE_REDIS_ADDR, REDIS_ADDR          server address
//	GRIDBASE_REDIS_PASSWORD, REDIS_PASSWORD  password
//	GRIDBASE_REDIS_DB, REDIS_DB              database number
func RedisOptions(addr string) *redis.Options {
	if addr == "" {
		addr = firstEnv("GRIDBASE_REDIS_ADDR", "REDIS_ADDR")
	}
	if addr == "" {
		addr = DefaultRedisAddr
	}

	return &redis.Options{
		Addr:     addr,
		Password: firstEnv("GRIDBASE_REDIS_PASSWORD", "REDIS_PASSWORD"),
		DB:       getEnvAsInt("GRIDBASE_REDIS_DB", getEnvAsInt("REDIS_DB", 0)),
	}
}

// DialRedisLocker connects to Redis and returns a locker that owns the
// client. Close the locker to release the connection.
//
//	locker, err := gridbase.DialRedisLocker(ctx, "", "gridbase")
//	if err != nil {
//		return err
//	}
//	defer locker.Close()
//	db, err := gridbase.Open(grid, gridbase.Options{Locker: locker})
func DialRedisLocker(ctx context.Context, addr, prefix string) (*RedisLocker, error) {
	opts := RedisOptions(addr)
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, WithContext(ErrBackendUnavailable, map[string]interface{}{
			"redis_addr": opts.Addr,
			"reason":     err.Error(),
		})
	}

	locker := NewRedisLocker(client, prefix)
	locker.lock.ownsClient = true
	return locker, nil
}

// Close releases the Redis client when the locker owns it.
func (r *RedisLocker) Close() error {
	return r.lock.Close()
}

// firstEnv returns the first non-empty variable among keys.
func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}
