package snapshot

import (
	"context"

	"github.com/DaveHalls/nft-dark-forest/env"
	"github.com/go-redis/redis/v8"
)

// RedisBackend persists snapshot entries in Redis. TTL bookkeeping lives in the
// envelope, not in Redis expiry, so an entry read after its TTL still goes through
// the store's version/expiry checks and proactive delete.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to the Redis instance at REDIS_URL. Returns nil when no
// URL is configured; the store then runs purely in memory.
func NewRedisBackend() *RedisBackend {
	url := env.GetString("REDIS_URL")
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	return &RedisBackend{client: redis.NewClient(opts)}
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Close releases the underlying Redis connection.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
