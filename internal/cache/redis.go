package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every key written to Redis
const KeyPrefix = "brandnexus:cache:"

// RedisOptions locates the Redis server
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisBackend shares cached values between processes. Values are stored
// as JSON under KeyPrefix + namespace + key.
type RedisBackend[V any] struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to Redis and verifies the connection
func NewRedisBackend[V any](ctx context.Context, opts RedisOptions, namespace string) (*RedisBackend[V], error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBackend[V]{client: client, prefix: KeyPrefix + namespace + ":"}, nil
}

func (r *RedisBackend[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var value V
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return value, false, nil
	}
	if err != nil {
		return value, false, fmt.Errorf("failed to get cache entry: %w", err)
	}

	if err := json.Unmarshal(data, &value); err != nil {
		return value, false, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return value, true, nil
}

func (r *RedisBackend[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// Purge deletes every key under this backend's prefix
func (r *RedisBackend[V]) Purge(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return nil
}

// Close releases the connection pool
func (r *RedisBackend[V]) Close() error {
	return r.client.Close()
}
