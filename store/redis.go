// Package store provides Redis-backed storage for rate limit entries, for
// deployments where several instances must share one set of quotas.
package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quotafence/quotafence/pkg/quotafence"
)

// RedisStore implements quotafence.DistributedStore on a Redis backend.
// Increment maps onto INCRBY, so counter-style limits can be updated
// atomically without any process-local lock.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// Ensure RedisStore satisfies the capability interface.
var _ quotafence.DistributedStore = (*RedisStore)(nil)

// RedisConfig configures a Redis store.
type RedisConfig struct {
	Addr     string // Redis address (e.g. "localhost:6379")
	Password string // empty for no auth
	DB       int
	Prefix   string // key prefix, default "quotafence:"
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(config RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	prefix := config.Prefix
	if prefix == "" {
		prefix = "quotafence:"
	}

	return &RedisStore{client: client, prefix: prefix}
}

// Get retrieves the serialized entry for a key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set stores the serialized entry for a key with a TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, value, ttl).Err()
}

// Increment atomically adds to a numeric key, setting the TTL when the key
// is created by this call. Returns the new value.
func (s *RedisStore) Increment(ctx context.Context, key string, by int64, ttl time.Duration) (int64, error) {
	rkey := s.prefix + key
	n, err := s.client.IncrBy(ctx, rkey, by).Result()
	if err != nil {
		return 0, err
	}
	if n == by && ttl > 0 {
		// First write for this key; bound its lifetime.
		if err := s.client.Expire(ctx, rkey, ttl).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Expire updates the TTL of a key.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, s.prefix+key, ttl).Err()
}

// Delete removes a key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
