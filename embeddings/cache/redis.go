package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps vectors in Redis as packed float32 strings.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOptions configuration for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "ragbridge:emb:"
	TTL      time.Duration // Expiration for vectors, default 0 (no expiration)
}

// NewRedisStore creates a new Redis embedding store
func NewRedisStore(opts RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "ragbridge:emb:"
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
	}
}

// MGet implements Store.
func (s *RedisStore) MGet(ctx context.Context, keys []string) ([][]float32, error) {
	if len(keys) == 0 {
		return [][]float32{}, nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.prefix + k
	}

	vals, err := s.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read vectors from redis: %w", err)
	}

	out := make([][]float32, len(keys))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		vec, err := decodeVector([]byte(str))
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", keys[i], err)
		}
		out[i] = vec
	}
	return out, nil
}

// MSet implements Store.
func (s *RedisStore) MSet(ctx context.Context, entries map[string][]float32) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for k, v := range entries {
		pipe.Set(ctx, s.prefix+k, encodeVector(v), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write vectors to redis: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
