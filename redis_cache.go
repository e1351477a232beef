package cloudblob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache on top of a go-redis client.
//
// Keys are stored verbatim ({namespace}/{key}) unless a prefix is set.
// When a CircuitBreaker is attached, connectivity failures open it and
// subsequent calls fail fast with ErrBackendUnavailable; misses never count
// as failures.
type RedisCache struct {
	client     *redis.Client
	prefix     string
	breaker    *CircuitBreaker
	ownsClient bool
}

// NewRedisCache creates a cache over an existing client. The caller keeps
// ownership of the client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// NewRedisCacheWithOwnedClient creates a cache that closes client on Close
func NewRedisCacheWithOwnedClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, ownsClient: true}
}

// WithPrefix namespaces every key, e.g. "cloudblob:" for a shared Redis
func (r *RedisCache) WithPrefix(prefix string) *RedisCache {
	r.prefix = prefix
	return r
}

// WithCircuitBreaker guards every command with cb
func (r *RedisCache) WithCircuitBreaker(cb *CircuitBreaker) *RedisCache {
	r.breaker = cb
	return r
}

// Breaker returns the attached circuit breaker, or nil
func (r *RedisCache) Breaker() *CircuitBreaker {
	return r.breaker
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.execute(ctx, func() error {
		v, err := r.client.Get(ctx, r.prefix+key).Result()
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		if err != nil {
			return unavailable("get", key, err)
		}
		value = v
		return nil
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.execute(ctx, func() error {
		if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
			return unavailable("set", key, err)
		}
		return nil
	})
}

// Ping checks connectivity to the Redis server
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.execute(ctx, func() error {
		return r.client.Ping(ctx).Err()
	})
}

// Close releases the client if the cache owns it
func (r *RedisCache) Close() error {
	if r.ownsClient && r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *RedisCache) execute(ctx context.Context, fn func() error) error {
	if r.breaker == nil {
		return fn()
	}
	return r.breaker.ExecuteIgnoring(ctx, isCacheMiss, fn)
}

// unavailable marks a client failure as ErrBackendUnavailable so readers
// fall back to the backend, keeping the cause in the chain
func unavailable(op, key string, err error) error {
	return fmt.Errorf("redis %s %s: %w: %w", op, key, ErrBackendUnavailable, err)
}

func isCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
