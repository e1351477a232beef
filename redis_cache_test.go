package cloudblob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	redisClient := redis.NewClient(&redis.Options{
		Addr:       mr.Addr(),
		MaxRetries: -1,
	})
	t.Cleanup(func() { redisClient.Close() })

	return NewRedisCache(redisClient), mr
}

func TestRedisCache_SetGet(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "user/abc", `{"name":"john"}`, time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := cache.Get(ctx, "user/abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != `{"name":"john"}` {
		t.Errorf("Get = %q", got)
	}

	if ttl := mr.TTL("user/abc"); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}
}

func TestRedisCache_Miss(t *testing.T) {
	cache, _ := newTestRedisCache(t)

	_, err := cache.Get(context.Background(), "user/missing")
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}
}

func TestRedisCache_Expiry(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "user/abc", "{}", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := cache.Get(ctx, "user/abc"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss after expiry, got %v", err)
	}
}

func TestRedisCache_Prefix(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	cache.WithPrefix("cloudblob:")
	ctx := context.Background()

	if err := cache.Set(ctx, "user/abc", "{}", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if !mr.Exists("cloudblob:user/abc") {
		t.Error("expected prefixed key in redis")
	}
	if mr.Exists("user/abc") {
		t.Error("unprefixed key should not exist")
	}
}

func TestRedisCache_CircuitBreakerOpensOnOutage(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	cb := NewCircuitBreaker(2, time.Minute)
	cache.WithCircuitBreaker(cb)
	ctx := context.Background()

	// Misses do not count against the breaker
	for i := 0; i < 5; i++ {
		cache.Get(ctx, "user/missing")
	}
	if cb.State() != BreakerClosed {
		t.Fatalf("misses opened the breaker: %s", cb.State())
	}

	mr.Close()

	for i := 0; i < 2; i++ {
		if _, err := cache.Get(ctx, "user/abc"); err == nil {
			t.Fatal("expected error with redis down")
		}
	}

	if cb.State() != BreakerOpen {
		t.Fatalf("expected breaker open, got %s", cb.State())
	}

	_, err := cache.Get(ctx, "user/abc")
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable while open, got %v", err)
	}
}

// TestRedisCache_OutageFallsBackToBackend verifies reads keep working
// through the backend while redis is down
func TestRedisCache_OutageFallsBackToBackend(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	ctx := context.Background()

	ds, err := New(Config{
		Bucket:     "test",
		Namespaces: map[string]NamespaceConfig{"user": {Ref: "id"}},
		Cache:      CacheConfig{Client: cache, Policy: CacheWriteSync},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer ds.Close()

	if _, err := ds.Put(ctx, "user", Document{"id": "k", "name": "john"}, "k"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := ds.Get(ctx, "user", "k"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	mr.Close()

	if _, err := cache.Get(ctx, "user/k"); !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable from a closed server, got %v", err)
	}

	doc, err := ds.Get(ctx, "user", "k")
	if err != nil {
		t.Fatalf("Get with redis down failed: %v", err)
	}
	if doc["name"] != "john" {
		t.Errorf("doc = %v", doc)
	}
}

func TestRedisCache_WithGateway(t *testing.T) {
	cache, _ := newTestRedisCache(t)
	gw := NewCacheGateway(CacheConfig{Client: cache, Policy: CacheWriteSync}, nil, nil)
	ctx := context.Background()

	if !gw.CacheEntity(ctx, "user", "abc", Document{"name": "john"}) {
		t.Fatal("CacheEntity returned false")
	}

	doc, err := gw.LoadFromCache(ctx, "user", "abc")
	if err != nil {
		t.Fatalf("LoadFromCache failed: %v", err)
	}
	if doc["name"] != "john" {
		t.Errorf("doc = %v", doc)
	}
}

func TestRedisCache_Ping(t *testing.T) {
	cache, _ := newTestRedisCache(t)
	if err := cache.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestRedisCache_CloseOwnership(t *testing.T) {
	mr := miniredis.RunT(t)

	shared := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer shared.Close()
	if err := NewRedisCache(shared).Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := shared.Ping(context.Background()).Err(); err != nil {
		t.Errorf("shared client closed by non-owning cache: %v", err)
	}

	owned := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := NewRedisCacheWithOwnedClient(owned).Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := owned.Ping(context.Background()).Err(); err == nil {
		t.Error("expected owned client to be closed")
	}
}
