package cloudblob

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Cache is the key/value capability the Datastore uses to accelerate reads.
// Get returns ErrCacheMiss when the key is absent or expired.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// CacheWritePolicy controls when CacheEntity's client call completes
type CacheWritePolicy int

const (
	// CacheWriteAsync issues the cache write in the background; the caller
	// does not wait for it. Use CacheGateway.Wait to drain pending writes.
	CacheWriteAsync CacheWritePolicy = iota

	// CacheWriteSync completes the cache write before CacheEntity returns
	CacheWriteSync
)

func (p CacheWritePolicy) String() string {
	switch p {
	case CacheWriteSync:
		return "sync"
	default:
		return "async"
	}
}

// ParseCacheWritePolicy maps "async" or "sync" to a policy. Empty means async.
func ParseCacheWritePolicy(s string) (CacheWritePolicy, error) {
	switch s {
	case "", "async":
		return CacheWriteAsync, nil
	case "sync":
		return CacheWriteSync, nil
	}
	return CacheWriteAsync, WithContext(ErrInvalidConfig, map[string]interface{}{
		"field":  "cache.policy",
		"value":  s,
		"reason": "expected 'async' or 'sync'",
	})
}

// CacheGateway wraps an optional Cache client. A gateway without a client
// reports every lookup as a miss and every write as skipped.
type CacheGateway struct {
	client  Cache
	expiry  time.Duration
	policy  CacheWritePolicy
	logger  Logger
	metrics Metrics
	pending sync.WaitGroup
}

// NewCacheGateway creates a gateway from cfg. A nil logger or metrics
// falls back to the no-op implementations.
func NewCacheGateway(cfg CacheConfig, logger Logger, metrics Metrics) *CacheGateway {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = DefaultCacheExpiry
	}
	return &CacheGateway{
		client:  cfg.Client,
		expiry:  expiry,
		policy:  cfg.Policy,
		logger:  logger,
		metrics: metrics,
	}
}

// Enabled reports whether a cache client is configured
func (g *CacheGateway) Enabled() bool {
	return g.client != nil
}

// Expiry returns the default TTL applied by CacheEntity
func (g *CacheGateway) Expiry() time.Duration {
	return g.expiry
}

// LoadFromCache returns the cached document for namespace/key.
// A missing client or a miss returns (nil, nil). A payload that is not a
// JSON document returns an error wrapping ErrInvalidData.
func (g *CacheGateway) LoadFromCache(ctx context.Context, namespace, key string) (Document, error) {
	if g.client == nil {
		return nil, nil
	}

	cacheKey := CacheKey(namespace, key)
	raw, err := g.client.Get(ctx, cacheKey)
	if errors.Is(err, ErrCacheMiss) {
		g.metrics.Increment(MetricCacheMisses, "namespace", namespace)
		return nil, nil
	}
	if err != nil {
		g.metrics.Increment(MetricCacheErrors, "namespace", namespace)
		return nil, WithContext(err, map[string]interface{}{
			"operation": "cache_get",
			"key":       cacheKey,
		})
	}

	doc, err := decodeDocument([]byte(raw))
	if err != nil {
		g.metrics.Increment(MetricCacheErrors, "namespace", namespace)
		g.logger.Warn("malformed cache entry",
			"key", cacheKey,
			"error", err,
		)
		return nil, WithContext(err, map[string]interface{}{
			"key": cacheKey,
		})
	}

	g.metrics.Increment(MetricCacheHits, "namespace", namespace)
	return doc, nil
}

// CacheEntity stores doc under namespace/key with expiry (the gateway default
// when omitted). It returns false when no client is configured or the
// document cannot be encoded. Client failures are logged, never returned.
func (g *CacheGateway) CacheEntity(ctx context.Context, namespace, key string, doc Document, expiry ...time.Duration) bool {
	if g.client == nil {
		return false
	}

	ttl := g.expiry
	if len(expiry) > 0 && expiry[0] > 0 {
		ttl = expiry[0]
	}

	data, err := encodeDocument(doc)
	if err != nil {
		g.logger.Warn("failed to encode document for cache",
			"namespace", namespace,
			"key", key,
			"error", err,
		)
		return false
	}

	cacheKey := CacheKey(namespace, key)
	if g.policy == CacheWriteSync {
		g.set(ctx, namespace, cacheKey, string(data), ttl)
		return true
	}

	g.pending.Add(1)
	go func(ctx context.Context) {
		defer g.pending.Done()
		g.set(ctx, namespace, cacheKey, string(data), ttl)
	}(context.WithoutCancel(ctx))
	return true
}

func (g *CacheGateway) set(ctx context.Context, namespace, cacheKey, value string, ttl time.Duration) {
	if err := g.client.Set(ctx, cacheKey, value, ttl); err != nil {
		g.metrics.Increment(MetricCacheErrors, "namespace", namespace)
		g.logger.Warn("cache write failed",
			"key", cacheKey,
			"error", err,
		)
		return
	}
	g.metrics.Increment(MetricCacheWrites, "namespace", namespace)
}

// Wait blocks until every background cache write has finished
func (g *CacheGateway) Wait() {
	g.pending.Wait()
}
