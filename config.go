package cloudblob

import "time"

// Configuration constants for Datastore operations
const (
	// DefaultCacheExpiry is the TTL applied to cached entities unless overridden
	DefaultCacheExpiry = time.Hour

	// File backend configuration
	DefaultFilePermissions = 0644
	DefaultDirPermissions  = 0755
	DefaultLockStripes     = 32

	// Circuit breaker defaults for remote caches
	DefaultBreakerMaxFailures  = 5
	DefaultBreakerResetTimeout = 30 * time.Second
)

// NamespaceConfig configures a single namespace
type NamespaceConfig struct {
	// Ref is the document field a generated identifier is written into.
	// Required when documents are stored without a caller-supplied key.
	Ref string

	// Indexer is the namespace's search index. Optional; fixed for the
	// lifetime of the Datastore.
	Indexer SearchIndex
}

// CacheConfig configures the optional entity cache
type CacheConfig struct {
	Client Cache
	Expiry time.Duration    // 0 means DefaultCacheExpiry
	Policy CacheWritePolicy // CacheWriteAsync unless set
}

// Config configures a Datastore
type Config struct {
	// Bucket is the backend container shared by every namespace. Required.
	Bucket string

	Namespaces map[string]NamespaceConfig
	Backend    Backend // defaults to a MemoryBackend
	Cache      CacheConfig

	// Persist enables writing index snapshots back to the backend
	Persist bool

	// Concurrency caps the parallel Gets issued by List and Filter.
	// 0 means one goroutine per key.
	Concurrency int

	Logger  Logger
	Metrics Metrics
}

// Validate checks if the Config is valid
func (c Config) Validate() error {
	if c.Bucket == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Bucket",
			"reason": "Expected 'db' name to be specified",
		})
	}
	for name := range c.Namespaces {
		if name == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Namespaces",
				"reason": "namespace name must not be empty",
			})
		}
	}
	if c.Concurrency < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Concurrency",
			"value":  c.Concurrency,
			"reason": "must be non-negative",
		})
	}
	if c.Cache.Expiry < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Cache.Expiry",
			"value":  c.Cache.Expiry,
			"reason": "must be non-negative",
		})
	}
	return nil
}
