// Package cloudblob is a document datastore layered over object storage.
// Documents live as JSON blobs in a bucket (S3, MinIO, GCS, the local
// filesystem or memory), reads go through an optional entity cache such as
// Redis, and each namespace can carry a full-text search index that is
// loaded from and persisted back to the same bucket.
//
// # Overview
//
// A Datastore is configured once with a bucket, a backend, and a set of
// namespaces. Each namespace may declare a ref field, which receives a
// generated identifier when a document is stored without a key, and a
// SearchIndex, which is bootstrapped lazily on first use.
//
//   - Put, Get, Exists and List address documents by namespace and key
//   - Index and Filter maintain and query a namespace's search index
//   - DumpIndex and FlushIndex persist or discard index state
//   - Cache-first reads with asynchronous or synchronous cache population
//   - Structured logging (zap) and Prometheus metrics
//
// # Quick Start
//
//	ds, err := cloudblob.New(cloudblob.Config{
//		Bucket: "app",
//		Namespaces: map[string]cloudblob.NamespaceConfig{
//			"member": {
//				Ref:     "id",
//				Indexer: cloudblob.NewFullTextIndex([]string{"name", "bio"}, "id"),
//			},
//		},
//	})
//
//	doc, _ := ds.Put(ctx, "member", cloudblob.Document{"name": "john"}, "")
//	_ = ds.Index(ctx, "member", doc)
//	res, _ := ds.Filter(ctx, "member", "john", false)
//
// Production setup with S3 and a Redis cache guarded by a circuit breaker:
//
//	backend, _ := cloudblob.NewS3BackendFromConfig(ctx, "eu-west-1", "")
//	cache := cloudblob.NewRedisCache(redis.NewClient(cloudblob.RedisOptions())).
//		WithCircuitBreaker(cloudblob.NewCircuitBreaker(5, 30*time.Second))
//	logger, _ := cloudblob.NewProductionZapLogger("info")
//
//	ds, err := cloudblob.New(cloudblob.Config{
//		Bucket:  "app",
//		Backend: backend,
//		Cache:   cloudblob.CacheConfig{Client: cache},
//		Persist: true,
//		Logger:  logger,
//		Metrics: cloudblob.NewPrometheusMetrics(nil),
//	})
//
// # Storage Layout
//
// Entities are stored under "{namespace}/{key}/entity.json", or
// "{namespace}/{parent}/{key}/entity.json" for child entities. Index
// snapshots live beside them at "{namespace}/{index file name}". Listing a
// namespace returns only its direct entity keys.
//
// # Index Lifecycle
//
// A namespace index is unloaded until the first Index, Filter or LoadIndex
// call, which restores it from the persisted snapshot or starts fresh when
// none exists. Index marks it dirty; a successful DumpIndex marks it clean.
// All index operations on a namespace are serialized.
//
// # Errors
//
// Sentinel errors (ErrNotFound, ErrInvalidData, ErrInvalidConfig, ...) are
// wrapped with context and can be tested with errors.Is or the IsNotFound,
// IsConfigError and IsRetryable helpers.
//
// # Batches
//
// BatchPut, BatchGet and BatchExists fan out over the backend with the
// configured concurrency. A BatchWriter buffers documents and writes and
// indexes them in fixed-size batches.
//
// # Encryption
//
// NewEncryptionBackend wraps any backend so documents and index snapshots
// are stored as AES-256-GCM envelopes. Setting BackendConfig.EncryptionKey
// does the same through NewBackend.
//
// # Profiling
//
// A QueryProfiler attached to a context with WithProfiler records the cost
// of each query. MetricsExporter periodically moves those profiles into a
// Metrics implementation.
//
// # SQL Gateway
//
// The cmd/cloudblob binary serves a Datastore over the PostgreSQL wire
// protocol, mapping SELECT and INSERT statements onto namespace operations.
package cloudblob
