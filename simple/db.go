package simple

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/adrianmcphee/cloudblob"
	"github.com/redis/go-redis/v9"
)

// DB is the simple API entry point.
// It wraps a cloudblob.Datastore configured from registered models.
//
// Example:
//
//	db, err := simple.Connect(simple.Model[User]())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
type DB struct {
	ds          *cloudblob.Datastore
	backend     cloudblob.Backend
	bucket      string
	persist     bool
	redisClient *redis.Client
	ownsRedis   bool
	logger      cloudblob.Logger
	models      map[string]*ModelInfo
}

// Option is a functional option for configuring DB.
type Option func(*DB) error

// Connect creates a new DB with auto-detected configuration.
//
// Environment variables:
//   - DATA_PATH: Filesystem backend path (default: "./data")
//   - DATA_BUCKET: Bucket name (default: "simple")
//   - REDIS_ADDR: Redis address; when set, reads are cached in Redis
//
// Models must be registered with Model before collections are created.
func Connect(opts ...Option) (*DB, error) {
	db := &DB{
		bucket:  envOr("DATA_BUCKET", "simple"),
		persist: true,
		logger:  &cloudblob.NoOpLogger{},
		models:  make(map[string]*ModelInfo),
	}

	for _, opt := range opts {
		if err := opt(db); err != nil {
			db.closeRedis()
			return nil, err
		}
	}

	if db.backend == nil {
		db.backend = detectBackend()
	}

	// Redis is optional; continue without a cache when it is unreachable
	if db.redisClient == nil {
		if err := db.setupRedis(); err != nil {
			db.logger.Warn("redis cache disabled", "error", err)
		}
	}

	cfg := cloudblob.Config{
		Bucket:     db.bucket,
		Backend:    db.backend,
		Persist:    db.persist,
		Namespaces: make(map[string]cloudblob.NamespaceConfig, len(db.models)),
		Logger:     db.logger,
	}
	for name, info := range db.models {
		ns := cloudblob.NamespaceConfig{Ref: info.IDJSON}
		if len(info.SearchFields) > 0 {
			ns.Indexer = cloudblob.NewFullTextIndex(info.SearchFields, info.IDJSON)
		}
		cfg.Namespaces[name] = ns
	}
	if db.redisClient != nil {
		cfg.Cache = cloudblob.CacheConfig{Client: cloudblob.NewRedisCache(db.redisClient)}
	}

	ds, err := cloudblob.New(cfg)
	if err != nil {
		db.closeRedis()
		return nil, err
	}
	db.ds = ds
	return db, nil
}

// MustConnect is like Connect but panics on error.
// Use this for demos, prototypes, and when failure should crash the app.
func MustConnect(opts ...Option) *DB {
	db, err := Connect(opts...)
	if err != nil {
		panic(fmt.Sprintf("simple.MustConnect failed: %v", err))
	}
	return db
}

// Close saves dirty search indexes and releases the datastore and any
// Redis client the DB created.
func (db *DB) Close() error {
	var errs []error

	if _, err := db.ds.DumpIndexes(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("dump indexes: %w", err))
	}
	if err := db.ds.Close(); err != nil {
		errs = append(errs, fmt.Errorf("datastore close: %w", err))
	}
	if err := db.closeRedis(); err != nil {
		errs = append(errs, fmt.Errorf("redis close: %w", err))
	}

	return errors.Join(errs...)
}

// Datastore returns the underlying datastore.
// Use this to drop down to the core API when needed.
func (db *DB) Datastore() *cloudblob.Datastore {
	return db.ds
}

// Models returns the registered collection names, sorted
func (db *DB) Models() []string {
	names := make([]string, 0, len(db.models))
	for name := range db.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (db *DB) setupRedis() error {
	if os.Getenv("REDIS_ADDR") == "" {
		return nil
	}

	client := redis.NewClient(cloudblob.RedisOptions())
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return fmt.Errorf("redis not available: %w", err)
	}

	db.redisClient = client
	db.ownsRedis = true
	return nil
}

func (db *DB) closeRedis() error {
	if db.redisClient == nil || !db.ownsRedis {
		return nil
	}
	err := db.redisClient.Close()
	db.redisClient = nil
	return err
}

// detectBackend auto-detects the appropriate backend from environment.
func detectBackend() cloudblob.Backend {
	return cloudblob.NewFilesystemBackend(envOr("DATA_PATH", "./data"))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Functional options

// Model registers T as a collection, named after the type unless name is
// given. The id field becomes the namespace ref and fields tagged
// sb:"index" feed its full-text index.
func Model[T any](name ...string) Option {
	return func(db *DB) error {
		info, err := parseModelInfo[T]()
		if err != nil {
			return err
		}
		collection := pluralize(info.Name)
		if len(name) > 0 && name[0] != "" {
			collection = name[0]
		}
		if _, exists := db.models[collection]; exists {
			return fmt.Errorf("collection %q registered twice", collection)
		}
		db.models[collection] = info
		return nil
	}
}

// WithBackend sets a custom backend.
func WithBackend(backend cloudblob.Backend) Option {
	return func(db *DB) error {
		db.backend = backend
		return nil
	}
}

// WithBucket overrides the bucket name.
func WithBucket(bucket string) Option {
	return func(db *DB) error {
		db.bucket = bucket
		return nil
	}
}

// WithRedis caches reads in the given Redis client. The caller keeps
// ownership of the client.
func WithRedis(client *redis.Client) Option {
	return func(db *DB) error {
		db.redisClient = client
		db.ownsRedis = false
		return nil
	}
}

// WithoutPersistence keeps search indexes in memory only.
func WithoutPersistence() Option {
	return func(db *DB) error {
		db.persist = false
		return nil
	}
}

// WithLogger sets the datastore logger.
func WithLogger(logger cloudblob.Logger) Option {
	return func(db *DB) error {
		db.logger = logger
		return nil
	}
}
