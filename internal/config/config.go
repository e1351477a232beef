// Package config loads the cloudblob binary configuration.
// Order: defaults -> YAML file -> CLOUDBLOB_* environment -> Validate.
package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/adrianmcphee/cloudblob"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Cache types
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config holds the application configuration
type Config struct {
	Bucket      string                     `yaml:"bucket"`
	Persist     bool                       `yaml:"persist"`
	Concurrency int                        `yaml:"concurrency"`
	Backend     cloudblob.BackendConfig    `yaml:"backend"`
	Cache       CacheConfig                `yaml:"cache"`
	Namespaces  map[string]NamespaceConfig `yaml:"namespaces"`
	Server      ServerConfig               `yaml:"server"`
	Logging     LoggingConfig              `yaml:"logging"`
}

// NamespaceConfig declares a namespace. Index lists the document fields fed
// to the namespace's full-text index; empty means no index.
type NamespaceConfig struct {
	Ref   string   `yaml:"ref"`
	Index []string `yaml:"index"`
}

// CacheConfig selects and tunes the entity cache
type CacheConfig struct {
	Type     string        `yaml:"type"` // "none", "memory" or "redis"
	Expiry   time.Duration `yaml:"expiry"`
	Policy   string        `yaml:"policy"` // "async" or "sync"
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	Breaker  BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of Redis
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ServerConfig holds listener addresses and query profiling settings
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	MetricsAddr     string        `yaml:"metrics_addr"`     // empty disables /metrics
	ProfileInterval time.Duration `yaml:"profile_interval"` // 0 disables query profiling
	SlowQuery       time.Duration `yaml:"slow_query"`
}

// LoggingConfig configures zap
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		Bucket:     "cloudblob",
		Backend:    cloudblob.BackendConfig{Type: cloudblob.BackendMemory},
		Namespaces: map[string]NamespaceConfig{},
		Cache: CacheConfig{
			Type:   CacheNone,
			Expiry: cloudblob.DefaultCacheExpiry,
			Policy: cloudblob.CacheWriteAsync.String(),
			Addr:   "localhost:6379",
			Breaker: BreakerConfig{
				MaxFailures:  cloudblob.DefaultBreakerMaxFailures,
				ResetTimeout: cloudblob.DefaultBreakerResetTimeout,
			},
		},
		Server: ServerConfig{
			Addr:            ":5433",
			MetricsAddr:     ":9090",
			ProfileInterval: 15 * time.Second,
			SlowQuery:       100 * time.Millisecond,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, cloudblob.WithContext(cloudblob.ErrInvalidConfig, map[string]interface{}{
				"file":   path,
				"reason": err.Error(),
			})
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies CLOUDBLOB_* environment variables
func (c *Config) ApplyEnvOverrides() error {
	strs := []struct {
		env string
		dst *string
	}{
		{"CLOUDBLOB_BUCKET", &c.Bucket},
		{"CLOUDBLOB_BACKEND", &c.Backend.Type},
		{"CLOUDBLOB_BASE_PATH", &c.Backend.BasePath},
		{"CLOUDBLOB_REGION", &c.Backend.Region},
		{"CLOUDBLOB_ENDPOINT", &c.Backend.Endpoint},
		{"CLOUDBLOB_ACCESS_KEY_ID", &c.Backend.AccessKeyID},
		{"CLOUDBLOB_SECRET_ACCESS_KEY", &c.Backend.SecretAccessKey},
		{"CLOUDBLOB_GCS_PROJECT", &c.Backend.ProjectID},
		{"CLOUDBLOB_ENCRYPTION_KEY", &c.Backend.EncryptionKey},
		{"CLOUDBLOB_CACHE", &c.Cache.Type},
		{"CLOUDBLOB_CACHE_POLICY", &c.Cache.Policy},
		{"CLOUDBLOB_REDIS_ADDR", &c.Cache.Addr},
		{"CLOUDBLOB_REDIS_PASSWORD", &c.Cache.Password},
		{"CLOUDBLOB_ADDR", &c.Server.Addr},
		{"CLOUDBLOB_METRICS_ADDR", &c.Server.MetricsAddr},
		{"CLOUDBLOB_LOG_LEVEL", &c.Logging.Level},
	}
	for _, s := range strs {
		if v, ok := os.LookupEnv(s.env); ok {
			*s.dst = v
		}
	}

	if v := os.Getenv("CLOUDBLOB_PERSIST"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("CLOUDBLOB_PERSIST", v, err)
		}
		c.Persist = b
	}
	if v := os.Getenv("CLOUDBLOB_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError("CLOUDBLOB_CONCURRENCY", v, err)
		}
		c.Concurrency = n
	}
	if v := os.Getenv("CLOUDBLOB_CACHE_EXPIRY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError("CLOUDBLOB_CACHE_EXPIRY", v, err)
		}
		c.Cache.Expiry = d
	}
	return nil
}

func envError(name, value string, err error) error {
	return cloudblob.WithContext(cloudblob.ErrInvalidConfig, map[string]interface{}{
		"env":    name,
		"value":  value,
		"reason": err.Error(),
	})
}

// Validate checks the configuration without touching the network
func (c *Config) Validate() error {
	if err := c.Backend.Validate(); err != nil {
		return err
	}

	switch c.Cache.Type {
	case "", CacheNone, CacheMemory, CacheRedis:
	default:
		return invalid("cache.type", c.Cache.Type, "expected none, memory or redis")
	}
	if _, err := cloudblob.ParseCacheWritePolicy(c.Cache.Policy); err != nil {
		return err
	}
	if c.Cache.Type == CacheRedis && c.Cache.Addr == "" {
		return invalid("cache.addr", "", "redis cache requires an address")
	}

	if c.Server.Addr == "" {
		return invalid("server.addr", "", "listen address is required")
	}
	if c.Server.ProfileInterval < 0 {
		return invalid("server.profile_interval", c.Server.ProfileInterval, "must not be negative")
	}

	if _, err := cloudblob.NewProductionZapLogger(c.Logging.Level); err != nil {
		return err
	}

	for _, name := range c.NamespaceNames() {
		ns := c.Namespaces[name]
		if len(ns.Index) > 0 && ns.Ref == "" {
			return invalid("namespaces."+name+".ref", "", "an indexed namespace needs a ref field")
		}
	}

	return c.datastoreConfig().Validate()
}

func invalid(field string, value interface{}, reason string) error {
	return cloudblob.WithContext(cloudblob.ErrInvalidConfig, map[string]interface{}{
		"field":  field,
		"value":  value,
		"reason": reason,
	})
}

// NamespaceNames returns the configured namespaces, sorted
func (c *Config) NamespaceNames() []string {
	names := make([]string, 0, len(c.Namespaces))
	for name := range c.Namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// datastoreConfig maps the file configuration onto a library Config without
// backend, cache or observability
func (c *Config) datastoreConfig() cloudblob.Config {
	namespaces := make(map[string]cloudblob.NamespaceConfig, len(c.Namespaces))
	for name, ns := range c.Namespaces {
		nc := cloudblob.NamespaceConfig{Ref: ns.Ref}
		if len(ns.Index) > 0 {
			nc.Indexer = cloudblob.NewFullTextIndex(ns.Index, ns.Ref)
		}
		namespaces[name] = nc
	}
	return cloudblob.Config{
		Bucket:      c.Bucket,
		Namespaces:  namespaces,
		Persist:     c.Persist,
		Concurrency: c.Concurrency,
	}
}

// NewLogger builds the zap logger described by the logging section
func (c *Config) NewLogger() (*cloudblob.ZapLogger, error) {
	if c.Logging.Development {
		return cloudblob.NewDevelopmentZapLogger()
	}
	return cloudblob.NewProductionZapLogger(c.Logging.Level)
}

// NewCache builds the configured cache client, or nil when caching is off.
// Redis breaker transitions are reported through the breaker state gauge.
func (c *Config) NewCache(logger cloudblob.Logger, metrics cloudblob.Metrics) (cloudblob.Cache, error) {
	switch c.Cache.Type {
	case "", CacheNone:
		return nil, nil
	case CacheMemory:
		return cloudblob.NewMemoryCache(), nil
	case CacheRedis:
		client := redis.NewClient(cloudblob.RedisOptionsWithOverrides(c.Cache.Addr, c.Cache.Password, c.Cache.DB))
		breaker := cloudblob.NewCircuitBreaker(c.Cache.Breaker.MaxFailures, c.Cache.Breaker.ResetTimeout).
			WithStateChangeCallback(func(from, to string) {
				logger.Warn("redis circuit breaker state changed", "from", from, "to", to)
				open := 0.0
				if to == cloudblob.BreakerOpen {
					open = 1
				}
				metrics.Gauge(cloudblob.MetricBreakerState, open)
			})
		return cloudblob.NewRedisCacheWithOwnedClient(client).
			WithPrefix(c.Cache.Prefix).
			WithCircuitBreaker(breaker), nil
	}
	return nil, invalid("cache.type", c.Cache.Type, "expected none, memory or redis")
}

// Build constructs the backend, cache and Datastore. The returned close
// function releases the datastore and any cache connection.
func (c *Config) Build(ctx context.Context, logger cloudblob.Logger, metrics cloudblob.Metrics) (*cloudblob.Datastore, func() error, error) {
	if logger == nil {
		logger = &cloudblob.NoOpLogger{}
	}
	if metrics == nil {
		metrics = &cloudblob.NoOpMetrics{}
	}

	backend, err := cloudblob.NewBackend(ctx, c.Backend)
	if err != nil {
		return nil, nil, fmt.Errorf("create backend: %w", err)
	}

	cache, err := c.NewCache(logger, metrics)
	if err != nil {
		return nil, nil, err
	}
	policy, err := cloudblob.ParseCacheWritePolicy(c.Cache.Policy)
	if err != nil {
		return nil, nil, err
	}

	dsCfg := c.datastoreConfig()
	dsCfg.Backend = backend
	dsCfg.Cache = cloudblob.CacheConfig{
		Client: cache,
		Expiry: c.Cache.Expiry,
		Policy: policy,
	}
	dsCfg.Logger = logger
	dsCfg.Metrics = metrics

	ds, err := cloudblob.NewWithContext(ctx, dsCfg)
	if err != nil {
		closeCache(cache)
		return nil, nil, err
	}

	closeFn := func() error {
		err := ds.Close()
		if cerr := closeCache(cache); err == nil {
			err = cerr
		}
		return err
	}
	return ds, closeFn, nil
}

func closeCache(cache cloudblob.Cache) error {
	if closer, ok := cache.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
