package cloudblob

import (
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisOptions returns redis.Options populated from standard environment variables.
//
// Environment variables read (with defaults):
//   - REDIS_ADDR (default: "localhost:6379")
//   - REDIS_PASSWORD (default: "")
//   - REDIS_DB (default: 0)
//
// Example:
//
//	cache := cloudblob.NewRedisCacheWithOwnedClient(redis.NewClient(cloudblob.RedisOptions()))
//	ds, err := cloudblob.New(cloudblob.Config{
//	    Bucket: "app",
//	    Cache:  cloudblob.CacheConfig{Client: cache},
//	})
func RedisOptions() *redis.Options {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	return &redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       getEnvAsInt("REDIS_DB", 0),
	}
}

// RedisOptionsWithOverrides returns RedisOptions with explicit values taking
// precedence. Empty strings and a negative db fall back to the environment.
func RedisOptionsWithOverrides(addr, password string, db int) *redis.Options {
	opts := RedisOptions()

	if addr != "" {
		opts.Addr = addr
	}
	if password != "" {
		opts.Password = password
	}
	if db >= 0 {
		opts.DB = db
	}

	return opts
}

// getEnvAsInt reads an integer environment variable with a default fallback.
func getEnvAsInt(key string, defaultVal int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultVal
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultVal
	}

	return value
}
