package domain

import (
	"context"
	"time"
)

// Cache is a byte cache with expiration.
// Memory (LRU), Redis, or both as L1/L2.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `yaml:"type" json:"type"`

	// Local LRU cache settings
	LocalMaxSize int           `yaml:"localMaxSize" json:"localMaxSize"`
	LocalTTL     time.Duration `yaml:"localTtl" json:"localTtl"`

	// Redis settings
	RedisAddr     string `yaml:"redisAddr" json:"redisAddr"`
	RedisPassword string `yaml:"redisPassword" json:"-"`
	RedisDB       int    `yaml:"redisDb" json:"redisDb"`

	// Prepended to every key; separates deployments sharing one Redis.
	RedisKeyPrefix string `yaml:"redisKeyPrefix" json:"redisKeyPrefix"`

	// If true, check local first, then Redis
	EnableTwoPhase bool `yaml:"enableTwoPhase" json:"enableTwoPhase"`
}

// Cache keys of batch summaries.
const (
	CacheKeySummary       = "summary:"
	CacheKeyLatestSummary = "summary:latest"
)
