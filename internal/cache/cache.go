package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/fincrime-signals/internal/domain"
)

// New creates a cache from configuration.
// "memory" returns an LRU cache; "redis" returns Redis, or LRU in front of
// Redis when two-phase caching is enabled.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "", "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// MultiSetter is implemented by caches that can store several keys as one
// write.
type MultiSetter interface {
	SetMulti(ctx context.Context, entries map[string][]byte, ttl time.Duration) error
}

// setMulti stores entries through c, in one write when c supports it.
func setMulti(ctx context.Context, c domain.Cache, entries map[string][]byte, ttl time.Duration) error {
	if m, ok := c.(MultiSetter); ok {
		return m.SetMulti(ctx, entries, ttl)
	}
	for k, v := range entries {
		if err := c.Set(ctx, k, v, ttl); err != nil {
			return err
		}
	}
	return nil
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis for distributed caching and persistence
type TwoPhaseCache struct {
	local  *LRUCache
	remote domain.Cache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote domain.Cache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{local: local, remote: remote, l1TTL: l1TTL}
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2. L1 keeps the shorter of the two TTLs.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l1TTL := min(c.l1TTL, ttl)
	if err := c.local.Set(ctx, key, value, l1TTL); err != nil {
		return err
	}
	return c.remote.Set(ctx, key, value, ttl)
}

// SetMulti writes entries to L1 under one lock, then to L2.
func (c *TwoPhaseCache) SetMulti(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	if err := c.local.SetMulti(ctx, entries, min(c.l1TTL, ttl)); err != nil {
		return err
	}
	return setMulti(ctx, c.remote, entries, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, key)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}

// GetSummary returns a cached batch record. An empty batchID reads the
// most recent one.
func GetSummary(ctx context.Context, c domain.Cache, batchID string) (*domain.BatchRecord, error) {
	key := domain.CacheKeyLatestSummary
	if batchID != "" {
		key = domain.CacheKeySummary + batchID
	}
	data, err := c.Get(ctx, key)
	if err != nil || data == nil {
		return nil, err
	}
	var rec domain.BatchRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetSummary caches a batch record under its id and as the latest, in one
// write where the cache allows it.
func SetSummary(ctx context.Context, c domain.Cache, rec *domain.BatchRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return setMulti(ctx, c, map[string][]byte{
		domain.CacheKeySummary + rec.ID: data,
		domain.CacheKeyLatestSummary:    data,
	}, ttl)
}
