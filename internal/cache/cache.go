package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a cache based on configuration.
// "memory" returns an LRU cache; "redis" returns Redis, wrapped in a
// TwoPhaseCache when EnableTwoPhase is set.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory", "":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: local LRU for fast reads of search results
// L2: Redis shared by every node
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL <= 0 {
		l1TTL = time.Minute
	}

	return &TwoPhaseCache{
		local:  NewLRUCache(cfg.LocalMaxSize),
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes to both L1 and L2. L1 keeps the shorter of the two TTLs.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	l1TTL := c.l1TTL
	if ttl > 0 && ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, tenantID, key, value, l1TTL); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// Incr counts in Redis only and drops the L1 copy so this node reads
// the new value immediately.
func (c *TwoPhaseCache) Incr(ctx context.Context, tenantID string, key string) (int64, error) {
	n, err := c.remote.Incr(ctx, tenantID, key)
	if err != nil {
		return 0, err
	}
	_ = c.local.Delete(ctx, tenantID, key)
	return n, nil
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

// Generation reads the counter stored under key, 0 when unset.
// Bumping a generation with Incr retires every key derived from it.
func Generation(ctx context.Context, c domain.Cache, tenantID, key string) (int64, error) {
	raw, err := c.Get(ctx, tenantID, key)
	if err != nil || raw == nil {
		return 0, err
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("generation %s is not numeric: %w", key, err)
	}
	return n, nil
}
