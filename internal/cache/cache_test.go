package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "key2", []byte("value2"), time.Minute)

		err := cache.Delete(ctx, tenantID, "key2")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, tenantID, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		clocked := NewLRUCache(10)
		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		clocked.now = func() time.Time { return now }

		_ = clocked.Set(ctx, tenantID, "expiring", []byte("temp"), time.Minute)

		val, _ := clocked.Get(ctx, tenantID, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		now = now.Add(2 * time.Minute)

		val, _ = clocked.Get(ctx, tenantID, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("ZeroTTLNeverExpires", func(t *testing.T) {
		clocked := NewLRUCache(10)
		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		clocked.now = func() time.Time { return now }

		_ = clocked.Set(ctx, tenantID, "pinned", []byte("v"), 0)
		now = now.AddDate(1, 0, 0)

		if val, _ := clocked.Get(ctx, tenantID, "pinned"); val == nil {
			t.Error("expected entry without ttl to survive")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, tenantID, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, tenantID, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, tenantID, "d", []byte("4"), time.Minute)

		// 'b' should be evicted
		val, _ := smallCache.Get(ctx, tenantID, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		// 'a' should still be there
		val, _ = smallCache.Get(ctx, tenantID, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		tenant1 := "tenant-001"
		tenant2 := "tenant-002"

		_ = cache.Set(ctx, tenant1, "shared-key", []byte("tenant1-value"), time.Minute)
		_ = cache.Set(ctx, tenant2, "shared-key", []byte("tenant2-value"), time.Minute)

		val1, _ := cache.Get(ctx, tenant1, "shared-key")
		val2, _ := cache.Get(ctx, tenant2, "shared-key")

		if string(val1) != "tenant1-value" {
			t.Errorf("expected 'tenant1-value', got '%s'", string(val1))
		}
		if string(val2) != "tenant2-value" {
			t.Errorf("expected 'tenant2-value', got '%s'", string(val2))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		err := cache.Set(ctx, "", "key", []byte("value"), time.Minute)
		if err == nil {
			t.Error("expected error for empty tenantID")
		}

		_, err = cache.Get(ctx, "", "key")
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("Incr", func(t *testing.T) {
		n1, err := cache.Incr(ctx, tenantID, "search:gen")
		if err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
		if n1 != 1 {
			t.Errorf("expected 1, got %d", n1)
		}

		n2, _ := cache.Incr(ctx, tenantID, "search:gen")
		if n2 != 2 {
			t.Errorf("expected 2, got %d", n2)
		}

		other, _ := cache.Incr(ctx, "tenant-002", "search:gen")
		if other != 1 {
			t.Errorf("counters must be tenant scoped, got %d", other)
		}
	})

	t.Run("IncrNonNumeric", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "text", []byte("abc"), time.Minute)
		if _, err := cache.Incr(ctx, tenantID, "text"); err == nil {
			t.Error("expected error incrementing non-numeric value")
		}
	})

	t.Run("Generation", func(t *testing.T) {
		gen, err := Generation(ctx, cache, tenantID, "pool:gen")
		if err != nil {
			t.Fatalf("Generation failed: %v", err)
		}
		if gen != 0 {
			t.Errorf("expected 0 for unset generation, got %d", gen)
		}

		_, _ = cache.Incr(ctx, tenantID, "pool:gen")
		_, _ = cache.Incr(ctx, tenantID, "pool:gen")

		gen, _ = Generation(ctx, cache, tenantID, "pool:gen")
		if gen != 2 {
			t.Errorf("expected 2, got %d", gen)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, tenantID, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, tenantID, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, tenantID, "k", []byte("v"), time.Minute)

		err := testCache.Close()
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}

		// Cache should be empty after close
		val, _ := testCache.Get(ctx, tenantID, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 100,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		_, ok := cache.(*LRUCache)
		if !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type: "memcached",
		}

		_, err := New(cfg)
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
