// Package cache provides caching implementations for Kestrel.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// LRUCache is a thread-safe LRU cache with TTL support.
// Used as the Community tier cache and as L1 in two-phase caching.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	now     func() time.Time
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e *cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get retrieves a value from cache. Returns nil, nil on miss or expiry.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[makeKey(tenantID, key)]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*cacheEntry)
	if entry.expired(c.now()) {
		c.removeElement(elem)
		return nil, nil
	}

	c.order.MoveToFront(elem)
	return entry.value, nil
}

// Set stores a value. A ttl of zero or less keeps the entry until evicted.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.put(makeKey(tenantID, key), value, ttl)
	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[makeKey(tenantID, key)]; ok {
		c.removeElement(elem)
	}
	return nil
}

// Incr atomically increments a decimal counter stored under key.
// Counters never expire and read back through Get.
func (c *LRUCache) Incr(ctx context.Context, tenantID string, key string) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	fullKey := makeKey(tenantID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	if elem, ok := c.items[fullKey]; ok {
		entry := elem.Value.(*cacheEntry)
		if !entry.expired(c.now()) {
			v, err := strconv.ParseInt(string(entry.value), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("value at %s is not a counter: %w", key, err)
			}
			n = v
		}
	}
	n++
	c.put(fullKey, []byte(strconv.FormatInt(n, 10)), 0)
	return n, nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

// put inserts or refreshes an entry. Caller holds the lock.
func (c *LRUCache) put(fullKey string, value []byte, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	if elem, ok := c.items[fullKey]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		return
	}

	elem := c.order.PushFront(&cacheEntry{key: fullKey, value: value, expiresAt: expiresAt})
	c.items[fullKey] = elem

	for c.order.Len() > c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}

func makeKey(tenantID, key string) string {
	return tenantID + ":" + key
}
