// Package cache provides caching implementations for Kestrel.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// counterSweepThreshold bounds how many stale counter windows may pile up
// before IncrementCounter sweeps them out.
const counterSweepThreshold = 4096

// LRUCache is an in-process cache with per-entry TTLs and least-recently-used
// eviction. It serves as the Community tier cache and as the local layer of
// the two-phase cache.
type LRUCache struct {
	mu  sync.Mutex
	cap int

	// index maps tenant-qualified keys to their position in recency order,
	// front = most recently touched.
	index   map[string]*list.Element
	recency *list.List

	windows map[string]*window
}

type entry struct {
	key      string
	data     []byte
	deadline time.Time
}

// window is a fixed-window counter, reset when the deadline passes.
type window struct {
	n        int64
	deadline time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		cap:     maxSize,
		index:   make(map[string]*list.Element),
		recency: list.New(),
		windows: make(map[string]*window),
	}
}

// Get returns the cached value, or nil on a miss. Expired entries are
// dropped on access.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	k, err := qualify(tenantID, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[k]
	if !ok {
		return nil, nil
	}

	ent := elem.Value.(*entry)
	if !ent.deadline.After(time.Now()) {
		c.drop(elem)
		return nil, nil
	}

	c.recency.MoveToFront(elem)
	return ent.data, nil
}

// Set stores a value under the tenant's key, evicting the least recently
// used entries when the cache is full.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	k, err := qualify(tenantID, key)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[k]; ok {
		ent := elem.Value.(*entry)
		ent.data = value
		ent.deadline = deadline
		c.recency.MoveToFront(elem)
		return nil
	}

	c.index[k] = c.recency.PushFront(&entry{key: k, data: value, deadline: deadline})
	for len(c.index) > c.cap {
		if oldest := c.recency.Back(); oldest != nil {
			c.drop(oldest)
		}
	}
	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	k, err := qualify(tenantID, key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[k]; ok {
		c.drop(elem)
	}
	return nil
}

// IncrementCounter bumps a fixed-window counter and returns the new count.
// A counter whose window has elapsed restarts at 1.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, windowSize time.Duration) (int64, error) {
	k, err := qualify(tenantID, "counter:"+key)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	w, ok := c.windows[k]
	if !ok || !w.deadline.After(now) {
		if len(c.windows) > counterSweepThreshold {
			c.sweepWindows(now)
		}
		c.windows[k] = &window{n: 1, deadline: now.Add(windowSize)}
		return 1, nil
	}

	w.n++
	return w.n, nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close discards all cached entries and counters.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[string]*list.Element)
	c.recency = list.New()
	c.windows = make(map[string]*window)
	return nil
}

// Stats returns the current entry count and configured capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index), c.cap
}

func (c *LRUCache) drop(elem *list.Element) {
	c.recency.Remove(elem)
	delete(c.index, elem.Value.(*entry).key)
}

// sweepWindows removes elapsed counter windows. Caller holds the lock.
func (c *LRUCache) sweepWindows(now time.Time) {
	for k, w := range c.windows {
		if !w.deadline.After(now) {
			delete(c.windows, k)
		}
	}
}

func qualify(tenantID, key string) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("tenantID is required")
	}
	return tenantID + ":" + key, nil
}
