// Package cache provides the byte caches used to memoize device pools and
// batch summaries.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const defaultLRUSize = 10000

// LRUCache is an in-process cache bounded by entry count. Entries also
// expire on their own TTL. It is the memory cache and the L1 of a
// two-phase cache.
type LRUCache struct {
	mu    sync.Mutex
	limit int
	index map[string]*list.Element
	// front is most recently used
	recency *list.List
	now     func() time.Time
}

type lruEntry struct {
	key     string
	value   []byte
	expires time.Time
}

// NewLRUCache returns a cache holding at most limit entries. A
// non-positive limit selects the default.
func NewLRUCache(limit int) *LRUCache {
	if limit <= 0 {
		limit = defaultLRUSize
	}
	return &LRUCache{
		limit:   limit,
		index:   make(map[string]*list.Element),
		recency: list.New(),
		now:     time.Now,
	}
}

// Get returns the value under key, or nil, nil when it is absent or expired.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return nil, nil
	}
	e := el.Value.(*lruEntry)
	if !c.now().Before(e.expires) {
		c.drop(el)
		return nil, nil
	}
	c.recency.MoveToFront(el)
	return e.value, nil
}

// Set stores value under key for ttl.
func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(key, value, c.now().Add(ttl))
	return nil
}

// SetMulti stores every entry under one lock, so readers never observe
// half of the set.
func (c *LRUCache) SetMulti(_ context.Context, entries map[string][]byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	expires := c.now().Add(ttl)
	for k, v := range entries {
		c.put(k, v, expires)
	}
	return nil
}

// Delete removes key.
func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.drop(el)
	}
	return nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.index)
	c.recency.Init()
	return nil
}

// Stats returns the number of entries held and the entry limit.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len(), c.limit
}

// put must be called with mu held.
func (c *LRUCache) put(key string, value []byte, expires time.Time) {
	if el, ok := c.index[key]; ok {
		e := el.Value.(*lruEntry)
		e.value, e.expires = value, expires
		c.recency.MoveToFront(el)
		return
	}
	c.index[key] = c.recency.PushFront(&lruEntry{key: key, value: value, expires: expires})
	for c.recency.Len() > c.limit {
		c.drop(c.recency.Back())
	}
}

func (c *LRUCache) drop(el *list.Element) {
	c.recency.Remove(el)
	delete(c.index, el.Value.(*lruEntry).key)
}
