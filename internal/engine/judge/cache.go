package judge

import (
	"container/list"
	"sync"
	"time"

	"unremark/internal/engine/parser"
)

// Entry is a cached judge answer. Entries are never mutated after insertion;
// they leave the cache by TTL expiry or LRU eviction.
type Entry struct {
	Label       parser.Label
	Confidence  float64
	Explanation string
	CreatedAt   time.Time
}

// Cache is a thread-safe, capacity-bounded LRU with per-entry TTL.
// A zero TTL disables expiry.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List // front = most-recently used
	now      func() time.Time
}

type cacheItem struct {
	key   string
	entry Entry
}

// NewCache creates a cache. Capacity values <= 0 are normalised to 1.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the entry for key if present and unexpired. A hit moves the
// entry to the front.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return Entry{}, false
	}
	item := el.Value.(*cacheItem)
	if c.expiredLocked(item.entry) {
		c.removeLocked(el)
		return Entry{}, false
	}
	c.order.MoveToFront(el)
	return item.entry, true
}

// Put inserts entry unless a live entry already exists for key.
func (c *Cache) Put(key string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now()
	}
	if el, ok := c.items[key]; ok {
		if !c.expiredLocked(el.Value.(*cacheItem).entry) {
			c.order.MoveToFront(el)
			return
		}
		c.removeLocked(el)
	}

	if c.order.Len() >= c.capacity {
		if back := c.order.Back(); back != nil {
			c.removeLocked(back)
		}
	}
	c.items[key] = c.order.PushFront(&cacheItem{key: key, entry: entry})
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge drops every expired entry and returns how many were removed.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.expiredLocked(el.Value.(*cacheItem).entry) {
			c.removeLocked(el)
			removed++
		}
		el = prev
	}
	return removed
}

func (c *Cache) expiredLocked(e Entry) bool {
	return c.ttl > 0 && c.now().Sub(e.CreatedAt) > c.ttl
}

// removeLocked unlinks el. Caller must hold c.mu.
func (c *Cache) removeLocked(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*cacheItem).key)
}
