package schema

import (
	"container/list"
	"sync"
)

// LRUCache keeps recently used conformed schemas in memory so the hot
// ingest path does not hit the repository for every record. Entries are
// keyed by (name, version); compiled schemas are immutable once loaded,
// so the cache hands out copies and never revalidates.
type LRUCache struct {
	mu       sync.RWMutex
	capacity int
	entries  map[Key]*list.Element
	lru      *list.List // front = most recently used
}

type cacheEntry struct {
	key    Key
	schema *Schema
}

// NewLRUCache creates a cache holding at most capacity schemas.
func NewLRUCache(capacity int) *LRUCache {
	return &LRUCache{
		capacity: capacity,
		entries:  make(map[Key]*list.Element),
		lru:      list.New(),
	}
}

// Get returns a copy of the cached schema, or nil on a miss.
func (c *LRUCache) Get(key Key) *Schema {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil
	}
	c.lru.MoveToFront(elem)

	cp := *elem.Value.(*cacheEntry).schema
	return &cp
}

// Put caches a schema, evicting the least recently used entry when the
// cache is full. An existing entry for the same key is replaced.
func (c *LRUCache) Put(schema *Schema) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := schema.Key()
	cp := *schema

	if elem, ok := c.entries[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).schema = &cp
		return
	}

	if c.lru.Len() >= c.capacity {
		c.evictOldest()
	}
	c.entries[key] = c.lru.PushFront(&cacheEntry{key: key, schema: &cp})
}

func (c *LRUCache) evictOldest() {
	oldest := c.lru.Back()
	if oldest == nil {
		return
	}
	delete(c.entries, oldest.Value.(*cacheEntry).key)
	c.lru.Remove(oldest)
}

// Invalidate drops one schema, used when a version is deprecated so the
// state change is visible without waiting for eviction.
func (c *LRUCache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	c.lru.Remove(elem)
}

// Clear empties the cache.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[Key]*list.Element)
	c.lru = list.New()
}
