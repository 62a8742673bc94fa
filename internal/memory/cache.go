package memory

import (
	"container/list"
	"sync"
	"time"

	"github.com/lazypower/engram/internal/store"
)

// Cache defaults.
const (
	DefaultCacheSize = 200
	DefaultCacheTTL  = 60 * time.Second
)

type cacheEntry struct {
	id       string
	record   store.Record
	entities []store.Entity
	added    time.Time
}

// Cache is a bounded LRU with a short absolute TTL, sitting in front of
// store reads. It is purely an optimization: a nil *Cache is fully
// functional (every lookup misses), and correctness never depends on it.
// Strictly process-local.
type Cache struct {
	mu    sync.Mutex
	size  int
	ttl   time.Duration
	ll    *list.List // front = most recently used
	items map[string]*list.Element
}

// NewCache creates a cache with the given capacity and entry TTL.
// Non-positive arguments fall back to the defaults.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		size:  size,
		ttl:   ttl,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

// Get returns the cached record and its resolved entities. A stale entry
// counts as a miss and is purged; a hit moves the entry to the front.
func (c *Cache) Get(id string) (*store.Record, []store.Entity, bool) {
	if c == nil {
		return nil, nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[id]
	if !ok {
		return nil, nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if time.Since(entry.added) > c.ttl {
		c.ll.Remove(elem)
		delete(c.items, id)
		return nil, nil, false
	}

	c.ll.MoveToFront(elem)
	rec := entry.record
	return &rec, entry.entities, true
}

// Put stores a record with its resolved entities, evicting the least
// recently used entry when full.
func (c *Cache) Put(rec store.Record, entities []store.Entity) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[rec.ID]; ok {
		elem.Value = &cacheEntry{id: rec.ID, record: rec, entities: entities, added: time.Now()}
		c.ll.MoveToFront(elem)
		return
	}

	elem := c.ll.PushFront(&cacheEntry{id: rec.ID, record: rec, entities: entities, added: time.Now()})
	c.items[rec.ID] = elem

	if c.ll.Len() > c.size {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).id)
		}
	}
}

// Invalidate drops an entry. Called before the corresponding store mutation
// commits, so concurrent readers in this process can't be served stale data.
func (c *Cache) Invalidate(id string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[id]; ok {
		c.ll.Remove(elem)
		delete(c.items, id)
	}
}

// Clear drops everything. Used after bulk mutations like prune sweeps.
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
