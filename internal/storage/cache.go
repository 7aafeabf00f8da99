package storage

import (
	"container/list"
	"sync"
)

// DefaultCacheSize is the default number of pages kept by a PageCache.
const DefaultCacheSize = 256

// PageCache is a write-through LRU cache of decoded pages in front of the
// data file. It only ever holds clean pages: the PageManager updates it
// after every successful write, so a hit is always identical to the page on
// disk. A nil *PageCache is valid and caches nothing.
type PageCache struct {
	capacity int
	entries  map[PageID]*list.Element
	lru      *list.List // front is most recently used
	mu       sync.Mutex

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewPageCache creates a cache holding up to capacity pages. A capacity of
// zero or less disables caching and returns nil.
func NewPageCache(capacity int) *PageCache {
	if capacity <= 0 {
		return nil
	}
	return &PageCache{
		capacity: capacity,
		entries:  make(map[PageID]*list.Element),
		lru:      list.New(),
	}
}

// Get returns a copy of the cached page and marks it as recently used.
func (c *PageCache) Get(id PageID) (*Page, bool) {
	if c == nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[id]
	if !ok {
		c.misses++
		return nil, false
	}

	c.hits++
	c.lru.MoveToFront(elem)
	return elem.Value.(*Page).Clone(), true
}

// Put stores a copy of page, evicting the least recently used page when the
// cache is full.
func (c *PageCache) Put(page *Page) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := page.Header.PageID
	if elem, ok := c.entries[id]; ok {
		elem.Value = page.Clone()
		c.lru.MoveToFront(elem)
		return
	}

	for c.lru.Len() >= c.capacity {
		c.evictLocked()
	}

	c.entries[id] = c.lru.PushFront(page.Clone())
}

func (c *PageCache) evictLocked() {
	back := c.lru.Back()
	if back == nil {
		return
	}
	c.lru.Remove(back)
	delete(c.entries, back.Value.(*Page).Header.PageID)
	c.evictions++
}

// Remove drops a page from the cache.
func (c *PageCache) Remove(id PageID) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[id]; ok {
		c.lru.Remove(elem)
		delete(c.entries, id)
	}
}

// Clear empties the cache. Counters are kept.
func (c *PageCache) Clear() {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Init()
	c.entries = make(map[PageID]*list.Element)
}

// Contains reports whether the page is cached without touching its recency.
func (c *PageCache) Contains(id PageID) bool {
	if c == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[id]
	return ok
}

// PageCacheStats holds cache counters.
type PageCacheStats struct {
	Capacity  int
	Size      int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// HitRate returns the fraction of lookups served from the cache.
func (s PageCacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns the current cache counters.
func (c *PageCache) Stats() PageCacheStats {
	if c == nil {
		return PageCacheStats{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return PageCacheStats{
		Capacity:  c.capacity,
		Size:      c.lru.Len(),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
