package cache

import (
	"container/list"
	"sync"
	"time"

	"localrag/internal/domain"
)

// QueryCache is a small LRU of search results with a TTL. Every index
// mutation bumps the generation; entries from an older generation are never
// served, and results computed across a bump are never stored.
type QueryCache struct {
	mu         sync.Mutex
	entries    map[cacheKey]*list.Element
	order      *list.List // front = most recently used
	maxSize    int
	ttl        time.Duration
	generation uint64
	now        func() time.Time
}

type cacheKey struct {
	query string
	limit int
}

type cacheEntry struct {
	key        cacheKey
	results    []domain.SearchResult
	storedAt   time.Time
	generation uint64
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 128
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[cacheKey]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Generation returns the current index generation. Callers read it before
// computing results and hand it back to Put.
func (c *QueryCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *QueryCache) Get(query string, limit int) ([]domain.SearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{query: query, limit: limit}
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	entry := el.Value.(*cacheEntry)
	if entry.generation != c.generation || c.now().Sub(entry.storedAt) > c.ttl {
		c.remove(el)
		return nil, false
	}

	c.order.MoveToFront(el)
	return cloneResults(entry.results), true
}

// Put stores results computed at generation gen. It is a no-op when the
// index changed since gen was read.
func (c *QueryCache) Put(query string, limit int, gen uint64, results []domain.SearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return
	}

	key := cacheKey{query: query, limit: limit}
	entry := &cacheEntry{
		key:        key,
		results:    cloneResults(results),
		storedAt:   c.now(),
		generation: gen,
	}

	if el, ok := c.entries[key]; ok {
		el.Value = entry
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.maxSize {
		c.remove(c.order.Back())
	}
	c.entries[key] = c.order.PushFront(entry)
}

// Invalidate drops every entry and advances the generation.
func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[cacheKey]*list.Element)
	c.order.Init()
	c.generation++
}

func (c *QueryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *QueryCache) remove(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.order.Remove(el)
}

func cloneResults(results []domain.SearchResult) []domain.SearchResult {
	if results == nil {
		return nil
	}
	out := make([]domain.SearchResult, len(results))
	copy(out, results)
	return out
}
