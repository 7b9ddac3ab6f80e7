package embedding

import (
	"container/list"
	"crypto/sha256"
	"sync"
)

// EmbeddingCache is an LRU of embeddings keyed by a digest of the exact input text,
// so long chunk texts are not retained as map keys. Vectors are copied on the way in
// and out.
type EmbeddingCache struct {
	capacity int
	mu       sync.Mutex
	items    map[[sha256.Size]byte]*list.Element
	order    *list.List
	hits     uint64
	misses   uint64
}

type cacheEntry struct {
	key    [sha256.Size]byte
	vector []float32
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// NewEmbeddingCache creates a cache holding at most capacity vectors.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	if capacity < 1 {
		capacity = 1
	}
	return &EmbeddingCache{
		capacity: capacity,
		items:    make(map[[sha256.Size]byte]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns a copy of the cached vector for text and marks it most recently used.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	key := sha256.Sum256([]byte(text))
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(elem)
	return cloneVector(elem.Value.(*cacheEntry).vector), true
}

// Set stores a copy of vec for text, evicting the least recently used entry when full.
func (c *EmbeddingCache) Set(text string, vec []float32) {
	key := sha256.Sum256([]byte(text))
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		elem.Value.(*cacheEntry).vector = cloneVector(vec)
		c.order.MoveToFront(elem)
		return
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, vector: cloneVector(vec)})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

// Len returns the number of cached vectors.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns entry count and hit/miss totals.
func (c *EmbeddingCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Entries: c.order.Len(), Hits: c.hits, Misses: c.misses}
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
