// Package cache provides the in-process caches of the retrieval engine:
// a generic LRU for query results and a resource cache for heavyweight
// handles that need cleanup on eviction.
package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/kailas-cloud/recall/internal/domain"
)

type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

// LRU is a bounded key/value cache with least-recently-used eviction.
// All operations are safe for concurrent use; the internal lock is held
// only for map and list mutation, never across caller code.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	items    map[K]*list.Element
}

// NewLRU creates an LRU cache. Capacity must be positive.
func NewLRU[K comparable, V any](capacity int) (*LRU[K, V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: cache capacity must be positive, got %d", domain.ErrInvalidArgument, capacity)
	}
	return &LRU[K, V]{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[K]*list.Element, capacity),
	}, nil
}

// Get returns the value for key and marks it most recently used.
// A miss has no side effects.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry[K, V]).value, true
}

// Put inserts or overwrites key, marking it most recently used. If the
// cache exceeds capacity, the least-recently-used entry is evicted.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry[K, V]).value = value
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&lruEntry[K, V]{key: key, value: value})
	c.items[key] = el

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry[K, V]).key)
	}
}

// Contains reports whether key is cached without touching recency.
func (c *LRU[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear removes all entries.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	clear(c.items)
}

// Stats describes cache occupancy.
type Stats struct {
	Size        int
	Capacity    int
	Utilization float64
}

// Stats returns current occupancy.
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:        c.order.Len(),
		Capacity:    c.capacity,
		Utilization: float64(c.order.Len()) / float64(c.capacity),
	}
}
