package cache

import (
	"container/list"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
	"github.com/kailas-cloud/recall/internal/metrics"
)

// CleanupFunc releases a resource leaving the cache. Failures are logged
// and never block the eviction.
type CleanupFunc[K comparable, R any] func(key K, resource R) error

type resourceEntry[K comparable, R any] struct {
	key      K
	resource R
}

// ResourceCache is an LRU cache for heavyweight resources (loaded models,
// open handles). The cache owns a resource from the moment it is stored
// until it is evicted or removed; callers receive borrowed references.
// Loaders run outside the cache lock so a slow load never blocks access
// to other keys.
type ResourceCache[K comparable, R any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[K]*list.Element

	cleanup CleanupFunc[K, R]
	logger  *zap.Logger

	hits       uint64
	misses     uint64
	loads      uint64
	loadCounts map[K]uint64
}

// NewResourceCache creates a resource cache. Capacity must be positive.
// cleanup may be nil when resources need no teardown.
func NewResourceCache[K comparable, R any](
	capacity int, cleanup CleanupFunc[K, R], logger *zap.Logger,
) (*ResourceCache[K, R], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: resource cache capacity must be positive, got %d", domain.ErrInvalidArgument, capacity)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResourceCache[K, R]{
		capacity:   capacity,
		order:      list.New(),
		items:      make(map[K]*list.Element, capacity),
		cleanup:    cleanup,
		logger:     logger,
		loadCounts: make(map[K]uint64),
	}, nil
}

// GetOrLoad returns the cached resource for key, loading it via loader on
// a miss. The loader runs without the cache lock held, so two concurrent
// calls for the same missing key may both load; the second store replaces
// the first and the replaced handle is cleaned up. Loads are expected to
// be idempotent, so the duplicate work is accepted.
func (c *ResourceCache[K, R]) GetOrLoad(key K, loader func() (R, error)) (R, error) {
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		c.hits++
		res := el.Value.(*resourceEntry[K, R]).resource
		c.mu.Unlock()
		metrics.ResourceCacheTotal.WithLabelValues("hit").Inc()
		return res, nil
	}
	c.misses++
	c.mu.Unlock()
	metrics.ResourceCacheTotal.WithLabelValues("miss").Inc()

	resource, err := loader()
	if err != nil {
		var zero R
		return zero, fmt.Errorf("load resource: %w", err)
	}

	metrics.ResourceCacheTotal.WithLabelValues("load").Inc()

	c.mu.Lock()
	c.loads++
	c.loadCounts[key]++

	var displaced []resourceEntry[K, R]
	if el, ok := c.items[key]; ok {
		// Lost a load race: keep the fresh resource, release the old one.
		entry := el.Value.(*resourceEntry[K, R])
		displaced = append(displaced, *entry)
		entry.resource = resource
		c.order.MoveToFront(el)
	} else {
		el := c.order.PushFront(&resourceEntry[K, R]{key: key, resource: resource})
		c.items[key] = el
		if c.order.Len() > c.capacity {
			oldest := c.order.Back()
			c.order.Remove(oldest)
			entry := oldest.Value.(*resourceEntry[K, R])
			delete(c.items, entry.key)
			displaced = append(displaced, *entry)
		}
	}
	c.mu.Unlock()

	for _, e := range displaced {
		c.release(e.key, e.resource)
	}
	return resource, nil
}

// Get returns the cached resource without loading.
func (c *ResourceCache[K, R]) Get(key K) (R, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		var zero R
		return zero, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return el.Value.(*resourceEntry[K, R]).resource, true
}

// Remove evicts key, running the cleanup hook on its resource.
// Reports whether the key was present.
func (c *ResourceCache[K, R]) Remove(key K) bool {
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	entry := el.Value.(*resourceEntry[K, R])
	c.order.Remove(el)
	delete(c.items, key)
	c.mu.Unlock()

	c.release(entry.key, entry.resource)
	return true
}

// Clear evicts every entry, running the cleanup hook on each resource.
func (c *ResourceCache[K, R]) Clear() {
	c.mu.Lock()
	entries := make([]resourceEntry[K, R], 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		entries = append(entries, *el.Value.(*resourceEntry[K, R]))
	}
	c.order.Init()
	clear(c.items)
	c.mu.Unlock()

	for _, e := range entries {
		c.release(e.key, e.resource)
	}
}

// Len returns the number of live resources.
func (c *ResourceCache[K, R]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// release runs the cleanup hook best-effort.
func (c *ResourceCache[K, R]) release(key K, resource R) {
	metrics.ResourceCacheTotal.WithLabelValues("evict").Inc()
	if c.cleanup == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("resource cleanup panicked", zap.Any("key", key), zap.Any("panic", r))
		}
	}()
	if err := c.cleanup(key, resource); err != nil {
		c.logger.Warn("resource cleanup failed", zap.Any("key", key), zap.Error(err))
	}
}

// ResourceStats describes resource cache activity.
type ResourceStats struct {
	Size       int
	Capacity   int
	Hits       uint64
	Misses     uint64
	Loads      uint64
	HitRate    float64
	LoadCounts map[string]uint64
}

// Stats returns a snapshot of cache activity. Load counts cover every key
// loaded during the process lifetime, including since-evicted ones.
func (c *ResourceCache[K, R]) Stats() ResourceStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := make(map[string]uint64, len(c.loadCounts))
	for k, v := range c.loadCounts {
		counts[fmt.Sprint(k)] = v
	}

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return ResourceStats{
		Size:       c.order.Len(),
		Capacity:   c.capacity,
		Hits:       c.hits,
		Misses:     c.misses,
		Loads:      c.loads,
		HitRate:    rate,
		LoadCounts: counts,
	}
}
