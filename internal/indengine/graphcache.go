package indengine

import (
	"container/list"
	"sync"
)

// DefaultGraphCacheSize bounds the built graphs kept per Service. Plans come
// from clients, so the key space is unbounded.
const DefaultGraphCacheSize = 256

// graphCache is a mutex-guarded LRU of built graphs.
type graphCache struct {
	mu    sync.Mutex
	limit int
	order *list.List // front = most recently used
	items map[graphKey]*list.Element
}

type cacheEntry struct {
	key graphKey
	pg  *plannedGraph
}

func newGraphCache(limit int) *graphCache {
	if limit <= 0 {
		limit = DefaultGraphCacheSize
	}
	return &graphCache{limit: limit, order: list.New(), items: make(map[graphKey]*list.Element)}
}

func (c *graphCache) get(k graphKey) (*plannedGraph, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[k]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).pg, true
}

// add stores pg unless another caller stored k first, and returns the cached
// graph.
func (c *graphCache) add(k graphKey, pg *plannedGraph) *plannedGraph {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[k]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*cacheEntry).pg
	}
	c.items[k] = c.order.PushFront(&cacheEntry{key: k, pg: pg})
	for c.order.Len() > c.limit {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
	return pg
}

func (c *graphCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
