package services

import (
	"github.com/patrickmn/go-cache"
)

// runCache memoizes lookups for one import run.
//
// Entries added while a row is being imported stay pending until the row
// commits. When the row's savepoint rolls back, the rows those entries point
// at are gone too, so discardRow evicts them.
type runCache struct {
	items   *cache.Cache
	pending []string
}

func newRunCache() *runCache {
	// No expiration and no janitor goroutine: the cache lives as long as the run.
	return &runCache{items: cache.New(cache.NoExpiration, 0)}
}

func (c *runCache) get(key string) (any, bool) {
	return c.items.Get(key)
}

func (c *runCache) add(key string, value any) {
	c.items.Set(key, value, cache.NoExpiration)
	c.pending = append(c.pending, key)
}

func (c *runCache) commitRow() {
	c.pending = c.pending[:0]
}

func (c *runCache) discardRow() {
	for _, key := range c.pending {
		c.items.Delete(key)
	}
	c.pending = c.pending[:0]
}

func (c *runCache) len() int {
	return c.items.ItemCount()
}
