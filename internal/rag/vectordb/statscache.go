package vectordb

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	statsCacheSize = 128
	statsCacheTTL  = 30 * time.Second
)

// StatsCache memoizes per-collection statistics so repeated stats calls
// don't rescan the store. Entries expire after a short TTL and are
// invalidated eagerly whenever an upsert touches the collection.
type StatsCache struct {
	cache *expirable.LRU[string, CollectionStats]
}

// NewStatsCache creates a cache with the default size and TTL.
func NewStatsCache() *StatsCache {
	return &StatsCache{
		cache: expirable.NewLRU[string, CollectionStats](statsCacheSize, nil, statsCacheTTL),
	}
}

// Get returns the cached stats for a collection, if fresh.
func (c *StatsCache) Get(collection string) (CollectionStats, bool) {
	return c.cache.Get(collection)
}

// Put stores freshly computed stats.
func (c *StatsCache) Put(collection string, stats CollectionStats) {
	c.cache.Add(collection, stats)
}

// Invalidate drops the cached entry for a collection after its contents
// change.
func (c *StatsCache) Invalidate(collection string) {
	c.cache.Remove(collection)
}
