package retrieval

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// CacheStats summarizes the retrieval cache for dashboards and tests.
type CacheStats struct {
	Size   int    `json:"size"`
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// cache wraps the process-wide TTL cache of ranked results. Expiry is
// checked lazily on read; entries without a TTL never expire. Evicting a
// cache entry never touches the underlying store.
type cache struct {
	entries *ttlcache.Cache[string, []Match]
}

func newCache() *cache {
	return &cache{
		entries: ttlcache.New[string, []Match](
			ttlcache.WithDisableTouchOnHit[string, []Match](),
		),
	}
}

func (c *cache) get(key string) ([]Match, bool) {
	item := c.entries.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (c *cache) set(key string, matches []Match, ttl time.Duration) {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	c.entries.Set(key, matches, ttl)
}

func (c *cache) clear() {
	c.entries.DeleteAll()
}

func (c *cache) stats() CacheStats {
	metrics := c.entries.Metrics()
	return CacheStats{
		Size:   c.entries.Len(),
		Hits:   metrics.Hits,
		Misses: metrics.Misses,
	}
}
