package routing

import (
	"context"
	"sync"
	"time"
)

// CachedClient memoizes successful lookups for a short TTL. Fare quotes and
// the follow-up claim usually ask for the same pair within seconds, so this
// keeps provider traffic (and latency) down without going stale.
type CachedClient struct {
	inner Client
	ttl   time.Duration

	mu    sync.RWMutex
	store map[string]cacheEntry
}

type cacheEntry struct {
	r  Route
	ts time.Time
}

func NewCachedClient(inner Client, ttl time.Duration) *CachedClient {
	return &CachedClient{inner: inner, ttl: ttl, store: make(map[string]cacheEntry)}
}

func (c *CachedClient) DistanceTime(ctx context.Context, origin, destination string) (Route, error) {
	k := origin + "->" + destination

	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if ok && time.Since(e.ts) <= c.ttl {
		return e.r, nil
	}

	r, err := c.inner.DistanceTime(ctx, origin, destination)
	if err != nil {
		return Route{}, err
	}
	c.mu.Lock()
	c.store[k] = cacheEntry{r: r, ts: time.Now()}
	c.mu.Unlock()
	return r, nil
}
