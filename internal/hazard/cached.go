package hazard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/user/wosafety/internal/types"
)

// Cached wraps a Feed, collapsing concurrent identical queries and caching
// results for a fixed TTL.
type Cached struct {
	feed  Feed
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	features []types.HazardFeature
	expires  time.Time
}

func NewCached(feed Feed, ttl time.Duration) *Cached {
	return &Cached{
		feed:    feed,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cached) Nearby(ctx context.Context, lat, lng, radiusKm float64) ([]types.HazardFeature, error) {
	key := fmt.Sprintf("%.4f,%.4f,%.1f", lat, lng, radiusKm)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expires) {
		c.mu.Unlock()
		return e.features, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		features, err := c.feed.Nearby(ctx, lat, lng, radiusKm)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry{features: features, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return features, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]types.HazardFeature), nil
}
