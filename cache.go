package blogdesk

import (
	"context"
	"sync"
	"time"
)

// ListCache is an in-memory cache of the anonymous published listing with a
// TTL. View counts in cached records may lag by up to the TTL.
type ListCache struct {
	mu      sync.RWMutex
	records []BlogRecord
	fetched time.Time
	ttl     time.Duration
}

// NewListCache creates a ListCache. A non-positive ttl disables caching.
func NewListCache(ttl time.Duration) *ListCache {
	return &ListCache{ttl: ttl}
}

func (c *ListCache) valid() bool {
	return c.records != nil && time.Since(c.fetched) < c.ttl
}

// Invalidate clears the cache so the next read triggers a fresh load.
func (c *ListCache) Invalidate() {
	c.mu.Lock()
	c.records = nil
	c.mu.Unlock()
}

// Get returns the cached listing, calling load when it is stale. It tries a
// read lock first and only takes the write lock if a reload is needed.
func (c *ListCache) Get(ctx context.Context, load func(context.Context) ([]BlogRecord, error)) ([]BlogRecord, error) {
	if c.ttl <= 0 {
		return load(ctx)
	}

	c.mu.RLock()
	if c.valid() {
		records := c.records
		c.mu.RUnlock()
		return cloneRecords(records), nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid() {
		records, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if records == nil {
			records = []BlogRecord{}
		}
		c.records = records
		c.fetched = time.Now()
	}
	return cloneRecords(c.records), nil
}

func cloneRecords(in []BlogRecord) []BlogRecord {
	out := make([]BlogRecord, len(in))
	copy(out, in)
	return out
}
