package proxy

import (
	"sync"
	"time"

	"adtrim/fetch"
)

type cacheEntry struct {
	page    fetch.Page
	created time.Time
}

// pageCache keeps raw upstream markup so that repeated views of one page
// (expanding, paging through the gallery) do not refetch it.
type pageCache struct {
	mu   sync.RWMutex
	now  func() time.Time
	ttl  time.Duration
	data map[string]cacheEntry
}

func newPageCache(now func() time.Time, ttl time.Duration) *pageCache {
	if now == nil {
		now = time.Now
	}
	return &pageCache{
		now:  now,
		ttl:  ttl,
		data: make(map[string]cacheEntry),
	}
}

func (c *pageCache) Store(target string, page *fetch.Page) {
	if c.ttl < 0 || page == nil || page.Body == "" {
		return
	}
	entry := cacheEntry{page: *page, created: c.now()}
	entry.page.Header = page.Header.Clone()
	c.mu.Lock()
	c.data[target] = entry
	c.mu.Unlock()
}

func (c *pageCache) Get(target string) (*fetch.Page, bool) {
	c.mu.RLock()
	entry, ok := c.data[target]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.created) > c.ttl {
		c.mu.Lock()
		// re-check: a concurrent Store may have refreshed it
		if cur, ok := c.data[target]; ok && cur.created.Equal(entry.created) {
			delete(c.data, target)
		}
		c.mu.Unlock()
		return nil, false
	}
	page := entry.page
	return &page, true
}

// Purge drops expired entries and returns how many were removed.
func (c *pageCache) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.data {
		if now.Sub(e.created) > c.ttl {
			delete(c.data, k)
			n++
		}
	}
	return n
}
