package store

import (
	"sync"
	"time"

	"github.com/graphsnap/graphsnap/internal/models"
)

// pageContextCache holds the most recently reported page context as an
// explicit time-boxed value. A stale context is equivalent to no relation
// page being open.
type pageContextCache struct {
	mu        sync.RWMutex
	value     models.PageContext
	expiresAt time.Time
	ttl       time.Duration
}

func newPageContextCache(ttl time.Duration) *pageContextCache {
	return &pageContextCache{ttl: ttl}
}

// Set records a freshly reported page context.
func (c *pageContextCache) Set(page models.PageContext, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = page
	c.expiresAt = now.Add(c.ttl)
}

// Get returns the current page context if it has not expired.
func (c *pageContextCache) Get(now time.Time) (models.PageContext, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.expiresAt.IsZero() || now.After(c.expiresAt) {
		return models.PageContext{}, false
	}
	return c.value, true
}

// Reset drops the cached context.
func (c *pageContextCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = models.PageContext{}
	c.expiresAt = time.Time{}
}
