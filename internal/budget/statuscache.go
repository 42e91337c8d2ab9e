package budget

import (
	"sync"
	"time"
)

// StatusCache is a process-local, read-mostly cache of StatusInfo fronting
// getBudgetStatus with a fixed TTL, invalidated on RecordUsage for the
// affected budget.
type StatusCache struct {
	mu      sync.RWMutex
	entries map[string]cachedStatus
	ttl     time.Duration
}

type cachedStatus struct {
	info      *StatusInfo
	expiresAt time.Time
}

// NewStatusCache builds a StatusCache with the given TTL.
func NewStatusCache(ttl time.Duration) *StatusCache {
	return &StatusCache{entries: make(map[string]cachedStatus), ttl: ttl}
}

// Get returns the cached status for budgetID if present and not expired.
func (c *StatusCache) Get(budgetID string) (*StatusInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[budgetID]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.info, true
}

// Set stores a freshly computed status.
func (c *StatusCache) Set(budgetID string, info *StatusInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[budgetID] = cachedStatus{info: info, expiresAt: time.Now().Add(c.ttl)}
}

// Invalidate drops the cached entry for budgetID, forcing the next read to
// recompute from the store.
func (c *StatusCache) Invalidate(budgetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, budgetID)
}
