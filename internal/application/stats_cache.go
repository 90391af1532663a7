package application

import (
	"strings"
	"sync"
	"time"
)

// statsCache stores recently computed aggregates so repeated dashboard reads do
// not rescan the timetable while a server's data remains unchanged.
type statsCache struct {
	mu         sync.RWMutex
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	entries    map[string]statsCacheEntry
}

type statsCacheEntry struct {
	value     any
	expiresAt time.Time
}

func newStatsCache(ttl time.Duration, maxEntries int, now func() time.Time) *statsCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 256
	}
	if now == nil {
		now = time.Now
	}
	return &statsCache{
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]statsCacheEntry),
	}
}

func (c *statsCache) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

// Store keeps value until the TTL elapses. Values must not be mutated after storing.
func (c *statsCache) Store(key string, value any) {
	if c == nil {
		return
	}
	expiry := c.now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	if len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[key] = statsCacheEntry{value: value, expiresAt: expiry}
}

// Invalidate drops every cached aggregate of serverID.
func (c *statsCache) Invalidate(serverID string) {
	if c == nil {
		return
	}
	prefix := serverID + "|"
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// InvalidateAll empties the cache.
func (c *statsCache) InvalidateAll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]statsCacheEntry)
	c.mu.Unlock()
}

func (c *statsCache) cleanupLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *statsCache) evictOneLocked() {
	for key := range c.entries {
		delete(c.entries, key)
		return
	}
}

func statsCacheKey(serverID, kind string, cycleStart time.Time) string {
	return serverID + "|" + kind + "|" + cycleStart.UTC().Format(time.RFC3339)
}
