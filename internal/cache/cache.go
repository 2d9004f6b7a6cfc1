// Package cache provides a small in-memory TTL cache used to avoid
// redundant calls to upstream medical APIs.
package cache

import (
	"fmt"
	"sync"
	"time"
)

type entry struct {
	value     any
	createdAt time.Time
	ttl       time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) >= e.ttl
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Sets      int64  `json:"sets"`
	Evictions int64  `json:"evictions"`
	Size      int    `json:"total_entries"`
	HitRate   string `json:"hit_rate"`
}

// Cache is a thread-safe key→value store with per-entry expiry.
// Expiry is checked lazily on Get or via an explicit Sweep; there is no
// background eviction goroutine.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	defaultTTL time.Duration

	hits      int64
	misses    int64
	sets      int64
	evictions int64

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Cache with the given default TTL for Set calls that do
// not specify one.
func New(defaultTTL time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get returns the value stored under key. An expired entry is removed,
// counted as both an eviction and a miss, and reported as absent; a
// stale value is never returned.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		c.evictions++
		c.misses++
		return nil, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key with the given TTL. A non-positive ttl
// uses the cache default. Set always overwrites and stamps a fresh
// creation time, regardless of any prior entry's TTL.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, createdAt: c.now(), ttl: ttl}
	c.sets++
}

// SetDefault stores value under key with the cache's default TTL.
func (c *Cache) SetDefault(key string, value any) {
	c.Set(key, value, 0)
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Sweep removes every currently-expired entry and returns the number
// removed. Correctness does not depend on calling it, since Get
// self-heals; it exists for periodic maintenance.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			c.evictions++
			removed++
		}
	}
	return removed
}

// Clear removes all entries without touching the counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetStats returns a snapshot of the cache counters.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total) * 100
	}

	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Sets:      c.sets,
		Evictions: c.evictions,
		Size:      len(c.entries),
		HitRate:   fmt.Sprintf("%.2f%%", rate),
	}
}
