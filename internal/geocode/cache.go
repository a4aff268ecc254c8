// Package geocode resolves addresses to coordinates and back, caching results in memory
// with a fixed freshness window and optionally in a durable store.
package geocode

import (
	"strings"
	"sync"
	"time"

	"github.com/fleetdispatch/fleetdispatch/pkg/geo"
)

// DefaultTTL is how long a cached lookup stays fresh.
const DefaultTTL = 30 * time.Minute

// Result is a resolved location.
type Result struct {
	Coordinate geo.Coordinate `json:"coordinate"`
	Address    string         `json:"address"`
}

type entry struct {
	value      Result
	insertedAt time.Time
}

// Stats summarizes cache contents.
type Stats struct {
	Entries int `json:"entries"`
	Fresh   int `json:"fresh"`
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// Cache is an in-memory lookup cache with lazy expiry. Stale entries are reported as
// absent but stay in memory until Clear. It is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates an empty cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached value for key if it was stored no more than TTL ago.
func (c *Cache) Get(key string) (Result, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.insertedAt) > c.ttl {
		return Result{}, false
	}
	return e.value, true
}

// Put stores value under key, replacing any previous entry.
func (c *Cache) Put(key string, value Result) {
	c.PutAt(key, value, c.now())
}

// PutAt stores value as if it had been inserted at insertedAt, so an entry loaded from a
// durable store keeps its original age and expires on the original schedule.
func (c *Cache) PutAt(key string, value Result, insertedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, insertedAt: insertedAt}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Stats counts stored and still-fresh entries.
func (c *Cache) Stats() Stats {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{Entries: len(c.entries)}
	for _, e := range c.entries {
		if now.Sub(e.insertedAt) <= c.ttl {
			stats.Fresh++
		}
	}
	return stats
}

// AddressKey is the cache key for a forward lookup.
func AddressKey(address string) string {
	return strings.ToLower(address)
}

// ReverseKey is the cache key for a reverse lookup.
func ReverseKey(c geo.Coordinate) string {
	return c.Key()
}
