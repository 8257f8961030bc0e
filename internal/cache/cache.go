// Package cache provides a TTL and capacity bounded cache for expensive
// external search responses.
//
// The cache is process-local and best-effort: callers treat every failure or
// miss identically and fall through to the provider. Keys are derived from
// the query plus a stable serialization of the caller's settings, so
// logically identical settings hit the same entry regardless of map
// iteration order.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

// Defaults applied by New when the corresponding argument is non-positive.
const (
	DefaultMaxEntries = 100
	DefaultTTL        = time.Hour
)

// Stats describes the live (non-expired) cache contents.
type Stats struct {
	Size        int
	OldestEntry *time.Time
	NewestEntry *time.Time
}

type entry struct {
	response   string
	insertedAt time.Time
	expiresAt  time.Time
}

// Cache is a TTL plus capacity bounded response cache.
//
// Cache is safe for concurrent use by multiple goroutines.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the time source. Tests inject a fake clock to exercise
// TTL and eviction deterministically.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a Cache holding at most maxEntries live entries, each valid
// for ttl after insertion.
func New(maxEntries int, ttl time.Duration, opts ...Option) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c := &Cache{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set stores a response under the (query, settings) key, then removes
// expired entries and evicts the oldest entries beyond capacity.
func (c *Cache) Set(query, response string, settings map[string]string) {
	key := Key(query, settings)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{
		response:   response,
		insertedAt: now,
		expiresAt:  now.Add(c.ttl),
	}

	c.expireLocked(now)
	c.evictLocked()
}

// Get returns the stored response for the (query, settings) key, or ok=false
// if the entry is absent or expired. Expired entries are removed on the way.
func (c *Cache) Get(query string, settings map[string]string) (string, bool) {
	key := Key(query, settings)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked(now)

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	return e.response, true
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Stats reports size and insertion-time bounds over live entries only.
func (c *Cache) Stats() Stats {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked(now)

	stats := Stats{Size: len(c.entries)}
	for _, e := range c.entries {
		if stats.OldestEntry == nil || e.insertedAt.Before(*stats.OldestEntry) {
			t := e.insertedAt
			stats.OldestEntry = &t
		}
		if stats.NewestEntry == nil || e.insertedAt.After(*stats.NewestEntry) {
			t := e.insertedAt
			stats.NewestEntry = &t
		}
	}
	return stats
}

// expireLocked drops every entry past its deadline. Caller holds mu.
func (c *Cache) expireLocked(now time.Time) {
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// evictLocked removes oldest-by-insertion entries until the cache fits its
// capacity. Caller holds mu.
func (c *Cache) evictLocked() {
	excess := len(c.entries) - c.maxEntries
	if excess <= 0 {
		return
	}

	type aged struct {
		key        string
		insertedAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for key, e := range c.entries {
		all = append(all, aged{key: key, insertedAt: e.insertedAt})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].insertedAt.Before(all[j].insertedAt)
	})

	for i := 0; i < excess; i++ {
		delete(c.entries, all[i].key)
	}
}

// Key derives the cache key from the query and a sorted-key serialization of
// settings. Field order never changes the key.
func Key(query string, settings map[string]string) string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(query)
	for _, k := range keys {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte(0)
		b.WriteString(settings[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
