package permission

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goGuard/identity"
)

// CacheConfig bounds the cache.
type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// CacheStats are counters for diagnostics.
type CacheStats struct {
	Hits          int64         `json:"hits"`
	Misses        int64         `json:"misses"`
	Sets          int64         `json:"sets"`
	Invalidations int64         `json:"invalidations"`
	Evictions     int64         `json:"evictions"`
	Size          int           `json:"size"`
	TTL           time.Duration `json:"ttl"`
}

type cacheEntry struct {
	perms     []identity.Permission
	expiresAt time.Time
}

// Cache maps user ids to granted permissions. Entries expire a fixed TTL
// after they are written; expired entries read as absent.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]cacheEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	hits          atomic.Int64
	misses        atomic.Int64
	sets          atomic.Int64
	invalidations atomic.Int64
	evictions     atomic.Int64
}

// NewCache defaults to a five minute TTL and 10000 entries.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	return &Cache{
		entries:    make(map[string]cacheEntry),
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		now:        time.Now,
	}
}

// SetClock replaces time.Now. Call before the cache is shared.
func (c *Cache) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Get returns a copy of the user's permissions.
func (c *Cache) Get(userID string) ([]identity.Permission, bool) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.misses.Add(1)
		c.mu.Lock()
		if cur, still := c.entries[userID]; still && !c.now().Before(cur.expiresAt) {
			delete(c.entries, userID)
		}
		c.mu.Unlock()
		return nil, false
	}

	c.hits.Add(1)
	return slices.Clone(e.perms), true
}

// Has reports whether a live entry for userID contains p.
func (c *Cache) Has(userID string, p identity.Permission) bool {
	perms, ok := c.Get(userID)
	return ok && slices.Contains(perms, p)
}

// Set replaces the user's permissions and restarts the TTL.
func (c *Cache) Set(userID string, perms []identity.Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[userID]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[userID] = cacheEntry{
		perms:     slices.Clone(perms),
		expiresAt: c.now().Add(c.ttl),
	}
	c.sets.Add(1)
}

// Add appends p to a live entry without extending its expiry, or starts a
// new entry holding only p.
func (c *Cache) Add(userID string, p identity.Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.entries[userID]
	if !ok || !now.Before(e.expiresAt) {
		if !ok && len(c.entries) >= c.maxEntries {
			c.evictLocked()
		}
		e = cacheEntry{expiresAt: now.Add(c.ttl)}
	}
	if !slices.Contains(e.perms, p) {
		e.perms = append(slices.Clone(e.perms), p)
	}
	c.entries[userID] = e
	c.sets.Add(1)
}

// evictLocked removes expired entries, or the entry closest to expiry when
// none have expired.
func (c *Cache) evictLocked() {
	now := c.now()
	var (
		victim   string
		earliest time.Time
		removed  bool
	)
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			c.evictions.Add(1)
			removed = true
			continue
		}
		if victim == "" || e.expiresAt.Before(earliest) {
			victim, earliest = k, e.expiresAt
		}
	}
	if !removed && victim != "" {
		delete(c.entries, victim)
		c.evictions.Add(1)
	}
}

// Invalidate drops the user's entry.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[userID]; ok {
		delete(c.entries, userID)
		c.invalidations.Add(1)
	}
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	c.evictions.Add(int64(n))
	return n
}

// StartSweeper runs Sweep every interval until ctx is done.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.Sweep()
			}
		}
	}()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Sets:          c.sets.Load(),
		Invalidations: c.invalidations.Load(),
		Evictions:     c.evictions.Load(),
		Size:          c.Len(),
		TTL:           c.ttl,
	}
}
