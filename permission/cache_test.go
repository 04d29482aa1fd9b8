package permission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/identity"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(cfg CacheConfig) (*Cache, *manualClock) {
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewCache(cfg)
	c.SetClock(clock.Now)
	return c, clock
}

var readReviews = identity.Permission{Resource: ResourceReviews, Action: "read"}

func TestCacheExpiresAfterTTL(t *testing.T) {
	c, clock := newTestCache(CacheConfig{})

	c.Set("u1", []identity.Permission{readReviews})
	clock.Advance(4*time.Minute + 59*time.Second)
	if perms, ok := c.Get("u1"); !ok || len(perms) != 1 {
		t.Fatalf("expected live entry before five minutes, got %v %v", perms, ok)
	}

	clock.Advance(time.Second)
	if _, ok := c.Get("u1"); ok {
		t.Fatal("expected entry to read as absent at expiry")
	}
	if c.Len() != 0 {
		t.Fatal("expired entry should be removed lazily on Get")
	}

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Sets != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestCacheGetReturnsCopy(t *testing.T) {
	c, _ := newTestCache(CacheConfig{})
	c.Set("u1", []identity.Permission{readReviews})
	perms, _ := c.Get("u1")
	perms[0].Resource = "mutated"
	if again, _ := c.Get("u1"); again[0].Resource != ResourceReviews {
		t.Fatal("callers must not be able to mutate cached permissions")
	}
}

func TestCacheAddKeepsExpiry(t *testing.T) {
	c, clock := newTestCache(CacheConfig{TTL: time.Minute})
	c.Add("u1", readReviews)
	clock.Advance(50 * time.Second)
	c.Add("u1", identity.Permission{Resource: ResourceOutlets, Action: "write"})
	if !c.Has("u1", readReviews) || !c.Has("u1", identity.Permission{Resource: ResourceOutlets, Action: "write"}) {
		t.Fatal("expected both permissions")
	}
	clock.Advance(10 * time.Second)
	if _, ok := c.Get("u1"); ok {
		t.Fatal("Add must not extend the original expiry")
	}
}

func TestCacheInvalidateAndClear(t *testing.T) {
	c, _ := newTestCache(CacheConfig{})
	c.Set("u1", nil)
	c.Set("u2", nil)
	c.Invalidate("u1")
	c.Invalidate("missing")
	if _, ok := c.Get("u1"); ok {
		t.Fatal("invalidated entry must be absent")
	}
	if c.Stats().Invalidations != 1 {
		t.Fatalf("expected one invalidation, got %d", c.Stats().Invalidations)
	}
	c.Clear()
	if c.Len() != 0 {
		t.Fatal("Clear must drop everything")
	}
}

func TestCacheEvictsAtCapacity(t *testing.T) {
	c, clock := newTestCache(CacheConfig{MaxEntries: 2})
	c.Set("first", nil)
	clock.Advance(time.Second)
	c.Set("second", nil)
	clock.Advance(time.Second)
	c.Set("third", nil)

	if c.Len() != 2 {
		t.Fatalf("expected capacity to hold, got %d", c.Len())
	}
	if _, ok := c.Get("first"); ok {
		t.Fatal("expected the entry closest to expiry to be evicted")
	}
	if c.Stats().Evictions != 1 {
		t.Fatalf("expected one eviction, got %d", c.Stats().Evictions)
	}
}

func TestCacheSweep(t *testing.T) {
	c, clock := newTestCache(CacheConfig{TTL: time.Minute})
	c.Set("a", nil)
	c.Set("b", nil)
	clock.Advance(2 * time.Minute)
	c.Set("c", nil)
	if n := c.Sweep(); n != 2 {
		t.Fatalf("expected 2 swept entries, got %d", n)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 live entry, got %d", c.Len())
	}
}

func TestCacheSweeperStopsWithContext(t *testing.T) {
	c := NewCache(CacheConfig{TTL: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	c.StartSweeper(ctx, 5*time.Millisecond)
	c.Set("a", nil)

	deadline := time.Now().Add(2 * time.Second)
	for c.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper did not remove expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache(CacheConfig{MaxEntries: 50})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				id := string(rune('a' + (i+j)%26))
				c.Set(id, []identity.Permission{readReviews})
				c.Get(id)
				if j%7 == 0 {
					c.Invalidate(id)
				}
			}
		}(i)
	}
	wg.Wait()
	if c.Len() > 50 {
		t.Fatalf("capacity exceeded: %d", c.Len())
	}
}
