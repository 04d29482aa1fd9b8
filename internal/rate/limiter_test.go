package rate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("redis", func(t *testing.T) {
		_, rdb := newTestRedis(t)
		fn(t, NewRedisStore(rdb, "test"))
	})
}

func TestLimiterAdmitsExactlyMaxWithinWindow(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		clock := newFakeClock()
		l := New(store, WithClock(clock.Now))
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			res, err := l.Check(ctx, "alice@example.com|10.0.0.1", "login_attempt", 5, 5*time.Minute)
			if err != nil {
				t.Fatalf("Check %d failed: %v", i, err)
			}
			if res.Limited {
				t.Fatalf("attempt %d unexpectedly limited", i)
			}
			if res.Total != i || res.Remaining != 5-i {
				t.Fatalf("attempt %d: total=%d remaining=%d", i, res.Total, res.Remaining)
			}
			clock.Advance(time.Second)
		}

		res, err := l.Check(ctx, "alice@example.com|10.0.0.1", "login_attempt", 5, 5*time.Minute)
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !res.Limited || res.Remaining != 0 || res.Total != 5 {
			t.Fatalf("expected sixth attempt limited, got %+v", res)
		}
		start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		if !res.ResetTime.Equal(start.Add(5 * time.Minute)) {
			t.Fatalf("expected reset at oldest+window, got %s", res.ResetTime)
		}
		if got := res.RetryAfter(clock.Now()); got != 5*time.Minute-5*time.Second {
			t.Fatalf("unexpected retry-after %s", got)
		}
	})
}

func TestLimiterDoesNotRecordWhileLimited(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		clock := newFakeClock()
		l := New(store, WithClock(clock.Now))
		ctx := context.Background()

		for i := 0; i < 2; i++ {
			if _, err := l.Check(ctx, "ip-1", "signup_attempt", 2, time.Minute); err != nil {
				t.Fatalf("Check failed: %v", err)
			}
		}
		for i := 0; i < 10; i++ {
			clock.Advance(time.Second)
			res, err := l.Check(ctx, "ip-1", "signup_attempt", 2, time.Minute)
			if err != nil {
				t.Fatalf("Check failed: %v", err)
			}
			if !res.Limited || res.Total != 2 {
				t.Fatalf("expected limited with total 2, got %+v", res)
			}
		}

		// Both recorded attempts leave the window together; rejected calls
		// must not have extended it.
		clock.Advance(50*time.Second + time.Millisecond)
		res, err := l.Check(ctx, "ip-1", "signup_attempt", 2, time.Minute)
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if res.Limited || res.Total != 0 {
			t.Fatalf("expected window to have cleared, got %+v", res)
		}
	})
}

func TestLimiterWindowSlides(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		clock := newFakeClock()
		l := New(store, WithClock(clock.Now))
		ctx := context.Background()
		check := func() Result {
			t.Helper()
			res, err := l.Check(ctx, "u1", "mfa_verify", 3, time.Minute)
			if err != nil {
				t.Fatalf("Check failed: %v", err)
			}
			return res
		}

		check()
		clock.Advance(20 * time.Second)
		check()
		clock.Advance(20 * time.Second)
		check()
		clock.Advance(10 * time.Second)
		if res := check(); !res.Limited {
			t.Fatalf("expected limited at t=50, got %+v", res)
		}
		clock.Advance(11 * time.Second) // t=61, first attempt left the window
		res := check()
		if res.Limited || res.Total != 2 {
			t.Fatalf("expected admission with 2 prior attempts at t=61, got %+v", res)
		}
	})
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		l := New(store)
		ctx := context.Background()
		if _, err := l.Check(ctx, "a", "login_attempt", 1, time.Minute); err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		res, err := l.Check(ctx, "a", "password_reset", 1, time.Minute)
		if err != nil || res.Limited {
			t.Fatalf("different action must not share budget: %+v err=%v", res, err)
		}
		res, err = l.Check(ctx, "b", "login_attempt", 1, time.Minute)
		if err != nil || res.Limited {
			t.Fatalf("different identifier must not share budget: %+v err=%v", res, err)
		}
	})
}

func TestLimiterConcurrentAdmissionsNeverExceedMax(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		l := New(store)
		ctx := context.Background()

		var admitted int64
		var wg sync.WaitGroup
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := l.Check(ctx, "burst", "login_attempt", 7, time.Minute)
				if err == nil && !res.Limited {
					atomic.AddInt64(&admitted, 1)
				}
			}()
		}
		wg.Wait()
		if admitted != 7 {
			t.Fatalf("expected exactly 7 admissions, got %d", admitted)
		}
	})
}

func TestLimiterPrune(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		clock := newFakeClock()
		l := New(store, WithClock(clock.Now))
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			if _, err := l.Check(ctx, "old", "login_attempt", 10, 48*time.Hour); err != nil {
				t.Fatalf("Check failed: %v", err)
			}
		}
		clock.Advance(25 * time.Hour)
		if _, err := l.Check(ctx, "new", "login_attempt", 10, 48*time.Hour); err != nil {
			t.Fatalf("Check failed: %v", err)
		}

		removed, err := l.Prune(ctx, 24*time.Hour)
		if err != nil {
			t.Fatalf("Prune failed: %v", err)
		}
		if removed != 3 {
			t.Fatalf("expected 3 pruned records, got %d", removed)
		}

		res, err := l.Check(ctx, "old", "login_attempt", 10, 48*time.Hour)
		if err != nil || res.Total != 0 {
			t.Fatalf("expected pruned key to start empty: %+v err=%v", res, err)
		}
	})
}

func TestLimiterRejectsInvalidPolicy(t *testing.T) {
	l := New(NewMemoryStore())
	cases := []struct {
		id, action string
		max        int
		window     time.Duration
	}{
		{"", "login_attempt", 5, time.Minute},
		{"id", "", 5, time.Minute},
		{"id", "login_attempt", 0, time.Minute},
		{"id", "login_attempt", 5, 0},
	}
	for _, tc := range cases {
		if _, err := l.Check(context.Background(), tc.id, tc.action, tc.max, tc.window); !errors.Is(err, ErrInvalidPolicy) {
			t.Fatalf("expected ErrInvalidPolicy for %+v, got %v", tc, err)
		}
	}
}

func TestLimiterFailsOpenWhenRedisUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := New(NewRedisStore(rdb, ""))
	mr.Close()

	res, err := l.Check(context.Background(), "x", "login_attempt", 1, time.Minute)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if res.Limited {
		t.Fatal("limiter must fail open when the store is down")
	}
}

func TestRedisStoreSetsTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := New(NewRedisStore(rdb, "ns"))
	if _, err := l.Check(context.Background(), "x", "login_attempt", 3, 90*time.Second); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	ttl := mr.TTL("ns:" + Key("login_attempt", "x"))
	if ttl <= 0 || ttl > 90*time.Second {
		t.Fatalf("expected TTL within window, got %s", ttl)
	}
}
