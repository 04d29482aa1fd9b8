package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLogger(t *testing.T, opts ...Option) *Logger {
	t.Helper()
	clock := &stepClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithSlog(discardLogger()), WithClock(clock.Now)}, opts...)
	l := NewLogger(DefaultConfig(), opts...)
	t.Cleanup(l.Close)
	return l
}

func TestLoggerRecentRingKeepsNewestHundred(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	for i := 0; i < 130; i++ {
		l.Log(ctx, fmt.Sprintf("E%d", i), Low, nil)
	}

	recent := l.Recent(0)
	if len(recent) != 100 {
		t.Fatalf("expected 100 retained events, got %d", len(recent))
	}
	if recent[0].Type != "E129" || recent[99].Type != "E30" {
		t.Fatalf("expected newest first from E129 to E30, got %s..%s", recent[0].Type, recent[99].Type)
	}
	if got := l.Recent(5); len(got) != 5 || got[4].Type != "E125" {
		t.Fatalf("unexpected Recent(5): %+v", got)
	}
}

func TestLoggerHighSeverityRing(t *testing.T) {
	l := newTestLogger(t, WithAlerter(AlerterFunc(func(context.Context, Event) error { return nil })))
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		sev := High
		if i%2 == 1 {
			sev = Critical
		}
		l.Log(ctx, fmt.Sprintf("H%d", i), sev, nil)
		l.Log(ctx, "noise", Medium, nil)
	}

	high := l.HighSeverity()
	if len(high) != 50 {
		t.Fatalf("expected 50 high-severity events, got %d", len(high))
	}
	for _, e := range high {
		if !e.Severity.AtLeast(High) {
			t.Fatalf("unexpected severity in high ring: %+v", e)
		}
	}
	if high[0].Type != "H59" {
		t.Fatalf("expected newest high event first, got %s", high[0].Type)
	}
}

func TestLoggerSanitizesAndAttributes(t *testing.T) {
	sink := NewChannelSink(4)
	l := newTestLogger(t, WithSink(sink))

	ctx := WithActor(context.Background(), Actor{UserID: "u-1", IPAddress: "10.1.1.1", UserAgent: "curl/8"})
	l.Log(ctx, "LOGIN_FAILED", Medium, map[string]any{"email": "a@b.c", "password": "nope"})

	select {
	case e := <-sink.Events():
		if e.UserID != "u-1" || e.IPAddress != "10.1.1.1" || e.UserAgent != "curl/8" {
			t.Fatalf("actor not applied: %+v", e)
		}
		if e.Details["password"] != Redacted || e.Details["email"] != "a@b.c" {
			t.Fatalf("details not sanitized: %+v", e.Details)
		}
		if e.ID == "" || e.Timestamp.IsZero() {
			t.Fatalf("expected id and timestamp: %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event was not persisted")
	}

	l.LogUser(ctx, "u-2", "MFA_ENROLLED", Medium, nil)
	if got := l.Recent(1)[0].UserID; got != "u-2" {
		t.Fatalf("expected explicit user id to win, got %q", got)
	}
}

func TestLoggerSinkFailureDoesNotPropagate(t *testing.T) {
	store := &memStore{insertErr: errors.New("db down")}
	l := NewLogger(DefaultConfig(), WithStore(store), WithSlog(discardLogger()))

	l.Log(context.Background(), "LOGIN_SUCCESS", Low, nil)
	l.Close()

	if l.dispatcher.Failed() != 1 {
		t.Fatalf("expected one failed delivery, got %d", l.dispatcher.Failed())
	}
	if len(l.Recent(0)) != 1 {
		t.Fatal("in-memory ring must be independent of persistence")
	}
}

func TestLoggerCriticalRaisesAlert(t *testing.T) {
	var alerts atomic.Int32
	got := make(chan Event, 1)
	l := newTestLogger(t, WithAlerter(AlerterFunc(func(_ context.Context, e Event) error {
		alerts.Add(1)
		got <- e
		return nil
	})))

	l.Log(context.Background(), "SUSPICIOUS_LOGIN", High, nil)
	l.Log(context.Background(), "MFA_ATTEMPTS_EXCEEDED", Critical, map[string]any{"attempts": 6})

	select {
	case e := <-got:
		if e.Type != "MFA_ATTEMPTS_EXCEEDED" {
			t.Fatalf("unexpected alert %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("critical event did not raise an alert")
	}
	l.Close()
	if alerts.Load() != 1 {
		t.Fatalf("expected exactly one alert, got %d", alerts.Load())
	}
}

func TestLoggerAlertPanicIsContained(t *testing.T) {
	l := NewLogger(DefaultConfig(), WithSlog(discardLogger()), WithAlerter(AlerterFunc(func(context.Context, Event) error {
		panic("boom")
	})))
	l.Log(context.Background(), "X", Critical, nil)
	l.Close()
}

func TestLoggerQueryFallsBackToMemory(t *testing.T) {
	store := &memStore{queryErr: errors.New("timeout")}
	l := newTestLogger(t, WithStore(store))
	ctx := context.Background()

	l.LogUser(ctx, "u1", "LOGIN_FAILED", Medium, nil)
	l.LogUser(ctx, "u2", "LOGIN_FAILED", Medium, nil)
	l.LogUser(ctx, "u1", "SUSPICIOUS_LOGIN", High, nil)

	found, err := l.Query(ctx, Criteria{UserID: "u1"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(found) != 2 || found[0].Type != "SUSPICIOUS_LOGIN" {
		t.Fatalf("unexpected fallback result: %+v", found)
	}

	found, _ = l.Query(ctx, Criteria{Severities: []Severity{High}, Limit: 10})
	if len(found) != 1 {
		t.Fatalf("expected severity filter in fallback, got %+v", found)
	}
}

func TestLoggerQueryUsesStore(t *testing.T) {
	store := &memStore{}
	l := NewLogger(DefaultConfig(), WithStore(store), WithSlog(discardLogger()))
	l.Log(context.Background(), "PERMISSION_DENIED", Medium, nil)
	l.Close()

	found, err := l.Query(context.Background(), Criteria{Types: []string{"PERMISSION_DENIED"}})
	if err != nil || len(found) != 1 {
		t.Fatalf("expected persisted event from store: %+v err=%v", found, err)
	}
}

func TestLoggerConcurrentUse(t *testing.T) {
	l := newTestLogger(t, WithSink(NoOpSink{}))
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Log(context.Background(), "E", Medium, map[string]any{"j": j})
				_ = l.Recent(10)
			}
		}()
	}
	wg.Wait()
	if len(l.Recent(0)) != 100 {
		t.Fatalf("expected full ring, got %d", len(l.Recent(0)))
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Log(context.Background(), "X", High, nil)
	if l.Recent(1) != nil || l.HighSeverity() != nil {
		t.Fatal("nil logger should return nothing")
	}
	l.Close()
}
