package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/events"
)

type fakeRunner struct {
	cleanups  atomic.Int32
	monitors  atomic.Int32
	retention atomic.Int64
	fail      bool
	panicOnce atomic.Bool
}

func (f *fakeRunner) CleanupRateLimits(_ context.Context, retention time.Duration) (int64, error) {
	f.cleanups.Add(1)
	f.retention.Store(int64(retention))
	if f.fail {
		return 0, errors.New("store down")
	}
	return 3, nil
}

func (f *fakeRunner) RunAlertMonitor(context.Context) (events.Report, error) {
	f.monitors.Add(1)
	if f.panicOnce.CompareAndSwap(true, false) {
		panic("monitor exploded")
	}
	return events.Report{Examined: 1, Notified: 1}, nil
}

var quiet = slog.New(slog.DiscardHandler)

func TestNewValidatesSchedules(t *testing.T) {
	if _, err := New(nil, Config{}, quiet); err == nil {
		t.Fatalf("nil runner accepted")
	}
	if _, err := New(&fakeRunner{}, Config{CleanupSpec: "every tuesday"}, quiet); err == nil {
		t.Fatalf("bad cleanup spec accepted")
	}
	if _, err := New(&fakeRunner{}, Config{MonitorSpec: "* * *"}, quiet); err == nil {
		t.Fatalf("bad monitor spec accepted")
	}

	s, err := New(&fakeRunner{}, Config{CleanupSpec: "@hourly"}, quiet)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Jobs() != 1 {
		t.Fatalf("Jobs = %d, want 1", s.Jobs())
	}
}

func TestJobsCallRunner(t *testing.T) {
	r := &fakeRunner{}
	s, err := New(r, Config{Retention: 2 * time.Hour}, quiet)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.cleanup()
	s.monitor()
	if r.cleanups.Load() != 1 || r.monitors.Load() != 1 {
		t.Fatalf("cleanups=%d monitors=%d", r.cleanups.Load(), r.monitors.Load())
	}
	if got := time.Duration(r.retention.Load()); got != 2*time.Hour {
		t.Fatalf("retention = %v", got)
	}

	failing := &fakeRunner{fail: true}
	s, _ = New(failing, Config{}, quiet)
	s.cleanup()
	if failing.cleanups.Load() != 1 {
		t.Fatalf("failing cleanup not attempted")
	}
}

func TestSchedulerRunsAndSurvivesPanics(t *testing.T) {
	r := &fakeRunner{}
	r.panicOnce.Store(true)
	s, err := New(r, Config{MonitorSpec: "@every 1s"}, quiet)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	s.Start()

	deadline := time.Now().Add(5 * time.Second)
	for r.monitors.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if r.monitors.Load() < 2 {
		t.Fatalf("monitor ran %d times; a panic stopped the schedule", r.monitors.Load())
	}
}
