package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) error {
	s.count.Add(1)
	return nil
}

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) error {
	<-s.gate
	return nil
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(DispatcherConfig{BufferSize: 64}, sink, discardLogger())
	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), Event{Type: "E"})
	}
	d.Close()
	if sink.count.Load() != 50 {
		t.Fatalf("expected 50 delivered events, got %d", sink.count.Load())
	}

	d.Emit(context.Background(), Event{Type: "late"})
	if sink.count.Load() != 50 {
		t.Fatal("events emitted after Close must be ignored")
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{BufferSize: 1, DropIfFull: true}, sink, discardLogger())

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Type: "E"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink and full buffer")
	}
	close(sink.gate)
	d.Close()
}

func TestDispatcherBlockingRespectsContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{BufferSize: 1}, sink, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		d.Emit(ctx, Event{Type: "E"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected cancelled emits to be counted as dropped")
	}
	close(sink.gate)
	d.Close()
}

type flakySink struct {
	fails atomic.Int32
	calls atomic.Int32
}

func (s *flakySink) Emit(context.Context, Event) error {
	s.calls.Add(1)
	if s.fails.Add(-1) >= 0 {
		return errors.New("store down")
	}
	return nil
}

type panicSink struct{}

func (panicSink) Emit(context.Context, Event) error { panic("boom") }

func TestDispatcherRetriesFailedEmit(t *testing.T) {
	sink := &flakySink{}
	sink.fails.Store(2)
	d := NewDispatcher(DispatcherConfig{BufferSize: 4, Retries: 2, RetryBackoff: time.Millisecond}, sink, discardLogger())
	d.Emit(context.Background(), Event{Type: "E"})
	d.Close()

	if sink.calls.Load() != 3 || d.Retried() != 2 || d.Failed() != 0 {
		t.Fatalf("calls = %d, retried = %d, failed = %d", sink.calls.Load(), d.Retried(), d.Failed())
	}
}

func TestDispatcherCountsExhaustedRetriesAndPanics(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{BufferSize: 4, Retries: 1, RetryBackoff: time.Millisecond}, panicSink{}, discardLogger())
	d.Emit(context.Background(), Event{Type: "E"})
	d.Emit(context.Background(), Event{Type: "E"})
	d.Close()
	if d.Failed() != 2 || d.Retried() != 2 {
		t.Fatalf("failed = %d, retried = %d", d.Failed(), d.Retried())
	}
}

func TestDispatcherWorkersShareQueue(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(DispatcherConfig{BufferSize: 256, Workers: 4}, sink, discardLogger())
	for i := 0; i < 200; i++ {
		d.Emit(context.Background(), Event{Type: "E"})
	}
	d.Close()
	if sink.count.Load() != 200 {
		t.Fatalf("delivered %d of 200", sink.count.Load())
	}
}
