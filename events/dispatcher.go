package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DispatcherConfig controls buffering and delivery.
type DispatcherConfig struct {
	BufferSize int
	DropIfFull bool
	// EmitTimeout bounds a single Sink.Emit call.
	EmitTimeout time.Duration
	// Workers call the sink concurrently, so events may reach it out of
	// order when Workers > 1.
	Workers int
	// Retries is the number of extra attempts after a failed Emit, spaced
	// by RetryBackoff times the attempt number.
	Retries      int
	RetryBackoff time.Duration
}

// Dispatcher asynchronously forwards events to a sink. Sink errors are
// logged and never returned to the emitter.
type Dispatcher struct {
	cfg    DispatcherConfig
	sink   Sink
	logger *slog.Logger

	queue chan Event
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
	retried atomic.Uint64
	failed  atomic.Uint64
}

func NewDispatcher(cfg DispatcherConfig, sink Sink, logger *slog.Logger) *Dispatcher {
	cfg.BufferSize = max(cfg.BufferSize, 1)
	cfg.Workers = max(cfg.Workers, 1)
	cfg.Retries = max(cfg.Retries, 0)
	if cfg.EmitTimeout <= 0 {
		cfg.EmitTimeout = 5 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		queue:  make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
	}
	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.work()
	}
	return d
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			// Drain what was queued before Close.
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	var err error
	for attempt := 0; attempt <= d.cfg.Retries; attempt++ {
		if attempt > 0 {
			d.retried.Add(1)
			time.Sleep(time.Duration(attempt) * d.cfg.RetryBackoff)
		}
		if err = d.emit(ev); err == nil {
			return
		}
	}
	d.failed.Add(1)
	d.logger.Warn("goguard: security event persistence failed",
		slog.String("event_id", ev.ID),
		slog.String("event_type", ev.Type),
		slog.String("severity", string(ev.Severity)),
		slog.Int("attempts", d.cfg.Retries+1),
		slog.Any("error", err),
	)
}

// emit calls the sink once. A panicking sink counts as a failed attempt.
func (d *Dispatcher) emit(ev Event) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.EmitTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return d.sink.Emit(ctx, ev)
}

// Emit queues ev. With DropIfFull it never blocks; otherwise it waits for
// room until ctx is done or the dispatcher closes.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if d.cfg.DropIfFull {
		select {
		case d.queue <- ev:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- ev:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stop:
	}
}

// Close stops accepting events and waits for the queue to drain.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Retried counts repeated Emit attempts.
func (d *Dispatcher) Retried() uint64 {
	if d == nil {
		return 0
	}
	return d.retried.Load()
}

// Failed counts events the sink never accepted, panics included.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
