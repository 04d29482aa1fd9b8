package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Config sizes the logger.
type Config struct {
	RecentCapacity int
	HighCapacity   int
	BufferSize     int
	DropIfFull     bool
	AlertTimeout   time.Duration
	// SinkWorkers and SinkRetries tune persistence; see DispatcherConfig.
	SinkWorkers int
	SinkRetries int
}

// DefaultConfig keeps the last 100 events and the last 50 HIGH/CRITICAL
// events.
func DefaultConfig() Config {
	return Config{
		RecentCapacity: 100,
		HighCapacity:   50,
		BufferSize:     1024,
		DropIfFull:     true,
		AlertTimeout:   10 * time.Second,
		SinkWorkers:    1,
		SinkRetries:    2,
	}
}

// Logger is safe for concurrent use. A nil *Logger discards everything.
type Logger struct {
	cfg        Config
	dispatcher *Dispatcher
	alerter    Alerter
	store      Store
	logger     *slog.Logger
	now        func() time.Time
	hook       func(Event)

	recent *ring
	high   *ring

	alerts sync.WaitGroup
	closed atomic.Bool
}

// Option configures a Logger.
type Option func(*loggerOptions)

type loggerOptions struct {
	sink    Sink
	store   Store
	alerter Alerter
	logger  *slog.Logger
	now     func() time.Time
	hook    func(Event)
}

// WithSink sets the persistence sink. Without one, a store given through
// WithStore is used, and failing that events stay in memory only.
func WithSink(s Sink) Option { return func(o *loggerOptions) { o.sink = s } }

// WithStore sets the store used by Query, and the sink when none is set.
func WithStore(s Store) Option { return func(o *loggerOptions) { o.store = s } }

func WithAlerter(a Alerter) Option { return func(o *loggerOptions) { o.alerter = a } }

func WithSlog(l *slog.Logger) Option { return func(o *loggerOptions) { o.logger = l } }

func WithClock(now func() time.Time) Option { return func(o *loggerOptions) { o.now = now } }

// WithHook registers fn to observe every logged event synchronously. fn
// must not block.
func WithHook(fn func(Event)) Option { return func(o *loggerOptions) { o.hook = fn } }

// NewLogger starts the persistence dispatcher. Call Close to drain it.
func NewLogger(cfg Config, opts ...Option) *Logger {
	def := DefaultConfig()
	if cfg.RecentCapacity <= 0 {
		cfg.RecentCapacity = def.RecentCapacity
	}
	if cfg.HighCapacity <= 0 {
		cfg.HighCapacity = def.HighCapacity
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.AlertTimeout <= 0 {
		cfg.AlertTimeout = def.AlertTimeout
	}

	o := loggerOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.alerter == nil {
		o.alerter = SlogAlerter{Logger: o.logger}
	}
	sink := o.sink
	if sink == nil && o.store != nil {
		sink = NewStoreSink(o.store)
	}

	l := &Logger{
		cfg:     cfg,
		alerter: o.alerter,
		store:   o.store,
		logger:  o.logger,
		now:     o.now,
		hook:    o.hook,
		recent:  newRing(cfg.RecentCapacity),
		high:    newRing(cfg.HighCapacity),
	}
	if sink != nil {
		l.dispatcher = NewDispatcher(DispatcherConfig{
			BufferSize: cfg.BufferSize,
			DropIfFull: cfg.DropIfFull,
			Workers:    cfg.SinkWorkers,
			Retries:    cfg.SinkRetries,
		}, sink, o.logger)
	}
	return l
}

// Log records an event attributed to the actor in ctx. It never blocks on
// persistence and never fails.
func (l *Logger) Log(ctx context.Context, eventType string, severity Severity, details map[string]any) {
	l.LogUser(ctx, "", eventType, severity, details)
}

// LogUser is Log with an explicit user id overriding the context actor.
func (l *Logger) LogUser(ctx context.Context, userID, eventType string, severity Severity, details map[string]any) {
	if l == nil || l.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !severity.Valid() {
		severity = Medium
	}

	actor := ActorFromContext(ctx)
	if userID == "" {
		userID = actor.UserID
	}
	now := l.now()
	event := Event{
		ID:        NewID(now),
		Type:      eventType,
		Severity:  severity,
		UserID:    userID,
		IPAddress: actor.IPAddress,
		UserAgent: actor.UserAgent,
		SessionID: actor.SessionID,
		Timestamp: now,
		Details:   Sanitize(details),
	}

	l.recent.push(event)
	if severity.AtLeast(High) {
		l.high.push(event)
	}
	if l.hook != nil {
		l.hook(event)
	}

	// Persistence must not inherit the caller's cancellation.
	l.dispatcher.Emit(context.WithoutCancel(ctx), event)

	if severity == Critical {
		l.raise(event)
	}
}

func (l *Logger) raise(event Event) {
	l.alerts.Add(1)
	go func() {
		defer l.alerts.Done()
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("goguard: security alert panicked",
					slog.String("event_id", event.ID), slog.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.AlertTimeout)
		defer cancel()
		if err := l.alerter.Alert(ctx, event); err != nil {
			l.logger.Error("goguard: security alert delivery failed",
				slog.String("event_id", event.ID),
				slog.String("event_type", event.Type),
				slog.Any("error", err),
			)
		}
	}()
}

// Recent returns up to n events, newest first. n <= 0 returns the whole
// ring.
func (l *Logger) Recent(n int) []Event {
	if l == nil {
		return nil
	}
	return l.recent.snapshot(n)
}

// HighSeverity returns the retained HIGH and CRITICAL events, newest first.
func (l *Logger) HighSeverity() []Event {
	if l == nil {
		return nil
	}
	return l.high.snapshot(0)
}

// Query reads persisted events. Without a store, or when the store fails,
// it filters the in-memory ring instead.
func (l *Logger) Query(ctx context.Context, c Criteria) ([]Event, error) {
	if l == nil {
		return nil, nil
	}
	if l.store != nil {
		found, err := l.store.QueryEvents(ctx, c)
		if err == nil {
			return found, nil
		}
		l.logger.WarnContext(ctx, "goguard: security event query failed, using memory",
			slog.Any("error", err))
	}

	limit := c.EffectiveLimit()
	out := make([]Event, 0, min(limit, l.recent.len()))
	for _, e := range l.recent.snapshot(0) {
		if len(out) == limit {
			break
		}
		if c.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Dropped reports events the dispatcher discarded because its buffer was
// full.
func (l *Logger) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.dispatcher.Dropped()
}

// Close drains pending persistence and waits for in-flight alerts.
func (l *Logger) Close() {
	if l == nil || !l.closed.CompareAndSwap(false, true) {
		return
	}
	l.dispatcher.Close()
	l.alerts.Wait()
}
