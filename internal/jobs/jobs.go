// Package jobs schedules the periodic maintenance functions with cron.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MrEthical07/goGuard/events"
)

// Runner is the subset of the Engine the jobs drive.
type Runner interface {
	CleanupRateLimits(ctx context.Context, retention time.Duration) (int64, error)
	RunAlertMonitor(ctx context.Context) (events.Report, error)
}

// Config selects schedules in cron syntax ("@hourly", "@every 5m",
// "0 3 * * *"). An empty spec disables that job.
type Config struct {
	CleanupSpec string
	MonitorSpec string
	// Retention is passed to CleanupRateLimits; zero selects the engine
	// default.
	Retention time.Duration
	// Timeout bounds one run. Defaults to one minute.
	Timeout time.Duration
}

// Scheduler owns a cron instance. Overlapping runs of the same job are
// skipped and panics are recovered.
type Scheduler struct {
	runner  Runner
	cfg     Config
	logger  *slog.Logger
	cron    *cron.Cron
	started bool
}

func New(runner Runner, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("jobs: nil runner")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		runner: runner,
		cfg:    cfg,
		logger: logger,
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
	}
	if cfg.CleanupSpec != "" {
		if _, err := s.cron.AddFunc(cfg.CleanupSpec, s.cleanup); err != nil {
			return nil, fmt.Errorf("jobs: cleanup schedule %q: %w", cfg.CleanupSpec, err)
		}
	}
	if cfg.MonitorSpec != "" {
		if _, err := s.cron.AddFunc(cfg.MonitorSpec, s.monitor); err != nil {
			return nil, fmt.Errorf("jobs: monitor schedule %q: %w", cfg.MonitorSpec, err)
		}
	}
	return s, nil
}

// Jobs reports how many jobs are scheduled.
func (s *Scheduler) Jobs() int { return len(s.cron.Entries()) }

func (s *Scheduler) Start() {
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("jobs started", slog.Int("jobs", s.Jobs()))
}

// Stop prevents new runs and waits for running ones until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	start := time.Now()
	n, err := s.runner.CleanupRateLimits(ctx, s.cfg.Retention)
	if err != nil {
		s.logger.Warn("goguard: rate limit cleanup failed", slog.Any("error", err))
		return
	}
	s.logger.Info("rate limit cleanup finished",
		slog.Int64("deleted", n),
		slog.Duration("took", time.Since(start)),
	)
}

func (s *Scheduler) monitor() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	report, err := s.runner.RunAlertMonitor(ctx)
	if err != nil {
		s.logger.Warn("goguard: alert monitor failed", slog.Any("error", err))
		return
	}
	if report.Examined == 0 {
		return
	}
	s.logger.Info("alert monitor finished",
		slog.Int("examined", report.Examined),
		slog.Int("notified", report.Notified),
		slog.Int("failed", report.Failed),
	)
}

// cronLogger routes cron's own logging through slog at debug level.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
