package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Result statuses in a monitor Report.
const (
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

// EventResult is the outcome for one event.
type EventResult struct {
	EventID    string `json:"event_id"`
	Recipients int    `json:"recipients,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// Report summarizes a monitor run.
type Report struct {
	Examined int           `json:"examined"`
	Notified int           `json:"notified"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Results  []EventResult `json:"results"`
}

// Monitor notifies subscribed recipients about unprocessed HIGH and
// CRITICAL events. An event is marked processed only after a successful
// send; events nobody subscribes to stay unprocessed.
type Monitor struct {
	store     Store
	settings  NotificationStore
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
	batchSize int
}

// NewMonitor wires a monitor. batchSize <= 0 means 100.
func NewMonitor(store Store, settings NotificationStore, notifier Notifier, logger *slog.Logger, batchSize int) (*Monitor, error) {
	if store == nil || settings == nil || notifier == nil {
		return nil, errors.New("events: monitor requires store, settings and notifier")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Monitor{
		store:     store,
		settings:  settings,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
		batchSize: batchSize,
	}, nil
}

// Run processes one batch.
func (m *Monitor) Run(ctx context.Context) (Report, error) {
	pending, err := m.store.UnprocessedEvents(ctx, []Severity{High, Critical}, m.batchSize)
	if err != nil {
		return Report{}, fmt.Errorf("fetch security events: %w", err)
	}
	report := Report{Examined: len(pending), Results: []EventResult{}}
	if len(pending) == 0 {
		return report, nil
	}

	settings, err := m.settings.NotificationSettings(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("fetch notification settings: %w", err)
	}
	if len(settings) == 0 {
		m.logger.InfoContext(ctx, "security_alert_monitor_no_recipients", slog.Int("pending", len(pending)))
		report.Skipped = len(pending)
		return report, nil
	}

	for _, event := range pending {
		recipients := recipientsFor(settings, event.Severity)
		if len(recipients) == 0 {
			report.Skipped++
			continue
		}

		if err := m.notifier.Notify(ctx, recipients, event); err != nil {
			m.logger.ErrorContext(ctx, "goguard: security alert notify failed",
				slog.String("event_id", event.ID), slog.Any("error", err))
			report.Failed++
			report.Results = append(report.Results, EventResult{
				EventID: event.ID,
				Status:  StatusFailed,
				Error:   err.Error(),
			})
			continue
		}

		sentAt := m.now()
		records := make([]Notification, 0, len(recipients))
		for _, r := range recipients {
			records = append(records, Notification{
				EventID:        event.ID,
				RecipientEmail: r,
				Status:         NotificationSent,
				SentAt:         sentAt,
			})
		}
		if err := m.settings.RecordNotifications(ctx, records); err != nil {
			m.logger.WarnContext(ctx, "goguard: recording notifications failed",
				slog.String("event_id", event.ID), slog.Any("error", err))
		}
		if err := m.store.MarkEventProcessed(ctx, event.ID); err != nil {
			m.logger.WarnContext(ctx, "goguard: marking event processed failed",
				slog.String("event_id", event.ID), slog.Any("error", err))
		}

		report.Notified++
		report.Results = append(report.Results, EventResult{
			EventID:    event.ID,
			Recipients: len(recipients),
			Status:     StatusProcessed,
		})
	}
	return report, nil
}

func recipientsFor(settings []NotificationSetting, sev Severity) []string {
	var out []string
	for _, s := range settings {
		if s.Wants(sev) && s.Email != "" {
			out = append(out, s.Email)
		}
	}
	return out
}
