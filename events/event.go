package events

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Severity orders events for alerting.
type Severity string

const (
	Low      Severity = "LOW"
	Medium   Severity = "MEDIUM"
	High     Severity = "HIGH"
	Critical Severity = "CRITICAL"
)

func (s Severity) rank() int {
	switch s {
	case Critical:
		return 4
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

// Valid reports whether s is one of the four known levels.
func (s Severity) Valid() bool {
	return s.rank() > 0
}

// ParseSeverity accepts any letter case.
func ParseSeverity(v string) (Severity, bool) {
	s := Severity(strings.ToUpper(strings.TrimSpace(v)))
	return s, s.Valid()
}

// Event is one security-relevant occurrence. Details are sanitized before
// an Event is constructed by Logger.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"event_type"`
	Severity  Severity       `json:"severity"`
	UserID    string         `json:"user_id,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
	Processed bool           `json:"processed"`
}

// Criteria filters stored events. Zero fields do not filter. Results are
// newest first.
type Criteria struct {
	Severities []Severity
	Types      []string
	UserID     string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// DefaultQueryLimit applies when Criteria.Limit is not positive.
const DefaultQueryLimit = 100

// EffectiveLimit returns Limit or DefaultQueryLimit.
func (c Criteria) EffectiveLimit() int {
	if c.Limit <= 0 {
		return DefaultQueryLimit
	}
	return c.Limit
}

// Matches reports whether e passes every set filter.
func (c Criteria) Matches(e Event) bool {
	if len(c.Severities) > 0 && !slices.Contains(c.Severities, e.Severity) {
		return false
	}
	if len(c.Types) > 0 && !slices.Contains(c.Types, e.Type) {
		return false
	}
	if c.UserID != "" && e.UserID != c.UserID {
		return false
	}
	if !c.Since.IsZero() && e.Timestamp.Before(c.Since) {
		return false
	}
	if !c.Until.IsZero() && e.Timestamp.After(c.Until) {
		return false
	}
	return true
}

// Store persists events.
type Store interface {
	InsertEvent(ctx context.Context, e Event) error
	QueryEvents(ctx context.Context, c Criteria) ([]Event, error)
	// UnprocessedEvents returns events with one of severities that have not
	// been marked processed, newest first.
	UnprocessedEvents(ctx context.Context, severities []Severity, limit int) ([]Event, error)
	MarkEventProcessed(ctx context.Context, id string) error
}

// NotificationSetting is an alert subscription.
type NotificationSetting struct {
	Email          string     `json:"email"`
	NotifySeverity []Severity `json:"notify_severity"`
	Enabled        bool       `json:"enabled"`
}

// Wants reports whether the subscription covers sev.
func (n NotificationSetting) Wants(sev Severity) bool {
	return n.Enabled && slices.Contains(n.NotifySeverity, sev)
}

// Notification statuses.
const (
	NotificationSent   = "SENT"
	NotificationFailed = "FAILED"
)

// Notification records one delivered (or failed) alert.
type Notification struct {
	EventID        string    `json:"security_event_id"`
	RecipientEmail string    `json:"recipient_email"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// NotificationStore holds alert subscriptions and the notification log.
type NotificationStore interface {
	// NotificationSettings returns enabled subscriptions only.
	NotificationSettings(ctx context.Context) ([]NotificationSetting, error)
	RecordNotifications(ctx context.Context, n []Notification) error
}
