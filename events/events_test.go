package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memStore struct {
	mu            sync.Mutex
	events        []Event
	settings      []NotificationSetting
	notifications []Notification
	queryErr      error
	insertErr     error
}

func (s *memStore) InsertEvent(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.events = append(s.events, e)
	return nil
}

func (s *memStore) QueryEvents(_ context.Context, c Criteria) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	var out []Event
	for i := len(s.events) - 1; i >= 0 && len(out) < c.EffectiveLimit(); i-- {
		if c.Matches(s.events[i]) {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

func (s *memStore) UnprocessedEvents(_ context.Context, severities []Severity, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	c := Criteria{Severities: severities}
	var out []Event
	for _, e := range s.events {
		if !e.Processed && c.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) MarkEventProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].Processed = true
			return nil
		}
	}
	return errors.New("not found")
}

func (s *memStore) NotificationSettings(context.Context) ([]NotificationSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []NotificationSetting
	for _, n := range s.settings {
		if n.Enabled {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *memStore) RecordNotifications(_ context.Context, n []Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n...)
	return nil
}

func (s *memStore) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}
