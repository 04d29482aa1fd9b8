package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrEthical07/goGuard/backend"
	"github.com/MrEthical07/goGuard/events"
)

const eventColumns = `id, event_type, severity, user_id, ip_address, user_agent, session_id, details, processed, created_at`

func (s *Store) InsertEvent(ctx context.Context, e events.Event) error {
	if err := s.ready(); err != nil {
		return err
	}
	details := []byte("{}")
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		details = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into security_events (`+eventColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.Type, string(e.Severity), nullIfEmpty(e.UserID), nullIfEmpty(e.IPAddress),
		nullIfEmpty(e.UserAgent), nullIfEmpty(e.SessionID), details, e.Processed, e.Timestamp)
	return mapErr(err)
}

func joinSeverities(sevs []events.Severity) string {
	names := make([]string, len(sevs))
	for i, s := range sevs {
		names[i] = string(s)
	}
	return strings.Join(names, ",")
}

// QueryEvents returns matching events newest first.
func (s *Store) QueryEvents(ctx context.Context, c events.Criteria) ([]events.Event, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if len(c.Severities) > 0 {
		add("severity = any(string_to_array($%d, ','))", joinSeverities(c.Severities))
	}
	if len(c.Types) > 0 {
		add("event_type = any(string_to_array($%d, ','))", strings.Join(c.Types, ","))
	}
	if c.UserID != "" {
		add("user_id = $%d", c.UserID)
	}
	if !c.Since.IsZero() {
		add("created_at >= $%d", c.Since)
	}
	if !c.Until.IsZero() {
		add("created_at < $%d", c.Until)
	}

	query := "select " + eventColumns + " from security_events"
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	args = append(args, c.EffectiveLimit())
	query += fmt.Sprintf(" order by created_at desc, id desc limit $%d", len(args))

	return s.scanEvents(ctx, query, args...)
}

func (s *Store) UnprocessedEvents(ctx context.Context, severities []events.Severity, limit int) ([]events.Event, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.scanEvents(ctx, `
		select `+eventColumns+` from security_events
		where not processed and severity = any(string_to_array($1, ','))
		order by created_at desc, id desc
		limit $2
	`, joinSeverities(severities), nullLimit(limit))
}

func (s *Store) scanEvents(ctx context.Context, query string, args ...any) ([]events.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			e                events.Event
			severity         string
			uid, ip, ua, sid sql.NullString
			details          []byte
		)
		if err := rows.Scan(&e.ID, &e.Type, &severity, &uid, &ip, &ua, &sid, &details, &e.Processed, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Severity = events.Severity(severity)
		e.UserID, e.IPAddress, e.UserAgent, e.SessionID = uid.String, ip.String, ua.String, sid.String
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode details of %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) MarkEventProcessed(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `update security_events set processed = true where id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return backend.ErrNotFound
	}
	return nil
}

func (s *Store) NotificationSettings(ctx context.Context) ([]events.NotificationSetting, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select email, array_to_string(notify_severity, ','), enabled
		from notification_settings
		where enabled
		order by id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.NotificationSetting
	for rows.Next() {
		var (
			setting events.NotificationSetting
			sevs    string
		)
		if err := rows.Scan(&setting.Email, &sevs, &setting.Enabled); err != nil {
			return nil, err
		}
		for _, name := range strings.Split(sevs, ",") {
			if sev, ok := events.ParseSeverity(name); ok {
				setting.NotifySeverity = append(setting.NotifySeverity, sev)
			}
		}
		out = append(out, setting)
	}
	return out, rows.Err()
}

// RecordNotifications appends all rows or none.
func (s *Store) RecordNotifications(ctx context.Context, n []events.Notification) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(n) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			insert into security_notifications (event_id, recipient_email, status, error, sent_at)
			values ($1, $2, $3, $4, $5)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, row := range n {
			sentAt := row.SentAt
			if sentAt.IsZero() {
				sentAt = s.now()
			}
			if _, err := stmt.ExecContext(ctx, row.EventID, row.RecipientEmail, row.Status, nullIfEmpty(row.Error), sentAt); err != nil {
				return mapErr(err)
			}
		}
		return nil
	})
}
