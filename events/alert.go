package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Alerter delivers an out-of-band notification for a CRITICAL event.
type Alerter interface {
	Alert(ctx context.Context, event Event) error
}

// AlerterFunc adapts a function to Alerter.
type AlerterFunc func(ctx context.Context, event Event) error

func (f AlerterFunc) Alert(ctx context.Context, event Event) error { return f(ctx, event) }

// SlogAlerter logs alerts at error level.
type SlogAlerter struct {
	Logger *slog.Logger
}

func (a SlogAlerter) Alert(ctx context.Context, event Event) error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(ctx, "critical_security_event",
		slog.String("id", event.ID),
		slog.String("event_type", event.Type),
		slog.String("user_id", event.UserID),
		slog.String("ip", event.IPAddress),
		slog.Any("details", event.Details),
	)
	return nil
}

// WebhookAlerter POSTs the event as JSON. When Token is set it is sent as a
// bearer token.
type WebhookAlerter struct {
	URL    string
	Token  string
	Client *http.Client
}

// NewWebhookAlerter returns nil when url is empty so callers can leave
// alerting unconfigured.
func NewWebhookAlerter(url, token string) *WebhookAlerter {
	if url == "" {
		return nil
	}
	return &WebhookAlerter{
		URL:    url,
		Token:  token,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *WebhookAlerter) Alert(ctx context.Context, event Event) error {
	if a == nil || a.URL == "" {
		return nil
	}
	return postJSON(ctx, a.Client, a.URL, a.Token, map[string]any{
		"alert": "CRITICAL security event",
		"event": event,
	})
}

func postJSON(ctx context.Context, client *http.Client, url, token string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s returned %d", url, resp.StatusCode)
	}
	return nil
}
