package events

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// Notifier sends one event to a set of recipient addresses.
type Notifier interface {
	Notify(ctx context.Context, recipients []string, event Event) error
}

// SMTPConfig configures SMTPNotifier.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPNotifier emails an HTML alert to each recipient.
type SMTPNotifier struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = "security@vuebie.com"
	}
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail}
}

func (n *SMTPNotifier) Notify(ctx context.Context, recipients []string, event Event) error {
	if len(recipients) == 0 {
		return nil
	}
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	subject := fmt.Sprintf("[ALERT] %s Security Event - %s", event.Severity, event.Type)
	body := alertHTML(event)

	for _, to := range recipients {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := buildMessage(n.cfg.From, to, subject, body)
		if err := n.send(addr, auth, n.cfg.From, []string{to}, msg); err != nil {
			return fmt.Errorf("send alert to %s: %w", to, err)
		}
	}
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: \"Vuebie Security\" <%s>\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func alertHTML(event Event) string {
	details, _ := json.MarshalIndent(event.Details, "", "  ")
	user := "No user associated"
	if event.UserID != "" {
		user = "User ID: " + event.UserID
	}
	ip := "No IP address recorded"
	if event.IPAddress != "" {
		ip = "IP Address: " + event.IPAddress
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<h2>Security Alert: %s Security Event Detected</h2>\n", html.EscapeString(string(event.Severity)))
	fmt.Fprintf(&b, "<p><strong>Event Type:</strong> %s</p>\n", html.EscapeString(event.Type))
	fmt.Fprintf(&b, "<p><strong>Severity:</strong> %s</p>\n", html.EscapeString(string(event.Severity)))
	fmt.Fprintf(&b, "<p><strong>Timestamp:</strong> %s</p>\n", event.Timestamp.UTC().Format(time.RFC1123))
	fmt.Fprintf(&b, "<p><strong>%s</strong></p>\n", html.EscapeString(user))
	fmt.Fprintf(&b, "<p><strong>%s</strong></p>\n", html.EscapeString(ip))
	fmt.Fprintf(&b, "<h3>Event Details:</h3>\n<pre>%s</pre>\n", html.EscapeString(string(details)))
	b.WriteString("<hr>\n<p>This is an automated message from the Vuebie Security Monitoring System. Please investigate this alert immediately.</p>\n")
	return b.String()
}

// WebhookNotifier POSTs {recipients, event} to a URL.
type WebhookNotifier struct {
	URL    string
	Token  string
	Client *http.Client
}

func (n *WebhookNotifier) Notify(ctx context.Context, recipients []string, event Event) error {
	return postJSON(ctx, n.Client, n.URL, n.Token, map[string]any{
		"recipients": recipients,
		"event":      event,
	})
}

// SlogNotifier only logs. It stands in when no delivery channel is
// configured.
type SlogNotifier struct {
	Alerter SlogAlerter
}

func (n SlogNotifier) Notify(ctx context.Context, _ []string, event Event) error {
	return n.Alerter.Alert(ctx, event)
}
