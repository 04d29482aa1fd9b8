package loginpattern

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/backend"
	"github.com/MrEthical07/goGuard/identity"
)

// Reasons reported in a Finding.
const (
	ReasonLocationChange = "Unusual location change detected"
	ReasonFailedAttempts = "Multiple failed login attempts before success"
	ReasonUnusualTime    = "Unusual time of access"
	ReasonNewDevice      = "Login from new device/browser"
)

// Thresholds tune the checks.
type Thresholds struct {
	FailedAttempts int
	FailureWindow  time.Duration
	LocationWindow time.Duration
	// Hours strictly before EarliestHour or after LatestHour are odd.
	EarliestHour int
	LatestHour   int
	HistorySize  int
	// TypicalSample successful logins are scanned; an hour is typical when
	// it appears at least TypicalMinCount times. With fewer than
	// TypicalMinHistory samples every hour is typical.
	TypicalSample     int
	TypicalMinCount   int
	TypicalMinHistory int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		FailedAttempts:    5,
		FailureWindow:     5 * time.Minute,
		LocationWindow:    24 * time.Hour,
		EarliestHour:      6,
		LatestHour:        22,
		HistorySize:       10,
		TypicalSample:     20,
		TypicalMinCount:   2,
		TypicalMinHistory: 3,
	}
}

// Finding is the outcome of one analysis.
type Finding struct {
	Suspicious bool   `json:"suspicious"`
	Reason     string `json:"reason,omitempty"`
}

// Analyze checks current against prior history (newest first, excluding
// current) and the user's recent successful logins. Checks run in a fixed
// order and the first hit wins.
func Analyze(th Thresholds, loc *time.Location, current identity.LoginRecord, history, successes []identity.LoginRecord, now time.Time) Finding {
	if loc == nil {
		loc = time.UTC
	}
	if len(history) == 0 {
		return Finding{}
	}

	prev := history[0]
	if current.Location != "" && prev.Location != "" && current.Location != prev.Location &&
		current.CreatedAt.Sub(prev.CreatedAt) < th.LocationWindow {
		return Finding{Suspicious: true, Reason: ReasonLocationChange}
	}

	failures := 0
	cutoff := now.Add(-th.FailureWindow)
	for _, h := range history {
		if !h.Success && h.CreatedAt.After(cutoff) {
			failures++
		}
	}
	if failures >= th.FailedAttempts {
		return Finding{Suspicious: true, Reason: ReasonFailedAttempts}
	}

	hour := now.In(loc).Hour()
	if hour < th.EarliestHour || hour > th.LatestHour {
		if !typicalHours(th, loc, successes)[hour] {
			return Finding{Suspicious: true, Reason: ReasonUnusualTime}
		}
	}

	seen := false
	for _, h := range history {
		if h.Success && h.UserAgent == current.UserAgent {
			seen = true
			break
		}
	}
	if !seen && len(history) > 1 {
		return Finding{Suspicious: true, Reason: ReasonNewDevice}
	}

	return Finding{}
}

func typicalHours(th Thresholds, loc *time.Location, successes []identity.LoginRecord) [24]bool {
	var out [24]bool
	if len(successes) < th.TypicalMinHistory {
		for i := range out {
			out[i] = true
		}
		return out
	}

	var counts [24]int
	for i, s := range successes {
		if i == th.TypicalSample {
			break
		}
		counts[s.CreatedAt.In(loc).Hour()]++
	}
	for h, n := range counts {
		out[h] = n >= th.TypicalMinCount
	}
	return out
}

// Detector loads history from a store and runs Analyze.
type Detector struct {
	store backend.LoginHistoryStore
	th    Thresholds
	loc   *time.Location
}

// NewDetector evaluates hours in loc, UTC when nil. Zero thresholds select
// the defaults.
func NewDetector(store backend.LoginHistoryStore, th Thresholds, loc *time.Location) *Detector {
	if th == (Thresholds{}) {
		th = DefaultThresholds()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Detector{store: store, th: th, loc: loc}
}

// Check must run before current is recorded in the history store.
func (d *Detector) Check(ctx context.Context, current identity.LoginRecord, now time.Time) (Finding, error) {
	if d == nil || d.store == nil || current.UserID == "" {
		return Finding{}, nil
	}
	history, err := d.store.LoginHistory(ctx, current.UserID, d.th.HistorySize, false)
	if err != nil {
		return Finding{}, fmt.Errorf("load login history: %w", err)
	}
	if len(history) == 0 {
		return Finding{}, nil
	}
	successes, err := d.store.LoginHistory(ctx, current.UserID, d.th.TypicalSample, true)
	if err != nil {
		return Finding{}, fmt.Errorf("load login history: %w", err)
	}
	return Analyze(d.th, d.loc, current, history, successes, now), nil
}
