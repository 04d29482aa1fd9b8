package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goGuard/backend"
	"github.com/MrEthical07/goGuard/events"
	"github.com/MrEthical07/goGuard/identity"
)

// Rows implements backend.RowStore with maps guarded by one RWMutex.
type Rows struct {
	mu            sync.RWMutex
	roles         map[string][]identity.Role
	profiles      map[string]identity.MerchantProfile
	mfa           map[string]identity.MFAEnrollment
	logins        []identity.LoginRecord
	decisions     []identity.PermissionDecision
	events        []events.Event
	eventIndex    map[string]int
	settings      []events.NotificationSetting
	notifications []events.Notification
}

func NewRows() *Rows {
	return &Rows{
		roles:      make(map[string][]identity.Role),
		profiles:   make(map[string]identity.MerchantProfile),
		mfa:        make(map[string]identity.MFAEnrollment),
		eventIndex: make(map[string]int),
	}
}

// SeedMockRows installs role rows and active profiles for the mock accounts.
func (r *Rows) SeedMockRows(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range mockAccounts {
		r.roles[m.id] = []identity.Role{m.role}
		p := identity.MerchantProfile{
			ID:           "profile-" + m.id,
			UserID:       m.id,
			BusinessName: m.name,
			ContactName:  m.name,
			Role:         m.role,
			Status:       identity.ProfileActive,
			CreatedAt:    now,
		}
		if m.role == identity.RoleMerchant {
			p.BusinessName = "Vuebie Demo Merchant"
			p.SubscriptionTier = identity.TierBasic
		}
		r.profiles[m.id] = p
	}
}

/* ==== roles ==== */

func (r *Rows) UserRoles(ctx context.Context, userID string) ([]identity.Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.roles[userID]), nil
}

// AssignRole is idempotent.
func (r *Rows) AssignRole(ctx context.Context, userID string, role identity.Role) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !role.Valid() {
		return fmt.Errorf("%w: role %q", backend.ErrUnsupported, role)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.roles[userID], role) {
		r.roles[userID] = append(r.roles[userID], role)
	}
	return nil
}

/* ==== profiles ==== */

func (r *Rows) Profile(ctx context.Context, userID string) (identity.MerchantProfile, error) {
	if err := ctx.Err(); err != nil {
		return identity.MerchantProfile{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[userID]
	if !ok {
		return identity.MerchantProfile{}, backend.ErrNotFound
	}
	return cloneProfile(p), nil
}

func (r *Rows) CreateProfile(ctx context.Context, p identity.MerchantProfile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.UserID == "" {
		return fmt.Errorf("%w: profile without user id", backend.ErrUnsupported)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = identity.ProfileActive
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.profiles[p.UserID]; exists {
		return fmt.Errorf("%w: profile for %s", backend.ErrConflict, p.UserID)
	}
	r.profiles[p.UserID] = cloneProfile(p)
	return nil
}

func (r *Rows) TouchLogin(ctx context.Context, userID string, success bool, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return backend.ErrNotFound
	}
	if success {
		t := at
		p.LastLoginAt = &t
		p.FailedLoginAttempts = 0
	} else {
		p.FailedLoginAttempts++
	}
	r.profiles[userID] = p
	return nil
}

func cloneProfile(p identity.MerchantProfile) identity.MerchantProfile {
	if p.LastLoginAt != nil {
		t := *p.LastLoginAt
		p.LastLoginAt = &t
	}
	return p
}

/* ==== mfa ==== */

func (r *Rows) MFAEnrollment(ctx context.Context, userID string) (identity.MFAEnrollment, error) {
	if err := ctx.Err(); err != nil {
		return identity.MFAEnrollment{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.mfa[userID]
	if !ok {
		return identity.MFAEnrollment{}, backend.ErrNotFound
	}
	e.RecoveryCodeHashes = slices.Clone(e.RecoveryCodeHashes)
	return e, nil
}

func (r *Rows) SaveMFAEnrollment(ctx context.Context, userID string, e identity.MFAEnrollment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.RecoveryCodeHashes = slices.Clone(e.RecoveryCodeHashes)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mfa[userID] = e
	r.setMFAFlagLocked(userID, e.Enabled)
	return nil
}

func (r *Rows) ConsumeRecoveryCode(ctx context.Context, userID, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.mfa[userID]
	if !ok {
		return false, nil
	}
	i := slices.Index(e.RecoveryCodeHashes, hash)
	if i < 0 {
		return false, nil
	}
	e.RecoveryCodeHashes = slices.Delete(slices.Clone(e.RecoveryCodeHashes), i, i+1)
	r.mfa[userID] = e
	return true, nil
}

func (r *Rows) ClearMFAEnrollment(ctx context.Context, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mfa[userID] = r.mfa[userID].Cleared(at)
	r.setMFAFlagLocked(userID, false)
	return nil
}

func (r *Rows) setMFAFlagLocked(userID string, enabled bool) {
	if p, ok := r.profiles[userID]; ok {
		p.MFAEnabled = enabled
		r.profiles[userID] = p
	}
}

/* ==== login history and permission log ==== */

func (r *Rows) RecordLoginAttempt(ctx context.Context, rec identity.LoginRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logins = append(r.logins, rec)
	return nil
}

func (r *Rows) LoginHistory(ctx context.Context, userID string, limit int, successOnly bool) ([]identity.LoginRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []identity.LoginRecord
	for i := len(r.logins) - 1; i >= 0; i-- {
		rec := r.logins[i]
		if rec.UserID != userID || (successOnly && !rec.Success) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *Rows) LogPermissionDecision(ctx context.Context, d identity.PermissionDecision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
	return nil
}

// PermissionDecisions returns the permission log oldest first.
func (r *Rows) PermissionDecisions() []identity.PermissionDecision {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.decisions)
}

/* ==== security events ==== */

func (r *Rows) InsertEvent(ctx context.Context, e events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.eventIndex[e.ID]; dup {
		return fmt.Errorf("%w: event %s", backend.ErrConflict, e.ID)
	}
	r.eventIndex[e.ID] = len(r.events)
	r.events = append(r.events, e)
	return nil
}

func (r *Rows) QueryEvents(ctx context.Context, c events.Criteria) ([]events.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	matched := make([]events.Event, 0)
	for _, e := range r.events {
		if c.Matches(e) {
			matched = append(matched, e)
		}
	}
	r.mu.RUnlock()

	sortNewestFirst(matched)
	if limit := c.EffectiveLimit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *Rows) UnprocessedEvents(ctx context.Context, severities []events.Severity, limit int) ([]events.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	var out []events.Event
	for _, e := range r.events {
		if !e.Processed && slices.Contains(severities, e.Severity) {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()

	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Rows) MarkEventProcessed(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.eventIndex[id]
	if !ok {
		return backend.ErrNotFound
	}
	r.events[i].Processed = true
	return nil
}

// sortNewestFirst orders by timestamp, breaking ties on the sortable id.
func sortNewestFirst(es []events.Event) {
	slices.SortStableFunc(es, func(a, b events.Event) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
}

/* ==== notifications ==== */

// AddNotificationSetting subscribes an address to alert emails.
func (r *Rows) AddNotificationSetting(s events.NotificationSetting) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.NotifySeverity = slices.Clone(s.NotifySeverity)
	r.settings = append(r.settings, s)
}

func (r *Rows) NotificationSettings(ctx context.Context) ([]events.NotificationSetting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []events.NotificationSetting
	for _, s := range r.settings {
		if s.Enabled {
			s.NotifySeverity = slices.Clone(s.NotifySeverity)
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *Rows) RecordNotifications(ctx context.Context, n []events.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n...)
	return nil
}

// Notifications returns recorded notifications oldest first.
func (r *Rows) Notifications() []events.Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.notifications)
}
