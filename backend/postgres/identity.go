package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goGuard/backend"
	"github.com/MrEthical07/goGuard/identity"
)

// UserRoles skips stored names that are not known roles.
func (s *Store) UserRoles(ctx context.Context, userID string) ([]identity.Role, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select role from user_roles
		where user_id = $1
		order by created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []identity.Role
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if r, ok := identity.ParseRole(name); ok {
			roles = append(roles, r)
		}
	}
	return roles, rows.Err()
}

func (s *Store) AssignRole(ctx context.Context, userID string, role identity.Role) error {
	if err := s.ready(); err != nil {
		return err
	}
	if !role.Valid() {
		return fmt.Errorf("%w: role %q", backend.ErrUnsupported, role)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role)
		values ($1, $2)
		on conflict (user_id, role) do nothing
	`, userID, string(role))
	return mapErr(err)
}

func (s *Store) Profile(ctx context.Context, userID string) (identity.MerchantProfile, error) {
	if err := s.ready(); err != nil {
		return identity.MerchantProfile{}, err
	}
	var (
		p         identity.MerchantProfile
		role      string
		tier      sql.NullString
		lastLogin sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, business_name, contact_name, role, subscription_tier,
		       status, mfa_enabled, last_login_at, failed_login_attempts, created_at
		from merchant_profiles
		where user_id = $1
	`, userID).Scan(&p.ID, &p.UserID, &p.BusinessName, &p.ContactName, &role, &tier,
		&p.Status, &p.MFAEnabled, &lastLogin, &p.FailedLoginAttempts, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.MerchantProfile{}, backend.ErrNotFound
	}
	if err != nil {
		return identity.MerchantProfile{}, err
	}
	p.Role, _ = identity.ParseRole(role)
	p.SubscriptionTier = tier.String
	if lastLogin.Valid {
		t := lastLogin.Time
		p.LastLoginAt = &t
	}
	return p, nil
}

func (s *Store) CreateProfile(ctx context.Context, p identity.MerchantProfile) error {
	if err := s.ready(); err != nil {
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
	if !p.Role.Valid() {
		p.Role = identity.RoleMerchant
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into merchant_profiles
			(id, user_id, business_name, contact_name, role, subscription_tier,
			 status, mfa_enabled, failed_login_attempts, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, p.ID, p.UserID, p.BusinessName, p.ContactName, string(p.Role), nullIfEmpty(p.SubscriptionTier),
		p.Status, p.MFAEnabled, p.FailedLoginAttempts, p.CreatedAt)
	return mapErr(err)
}

func (s *Store) TouchLogin(ctx context.Context, userID string, success bool, at time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	var (
		res sql.Result
		err error
	)
	if success {
		res, err = s.db.ExecContext(ctx, `
			update merchant_profiles
			set last_login_at = $2, failed_login_attempts = 0
			where user_id = $1
		`, userID, at)
	} else {
		res, err = s.db.ExecContext(ctx, `
			update merchant_profiles
			set failed_login_attempts = failed_login_attempts + 1
			where user_id = $1
		`, userID)
	}
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return backend.ErrNotFound
	}
	return nil
}

func (s *Store) MFAEnrollment(ctx context.Context, userID string) (identity.MFAEnrollment, error) {
	if err := s.ready(); err != nil {
		return identity.MFAEnrollment{}, err
	}
	var (
		e                  identity.MFAEnrollment
		rawHashes          []byte
		enrolled, disabled sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select secret, recovery_code_hashes, enabled, enrolled_at, disabled_at
		from mfa_enrollments
		where user_id = $1
	`, userID).Scan(&e.Secret, &rawHashes, &e.Enabled, &enrolled, &disabled)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.MFAEnrollment{}, backend.ErrNotFound
	}
	if err != nil {
		return identity.MFAEnrollment{}, err
	}
	if len(rawHashes) > 0 {
		if err := json.Unmarshal(rawHashes, &e.RecoveryCodeHashes); err != nil {
			return identity.MFAEnrollment{}, fmt.Errorf("decode recovery codes: %w", err)
		}
	}
	e.EnrolledAt = enrolled.Time
	e.DisabledAt = disabled.Time
	return e, nil
}

const upsertEnrollment = `
	insert into mfa_enrollments (user_id, secret, recovery_code_hashes, enabled, enrolled_at, disabled_at, updated_at)
	values ($1, $2, $3, $4, $5, $6, $7)
	on conflict (user_id) do update set
		secret = excluded.secret,
		recovery_code_hashes = excluded.recovery_code_hashes,
		enabled = excluded.enabled,
		enrolled_at = excluded.enrolled_at,
		disabled_at = excluded.disabled_at,
		updated_at = excluded.updated_at
`

const setProfileMFA = `update merchant_profiles set mfa_enabled = $2 where user_id = $1`

// SaveMFAEnrollment writes the enrollment and the profile flag in one
// transaction.
func (s *Store) SaveMFAEnrollment(ctx context.Context, userID string, e identity.MFAEnrollment) error {
	if err := s.ready(); err != nil {
		return err
	}
	hashes := e.RecoveryCodeHashes
	if hashes == nil {
		hashes = []string{}
	}
	raw, err := json.Marshal(hashes)
	if err != nil {
		return fmt.Errorf("encode recovery codes: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertEnrollment, userID, e.Secret, raw, e.Enabled,
			nullTime(e.EnrolledAt), nullTime(e.DisabledAt), s.now()); err != nil {
			return mapErr(err)
		}
		_, err := tx.ExecContext(ctx, setProfileMFA, userID, e.Enabled)
		return err
	})
}

// ConsumeRecoveryCode removes hash in a single conditional update so two
// concurrent redemptions cannot both succeed.
func (s *Store) ConsumeRecoveryCode(ctx context.Context, userID, hash string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		update mfa_enrollments
		set recovery_code_hashes = recovery_code_hashes - $2::text, updated_at = $3
		where user_id = $1 and jsonb_exists(recovery_code_hashes, $2::text)
	`, userID, hash, s.now())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) ClearMFAEnrollment(ctx context.Context, userID string, at time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			insert into mfa_enrollments (user_id, secret, recovery_code_hashes, enabled, disabled_at, updated_at)
			values ($1, '', '[]'::jsonb, false, $2, $2)
			on conflict (user_id) do update set
				secret = '',
				recovery_code_hashes = '[]'::jsonb,
				enabled = false,
				disabled_at = excluded.disabled_at,
				updated_at = excluded.updated_at
		`, userID, at); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, setProfileMFA, userID, false)
		return err
	})
}

func (s *Store) RecordLoginAttempt(ctx context.Context, rec identity.LoginRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into login_history (user_id, email, success, ip_address, user_agent, location, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, rec.UserID, rec.Email, rec.Success, nullIfEmpty(rec.IPAddress), nullIfEmpty(rec.UserAgent),
		nullIfEmpty(rec.Location), rec.CreatedAt)
	return err
}

func (s *Store) LoginHistory(ctx context.Context, userID string, limit int, successOnly bool) ([]identity.LoginRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select user_id, email, success, ip_address, user_agent, location, created_at
		from login_history
		where user_id = $1 and (not $2 or success)
		order by created_at desc, id desc
		limit $3
	`, userID, successOnly, nullLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []identity.LoginRecord
	for rows.Next() {
		var (
			rec         identity.LoginRecord
			ip, ua, loc sql.NullString
		)
		if err := rows.Scan(&rec.UserID, &rec.Email, &rec.Success, &ip, &ua, &loc, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.IPAddress, rec.UserAgent, rec.Location = ip.String, ua.String, loc.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) LogPermissionDecision(ctx context.Context, d identity.PermissionDecision) error {
	if err := s.ready(); err != nil {
		return err
	}
	if d.CheckedAt.IsZero() {
		d.CheckedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into permission_logs (user_id, resource, action, granted, role, reason, checked_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, d.UserID, d.Resource, d.Action, d.Granted, string(d.Role), nullIfEmpty(d.Reason), d.CheckedAt)
	return err
}
