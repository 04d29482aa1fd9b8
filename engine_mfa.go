package goGuard

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goGuard/events"
	"github.com/MrEthical07/goGuard/mfa"
)

// MFAStatus is the second-factor state of the authenticated user.
type MFAStatus struct {
	State    mfa.State `json:"state"`
	Enabled  bool      `json:"enabled"`
	Required bool      `json:"required"`
}

// SetupMFA generates a candidate secret for the bearer of accessToken.
// Nothing is stored until ConfirmMFA.
func (e *Engine) SetupMFA(ctx context.Context, accessToken string) (mfa.Setup, error) {
	if err := e.ready(); err != nil {
		return mfa.Setup{}, err
	}
	user, ctx, err := e.authenticate(ctx, accessToken)
	if err != nil {
		return mfa.Setup{}, err
	}
	return e.mfa.GenerateSecret(ctx, user.ID, user.Email)
}

// ConfirmMFA enrolls secret once code proves the authenticator works. The
// recovery codes are returned exactly once.
func (e *Engine) ConfirmMFA(ctx context.Context, accessToken, secret, code string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	user, ctx, err := e.authenticate(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	codes, err := e.mfa.ConfirmEnrollment(ctx, user.ID, secret, code)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricMFAEnrolled)
	return codes, nil
}

// DisableMFA turns the second factor off unless the user's role requires
// it. A refused disable returns ErrMFARequired and logs a HIGH event.
func (e *Engine) DisableMFA(ctx context.Context, accessToken string) error {
	if err := e.ready(); err != nil {
		return err
	}
	user, ctx, err := e.authenticate(ctx, accessToken)
	if err != nil {
		return err
	}

	required, err := e.mfa.IsRequired(ctx, user.ID)
	if err != nil {
		// Without the roles the policy cannot be evaluated; refuse.
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if required {
		e.metrics.Inc(MetricMFADisableBlocked)
		e.events.Log(ctx, EventMFADisableBlocked, events.High, map[string]any{
			"reason": "role requires multi-factor authentication",
		})
		return ErrMFARequired
	}

	if err := e.mfa.Disable(ctx, user.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	e.metrics.Inc(MetricMFADisabled)
	return nil
}

// RegenerateRecoveryCodes replaces every recovery code. Returns
// mfa.ErrNotEnrolled when MFA is off.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, accessToken string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	user, ctx, err := e.authenticate(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	codes, err := e.mfa.RegenerateRecoveryCodes(ctx, user.ID)
	if err != nil {
		if errors.Is(err, mfa.ErrNotEnrolled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	e.metrics.Inc(MetricRecoveryCodesRegenerated)
	return codes, nil
}

func (e *Engine) MFAStatus(ctx context.Context, accessToken string) (MFAStatus, error) {
	if err := e.ready(); err != nil {
		return MFAStatus{}, err
	}
	user, ctx, err := e.authenticate(ctx, accessToken)
	if err != nil {
		return MFAStatus{}, err
	}
	st, err := e.mfa.State(ctx, user.ID)
	if err != nil {
		return MFAStatus{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	required, err := e.mfa.IsRequired(ctx, user.ID)
	if err != nil {
		return MFAStatus{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return MFAStatus{
		State:    st,
		Enabled:  st == mfa.StateEnrolled,
		Required: required,
	}, nil
}
