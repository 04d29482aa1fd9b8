package goGuard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrEthical07/goGuard/backend"
	"github.com/MrEthical07/goGuard/events"
	"github.com/MrEthical07/goGuard/identity"
	"github.com/MrEthical07/goGuard/password"
	"github.com/google/uuid"
)

// SignUpRequest is a new merchant account.
type SignUpRequest struct {
	Email        string
	Password     string
	FirstName    string
	LastName     string
	BusinessName string
	// RedirectTo is the confirmation link target for providers that
	// confirm emails.
	RedirectTo string
}

// SignUpResult carries the new account. Session is nil when the provider
// requires email confirmation first. Profile is nil when it could not be
// created; the account exists regardless.
type SignUpResult struct {
	User    identity.User
	Session *identity.Session
	Profile *identity.MerchantProfile
}

// SignUp registers a merchant: signup policy keyed by client IP, password
// policy, credential store, then the merchant profile and role row.
func (e *Engine) SignUp(ctx context.Context, req SignUpRequest) (SignUpResult, error) {
	if err := e.ready(); err != nil {
		return SignUpResult{}, err
	}
	email := normalizeEmail(req.Email)
	if email == "" {
		return SignUpResult{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	ip := clientIPFromContext(ctx)

	if err := e.allow(ctx, e.config.RateLimit.Signup, ip, EventSignupRateLimited, events.Medium, map[string]any{
		"email":      email,
		"ip_address": ip,
	}); err != nil {
		e.metrics.Inc(MetricSignupRateLimited)
		return SignUpResult{}, err
	}

	if err := e.checkPassword(ctx, req.Password, "signup"); err != nil {
		return SignUpResult{}, err
	}

	user, sess, err := e.backend.Credentials.SignUp(ctx, backend.SignUpRequest{
		Email:    email,
		Password: req.Password,
		Metadata: map[string]string{
			"first_name":    strings.TrimSpace(req.FirstName),
			"last_name":     strings.TrimSpace(req.LastName),
			"business_name": strings.TrimSpace(req.BusinessName),
			"role":          string(identity.RoleMerchant),
		},
		RedirectTo: req.RedirectTo,
	})
	if err != nil {
		e.metrics.Inc(MetricSignupFailure)
		e.events.Log(ctx, EventSignupFailed, events.Medium, map[string]any{
			"email":      email,
			"ip_address": ip,
			"error":      err.Error(),
		})
		switch {
		case errors.Is(err, backend.ErrConflict):
			return SignUpResult{}, ErrAccountExists
		case errors.Is(err, backend.ErrInvalidCredentials):
			return SignUpResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		default:
			return SignUpResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	ctx = events.WithActor(ctx, events.Actor{UserID: user.ID})
	result := SignUpResult{User: user, Session: sess}

	profile := identity.MerchantProfile{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		BusinessName: strings.TrimSpace(req.BusinessName),
		ContactName:  strings.TrimSpace(strings.TrimSpace(req.FirstName) + " " + strings.TrimSpace(req.LastName)),
		Role:         identity.RoleMerchant,
		Status:       identity.ProfileActive,
		CreatedAt:    e.now(),
	}
	if err := e.backend.Rows.CreateProfile(ctx, profile); err != nil {
		e.events.Log(ctx, EventProfileCreationFailed, events.High, map[string]any{"error": err.Error()})
	} else {
		result.Profile = &profile
		e.events.Log(ctx, EventProfileCreated, events.Low, map[string]any{"business_name": profile.BusinessName})
	}
	if err := e.backend.Rows.AssignRole(ctx, user.ID, identity.RoleMerchant); err != nil && !errors.Is(err, backend.ErrConflict) {
		e.logger.Warn("goguard: merchant role assignment failed", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	e.metrics.Inc(MetricSignupSuccess)
	e.events.Log(ctx, EventSignupSuccessful, events.Low, map[string]any{
		"email":                email,
		"confirmation_pending": sess == nil,
	})
	return result, nil
}

// RequestPasswordReset sends a reset link. The password_reset policy is
// keyed by email. redirectTo defaults to SiteURL + "/reset-password".
func (e *Engine) RequestPasswordReset(ctx context.Context, email, redirectTo string) error {
	if err := e.ready(); err != nil {
		return err
	}
	email = normalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if redirectTo == "" {
		redirectTo = strings.TrimRight(e.config.Backend.SiteURL, "/") + "/reset-password"
	}

	if err := e.allow(ctx, e.config.RateLimit.PasswordReset, email, EventPasswordResetRateLimited, events.Medium, map[string]any{
		"email": email,
	}); err != nil {
		e.metrics.Inc(MetricPasswordResetRateLimited)
		return err
	}

	if err := e.backend.Credentials.ResetPasswordForEmail(ctx, email, redirectTo); err != nil {
		e.events.Log(ctx, EventPasswordResetFailed, events.Medium, map[string]any{
			"email": email,
			"error": err.Error(),
		})
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metrics.Inc(MetricPasswordResetRequested)
	e.events.Log(ctx, EventPasswordResetRequested, events.Medium, map[string]any{"email": email})
	return nil
}

// UpdatePassword changes the password of the bearer of accessToken.
func (e *Engine) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	user, ctx, err := e.authenticate(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := e.checkPassword(ctx, newPassword, "update"); err != nil {
		return err
	}

	if err := e.backend.Credentials.UpdatePassword(ctx, accessToken, newPassword); err != nil {
		e.events.Log(ctx, EventPasswordUpdateFailed, events.High, map[string]any{"error": err.Error()})
		if errors.Is(err, backend.ErrUnauthorized) {
			return ErrUnauthenticated
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metrics.Inc(MetricPasswordUpdated)
	e.events.Log(ctx, EventPasswordUpdated, events.Medium, map[string]any{"email": user.Email})
	return nil
}

// OAuthURL returns the provider authorization URL.
func (e *Engine) OAuthURL(provider, redirectTo string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if strings.TrimSpace(provider) == "" {
		return "", fmt.Errorf("%w: provider is required", ErrInvalidInput)
	}
	if redirectTo == "" {
		redirectTo = strings.TrimRight(e.config.Backend.SiteURL, "/") + "/auth/callback"
	}
	return e.backend.Credentials.OAuthURL(provider, redirectTo)
}

func (e *Engine) checkPassword(ctx context.Context, pw, stage string) error {
	if !e.config.Password.EnforcePolicy {
		if strings.TrimSpace(pw) == "" {
			return &password.PolicyError{Category: password.CategoryEmpty, Reasons: []string{"Password cannot be empty"}}
		}
		return nil
	}
	err := password.Check(pw)
	if err == nil {
		return nil
	}
	var pe *password.PolicyError
	if errors.As(err, &pe) {
		e.metrics.Inc(MetricPasswordPolicyRejected)
		e.events.Log(ctx, EventPasswordPolicyRejected, events.Low, map[string]any{
			"category": string(pe.Category),
			"stage":    stage,
		})
	}
	return err
}

// authenticate resolves the bearer of accessToken and attributes ctx to it.
func (e *Engine) authenticate(ctx context.Context, accessToken string) (identity.User, context.Context, error) {
	if accessToken == "" {
		return identity.User{}, ctx, ErrUnauthenticated
	}
	user, err := e.backend.Credentials.User(ctx, accessToken)
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			return identity.User{}, ctx, ErrUnauthenticated
		}
		return identity.User{}, ctx, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return user, events.WithActor(ctx, events.Actor{UserID: user.ID}), nil
}
