package goGuard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrEthical07/goGuard/backend"
	"github.com/MrEthical07/goGuard/events"
	"github.com/MrEthical07/goGuard/identity"
	"github.com/MrEthical07/goGuard/internal"
)

// Login exchanges credentials for a session.
//
// Flow:
//   - login policy keyed by "email|ip"
//   - credential store sign-in
//   - second factor: accounts with MFA get *MFARequiredError instead of a
//     session and finish with VerifyMFALogin
//   - suspicious-login analysis, login history and profile bookkeeping
//
// Every credential failure returns ErrInvalidCredentials, whether the email
// is unknown or the password is wrong.
func (e *Engine) Login(ctx context.Context, email, password string) (*identity.Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	defer e.metrics.Time(MetricLoginLatency)()

	email = normalizeEmail(email)
	ip := clientIPFromContext(ctx)

	if email == "" || password == "" {
		e.metrics.Inc(MetricLoginFailure)
		e.events.Log(ctx, EventLoginFailed, events.Medium, map[string]any{"email": email, "ip_address": ip})
		return nil, ErrInvalidCredentials
	}

	if err := e.allow(ctx, e.config.RateLimit.Login, email+"|"+ip, EventLoginRateLimited, events.Medium, map[string]any{
		"email":      email,
		"ip_address": ip,
	}); err != nil {
		e.metrics.Inc(MetricLoginRateLimited)
		return nil, err
	}

	sess, err := e.backend.Credentials.SignIn(ctx, email, password)
	if err != nil {
		e.metrics.Inc(MetricLoginFailure)
		if !errors.Is(err, backend.ErrInvalidCredentials) {
			e.logger.Warn("goguard: sign in failed upstream", slog.Any("error", err))
		}
		e.events.Log(ctx, EventLoginFailed, events.Medium, map[string]any{"email": email, "ip_address": ip})
		e.recordFailedLogin(ctx, email)
		return nil, ErrInvalidCredentials
	}

	ctx = events.WithActor(ctx, events.Actor{UserID: sess.User.ID})

	enabled, err := e.mfa.IsEnabled(ctx, sess.User.ID)
	if err != nil {
		e.logger.Warn("goguard: mfa state lookup failed", slog.String("user_id", sess.User.ID), slog.Any("error", err))
		e.discardSession(ctx, sess)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if enabled {
		return nil, e.challenge(ctx, sess)
	}

	e.loginSucceeded(ctx, sess, false)
	return sess, nil
}

// VerifyMFALogin completes a login challenge with a TOTP code.
func (e *Engine) VerifyMFALogin(ctx context.Context, challengeID, code string) (*identity.Session, error) {
	return e.completeMFALogin(ctx, challengeID, code, false)
}

// VerifyMFALoginRecovery completes a login challenge with a recovery code,
// consuming it.
func (e *Engine) VerifyMFALoginRecovery(ctx context.Context, challengeID, code string) (*identity.Session, error) {
	return e.completeMFALogin(ctx, challengeID, code, true)
}

// Logout signs the session out upstream and drops its cached grants. An
// already-invalid token counts as signed out.
func (e *Engine) Logout(ctx context.Context, sess *identity.Session) error {
	if err := e.ready(); err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	ctx = events.WithActor(ctx, events.Actor{UserID: sess.User.ID})
	e.cache.Invalidate(sess.User.ID)

	if err := e.backend.Credentials.SignOut(ctx, sess.AccessToken); err != nil && !errors.Is(err, backend.ErrUnauthorized) {
		e.events.Log(ctx, EventSignoutFailed, events.Medium, map[string]any{"error": err.Error()})
		return err
	}
	e.metrics.Inc(MetricLogout)
	e.events.Log(ctx, EventUserSignedOut, events.Low, nil)
	return nil
}

// LogoutToken is Logout for callers holding only the access token.
func (e *Engine) LogoutToken(ctx context.Context, accessToken string) error {
	if err := e.ready(); err != nil {
		return err
	}
	user, ctx, err := e.authenticate(ctx, accessToken)
	if err != nil {
		return err
	}
	return e.Logout(ctx, &identity.Session{AccessToken: accessToken, User: user})
}

// RefreshSession exchanges a refresh token for a new session.
func (e *Engine) RefreshSession(ctx context.Context, refreshToken string) (*identity.Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if refreshToken == "" {
		return nil, ErrUnauthenticated
	}
	sess, err := e.backend.Credentials.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return sess, nil
}

func (e *Engine) challenge(ctx context.Context, sess *identity.Session) error {
	id, err := internal.NewSessionID()
	if err != nil {
		e.discardSession(ctx, sess)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	expiresAt := e.now().Add(e.config.MFA.ChallengeTTL)
	record := &mfaLoginChallenge{
		Session:   *sess,
		ExpiresAt: expiresAt.Unix(),
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		record.UserAgentHash = internal.HashClientValue(ua)
	}
	if err := e.challenges.Save(ctx, id.String(), record, e.config.MFA.ChallengeTTL); err != nil {
		e.logger.Warn("goguard: mfa challenge save failed", slog.Any("error", err))
		e.discardSession(ctx, sess)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metrics.Inc(MetricLoginMFAChallenged)
	e.events.Log(ctx, EventLoginMFAChallenged, events.Low, map[string]any{"email": sess.User.Email})
	return &MFARequiredError{ChallengeID: id.String(), ExpiresAt: expiresAt}
}

func (e *Engine) completeMFALogin(ctx context.Context, challengeID, code string, recovery bool) (*identity.Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	defer e.metrics.Time(MetricMFAVerifyLatency)()
	if _, err := internal.ParseSessionID(challengeID); err != nil {
		return nil, ErrMFAChallengeInvalid
	}

	record, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		if errors.Is(err, errMFALoginChallengeBackend) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, ErrMFAChallengeInvalid
	}
	if !internal.SameClient(record.UserAgentHash, userAgentFromContext(ctx)) {
		return nil, ErrMFAChallengeInvalid
	}
	sess := &record.Session
	if !sess.Valid(e.now()) {
		_, _ = e.challenges.Delete(ctx, challengeID)
		return nil, ErrMFAChallengeInvalid
	}
	userID := sess.User.ID
	ctx = events.WithActor(ctx, events.Actor{UserID: userID})

	if err := e.allow(ctx, e.config.RateLimit.MFAVerify, userID, EventMFAAttemptsExceeded, events.Critical, nil); err != nil {
		var rl *RateLimitError
		if errors.As(err, &rl) {
			e.mfaExhausted(ctx, challengeID, sess)
		}
		return nil, err
	}

	var ok bool
	if recovery {
		ok, err = e.mfa.VerifyRecovery(ctx, userID, code)
	} else {
		ok, err = e.mfa.VerifyTOTP(ctx, userID, code)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		e.metrics.Inc(MetricMFALoginFailure)
		exceeded, ferr := e.challenges.RecordFailure(ctx, challengeID, e.config.MFA.ChallengeMaxAttempts)
		if ferr != nil {
			if errors.Is(ferr, errMFALoginChallengeBackend) {
				e.logger.Warn("goguard: mfa challenge failure not recorded", slog.Any("error", ferr))
				return nil, ErrMFACodeInvalid
			}
			return nil, ErrMFAChallengeInvalid
		}
		if exceeded {
			e.events.Log(ctx, EventMFAAttemptsExceeded, events.Critical, map[string]any{
				"challenge_attempts": e.config.MFA.ChallengeMaxAttempts,
			})
			e.metrics.Inc(MetricMFAAttemptsExceeded)
			e.discardSession(ctx, sess)
			return nil, ErrMFAChallengeInvalid
		}
		return nil, ErrMFACodeInvalid
	}

	// A concurrent completion may have won.
	deleted, err := e.challenges.Delete(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !deleted {
		return nil, ErrMFAChallengeInvalid
	}

	if recovery {
		e.metrics.Inc(MetricRecoveryCodeUsed)
	}
	e.metrics.Inc(MetricMFALoginSuccess)
	e.loginSucceeded(ctx, sess, true)
	return sess, nil
}

// mfaExhausted burns the challenge and revokes its session after the
// verification budget is spent. The limiter already logged the CRITICAL
// event.
func (e *Engine) mfaExhausted(ctx context.Context, challengeID string, sess *identity.Session) {
	e.metrics.Inc(MetricMFAAttemptsExceeded)
	if _, err := e.challenges.Delete(ctx, challengeID); err != nil {
		e.logger.Warn("goguard: mfa challenge delete failed", slog.Any("error", err))
	}
	e.discardSession(ctx, sess)
}

// loginSucceeded runs the bookkeeping of a released session. Pattern
// analysis must see the history before this attempt is recorded.
func (e *Engine) loginSucceeded(ctx context.Context, sess *identity.Session, viaMFA bool) {
	now := e.now()
	actor := events.ActorFromContext(ctx)
	rec := identity.LoginRecord{
		UserID:    sess.User.ID,
		Email:     sess.User.Email,
		Success:   true,
		IPAddress: clientIPFromContext(ctx),
		UserAgent: actor.UserAgent,
		Location:  locationFromContext(ctx),
		CreatedAt: now,
	}

	if e.patterns != nil {
		finding, err := e.patterns.Check(ctx, rec, now)
		switch {
		case err != nil:
			e.logger.Warn("goguard: login pattern check failed", slog.String("user_id", rec.UserID), slog.Any("error", err))
		case finding.Suspicious:
			e.metrics.Inc(MetricSuspiciousLogin)
			e.events.Log(ctx, EventSuspiciousLogin, events.High, map[string]any{
				"reason":     finding.Reason,
				"ip_address": rec.IPAddress,
				"user_agent": rec.UserAgent,
				"location":   rec.Location,
			})
		}
	}

	rows := e.backend.Rows
	if err := rows.RecordLoginAttempt(ctx, rec); err != nil {
		e.logger.Warn("goguard: login history write failed", slog.String("user_id", rec.UserID), slog.Any("error", err))
	}
	if err := rows.TouchLogin(ctx, rec.UserID, true, now); err != nil && !errors.Is(err, backend.ErrNotFound) {
		e.logger.Warn("goguard: profile login update failed", slog.String("user_id", rec.UserID), slog.Any("error", err))
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.events.Log(ctx, EventLoginSuccessful, events.Low, map[string]any{
		"email": sess.User.Email,
		"mfa":   viaMFA,
	})
}

// recordFailedLogin attributes a failure to a known account off the
// request path, so the response time does not reveal whether the email
// exists.
func (e *Engine) recordFailedLogin(ctx context.Context, email string) {
	dir, ok := e.backend.Credentials.(backend.UserDirectory)
	if !ok {
		return
	}
	actor := events.ActorFromContext(ctx)
	rec := identity.LoginRecord{
		Email:     email,
		IPAddress: clientIPFromContext(ctx),
		UserAgent: actor.UserAgent,
		Location:  locationFromContext(ctx),
		CreatedAt: e.now(),
	}
	e.goAsync(ctx, func(ctx context.Context) {
		id, err := dir.UserIDByEmail(ctx, email)
		if err != nil {
			if !errors.Is(err, backend.ErrNotFound) {
				e.logger.Warn("goguard: failed login lookup failed", slog.Any("error", err))
			}
			return
		}
		rec.UserID = id
		if err := e.backend.Rows.RecordLoginAttempt(ctx, rec); err != nil {
			e.logger.Warn("goguard: login history write failed", slog.String("user_id", id), slog.Any("error", err))
		}
		if err := e.backend.Rows.TouchLogin(ctx, id, false, rec.CreatedAt); err != nil && !errors.Is(err, backend.ErrNotFound) {
			e.logger.Warn("goguard: profile login update failed", slog.String("user_id", id), slog.Any("error", err))
		}
	})
}

// discardSession revokes a session that will never reach the caller.
func (e *Engine) discardSession(ctx context.Context, sess *identity.Session) {
	token := sess.AccessToken
	e.goAsync(ctx, func(ctx context.Context) {
		if err := e.backend.Credentials.SignOut(ctx, token); err != nil && !errors.Is(err, backend.ErrUnauthorized) {
			e.logger.Warn("goguard: discard session failed", slog.Any("error", err))
		}
	})
}
