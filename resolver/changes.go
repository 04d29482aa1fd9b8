package resolver

import (
	"context"
	"log/slog"

	"github.com/MrEthical07/goGuard/identity"
)

// enqueue runs on the credential store's goroutine, possibly while Login
// holds opMu, so it must never block.
func (r *Resolver) enqueue(ch identity.AuthChange) {
	r.queueMu.Lock()
	r.queue = append(r.queue, ch)
	r.queueMu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Resolver) run() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.wake:
		}
		for {
			r.queueMu.Lock()
			if len(r.queue) == 0 {
				r.queueMu.Unlock()
				break
			}
			ch := r.queue[0]
			r.queue = r.queue[1:]
			r.queueMu.Unlock()

			if r.ctx.Err() != nil {
				return
			}
			r.handle(ch)
		}
	}
}

// concerns reports whether ch is about this resolver's own session. Changes
// are matched on the tokens the resolver holds, so another client's session
// on the same store never reaches it. Sign-ins are never adopted: Login and
// Adopt load their own sessions.
func concerns(ch identity.AuthChange, sess *identity.Session) bool {
	if sess == nil {
		return false
	}
	switch ch.Kind {
	case identity.SignedIn:
		return false
	case identity.TokenRefreshed:
		return ch.Session != nil && ch.RefreshToken != "" && ch.RefreshToken == sess.RefreshToken
	}
	if ch.AccessToken != "" {
		return ch.AccessToken == sess.AccessToken
	}
	// A change without a token applies to every session of the user.
	return ch.UserID != "" && ch.UserID == sess.User.ID
}

func (r *Resolver) handle(ch identity.AuthChange) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	sess, _ := r.currentSession()
	if !concerns(ch, sess) {
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.LoadTimeout)
	defer cancel()

	switch ch.Kind {
	case identity.TokenRefreshed:
		r.mu.Lock()
		if r.session != nil && !r.closed {
			r.session = ch.Session
		}
		r.mu.Unlock()
	case identity.UserUpdated:
		if err := r.reload(ctx); err != nil {
			r.logger.Warn("goguard: reload after user update failed", slog.Any("error", err))
		}
	case identity.SignedOut:
		if uid := r.clear(""); uid != "" {
			r.cache.Invalidate(uid)
		}
	}
}
