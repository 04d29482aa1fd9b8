package resolver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/goGuard/backend"
	"github.com/MrEthical07/goGuard/identity"
)

// RowSource is the part of the row store a Loader reads.
type RowSource interface {
	backend.RoleStore
	backend.ProfileStore
}

// Loader resolves an access token to an authenticated State. It never
// mutates anything and is safe for concurrent use.
type Loader struct {
	creds  backend.CredentialStore
	rows   RowSource
	logger *slog.Logger
	now    func() time.Time
}

func NewLoader(creds backend.CredentialStore, rows RowSource, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{creds: creds, rows: rows, logger: logger, now: time.Now}
}

// Load fetches identity, roles and profile. Only the identity lookup can
// fail the load; roles fall back to the provider-embedded role and the
// profile to a synthesized minimal one.
func (l *Loader) Load(ctx context.Context, accessToken string) (State, error) {
	if accessToken == "" {
		return State{Status: StatusAnonymous}, ErrNoSession
	}
	user, err := l.creds.User(ctx, accessToken)
	if err != nil {
		return State{Status: StatusAnonymous}, err
	}
	return l.complete(ctx, user), nil
}

func (l *Loader) complete(ctx context.Context, user identity.User) State {
	st := State{Status: StatusAuthenticated, User: user}

	embedded := user.Role
	if !embedded.Valid() {
		embedded = identity.RoleCustomer
	}
	roles, err := l.rows.UserRoles(ctx, user.ID)
	switch {
	case err != nil:
		l.logger.Warn("goguard: role lookup failed, using embedded role",
			slog.String("user_id", user.ID), slog.Any("error", err))
		roles = []identity.Role{embedded}
		st.Degraded = true
	case len(roles) == 0:
		roles = []identity.Role{embedded}
	}
	st.Roles = roles
	st.Role = identity.EffectiveRole(roles...)

	profile, err := l.rows.Profile(ctx, user.ID)
	if err != nil {
		if !errors.Is(err, backend.ErrNotFound) {
			l.logger.Warn("goguard: profile lookup failed, using minimal profile",
				slog.String("user_id", user.ID), slog.Any("error", err))
			st.Degraded = true
		}
		profile = identity.MinimalProfile(user, st.Role, l.now())
	}
	st.Profile = &profile
	return st
}
