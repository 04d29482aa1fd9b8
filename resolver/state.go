package resolver

import (
	"slices"

	"github.com/MrEthical07/goGuard/identity"
)

// Status is the resolver lifecycle position.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// State is an immutable snapshot. Role and Profile are always set when
// Status is StatusAuthenticated.
type State struct {
	Status  Status
	User    identity.User
	Role    identity.Role
	Roles   []identity.Role
	Profile *identity.MerchantProfile
	// Degraded is true when roles or profile came from a fallback because
	// the row store failed.
	Degraded bool
	// Error is the caller-safe message of the last failed operation.
	Error string
	// Version is the load token this snapshot was produced by.
	Version uint64
}

func (s State) Authenticated() bool { return s.Status == StatusAuthenticated }

// Settled reports whether the state is no longer Idle or Loading.
func (s State) Settled() bool {
	return s.Status == StatusAuthenticated || s.Status == StatusAnonymous
}

func (s State) HasRole(r identity.Role) bool {
	return s.Authenticated() && slices.Contains(s.Roles, r)
}

func (s State) HasMerchantRole() bool { return s.HasRole(identity.RoleMerchant) }

// HasAdminRole is true for admins and super admins.
func (s State) HasAdminRole() bool {
	return s.HasRole(identity.RoleAdmin) || s.HasRole(identity.RoleSuperAdmin)
}

func (s State) HasSuperAdminRole() bool { return s.HasRole(identity.RoleSuperAdmin) }

func (s State) clone() State {
	s.Roles = slices.Clone(s.Roles)
	if s.Profile != nil {
		p := *s.Profile
		s.Profile = &p
	}
	return s
}
