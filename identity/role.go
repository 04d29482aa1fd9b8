package identity

import "strings"

// Role is an authorization level granted to an account.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleMerchant   Role = "merchant"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// ParseRole maps a stored role name onto a known Role. Unknown names report
// false and map to RoleCustomer.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleSuperAdmin:
		return RoleSuperAdmin, true
	case RoleAdmin:
		return RoleAdmin, true
	case RoleMerchant:
		return RoleMerchant, true
	case RoleCustomer:
		return RoleCustomer, true
	default:
		return RoleCustomer, false
	}
}

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	return r.level() > 0
}

// AtLeast reports whether r meets or exceeds target in precedence.
func (r Role) AtLeast(target Role) bool {
	return r.level() >= target.level()
}

func (r Role) String() string {
	return string(r)
}

func (r Role) level() int {
	switch r {
	case RoleSuperAdmin:
		return 40
	case RoleAdmin:
		return 30
	case RoleMerchant:
		return 20
	case RoleCustomer:
		return 10
	default:
		return 0
	}
}

// EffectiveRole picks the single role used for authorization when a user
// holds several assignments: super_admin > admin > merchant > customer.
// An empty or all-unknown set yields RoleCustomer.
func EffectiveRole(roles ...Role) Role {
	best := RoleCustomer
	for _, r := range roles {
		if r.level() > best.level() {
			best = r
		}
	}
	return best
}

// IsPrivileged reports whether r is admin or super_admin. Privileged roles
// must have MFA enabled.
func (r Role) IsPrivileged() bool {
	return r.AtLeast(RoleAdmin)
}
