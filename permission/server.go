package permission

import (
	"slices"

	"github.com/MrEthical07/goGuard/identity"
)

const tierSubjectPrefix = "tier:"

// Decision is the authoritative outcome for one request.
type Decision struct {
	Granted bool
	Roles   []identity.Role
	// Reason names the role or tier that granted access, or "no_matching_grant".
	Reason string
}

// ServerPolicy is the authoritative decider. Access is granted when any held
// role grants it; subscription tiers extend merchant grants only.
type ServerPolicy struct {
	rules *RuleSet
}

// NewServerPolicy returns the default policy:
//
//	super_admin  every resource
//	admin        every resource except system_settings
//	merchant     profile, outlets, qr_codes, reviews
//	  premium    + campaigns, analytics, templates
//	  pro        + all_features
//	customer     reviews, profile
func NewServerPolicy() *ServerPolicy {
	return &ServerPolicy{rules: mustRuleSet(
		Grant{Subject: string(identity.RoleSuperAdmin), Root: true},
		Grant{Subject: string(identity.RoleAdmin), AllExcept: true, Resources: []string{ResourceSystemSettings}},
		Grant{Subject: string(identity.RoleMerchant), Resources: []string{ResourceProfile, ResourceOutlets, ResourceQRCodes, ResourceReviews}},
		Grant{Subject: tierSubjectPrefix + identity.TierPremium, Resources: []string{ResourceCampaigns, ResourceAnalytics, ResourceTemplates}},
		Grant{Subject: tierSubjectPrefix + identity.TierPro, Resources: []string{ResourceAllFeatures}},
		Grant{Subject: string(identity.RoleCustomer), Resources: []string{ResourceReviews, ResourceProfile}},
	)}
}

// Decide evaluates roles in precedence order. tier is the merchant
// subscription tier and may be empty.
func (p *ServerPolicy) Decide(roles []identity.Role, tier, resource, action string) Decision {
	d := Decision{Roles: roles, Reason: "no_matching_grant"}
	if p == nil {
		return d
	}

	ordered := slices.Clone(roles)
	slices.SortFunc(ordered, func(a, b identity.Role) int {
		switch {
		case a.AtLeast(b) && !b.AtLeast(a):
			return -1
		case b.AtLeast(a) && !a.AtLeast(b):
			return 1
		default:
			return 0
		}
	})

	for _, r := range ordered {
		if !r.Valid() {
			continue
		}
		if p.rules.Allows(string(r), resource) {
			d.Granted = true
			d.Reason = string(r)
			return d
		}
		if r == identity.RoleMerchant && tier != "" && p.rules.Allows(tierSubjectPrefix+tier, resource) {
			d.Granted = true
			d.Reason = tierSubjectPrefix + tier
			return d
		}
	}
	return d
}
