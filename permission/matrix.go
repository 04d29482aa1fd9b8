package permission

import "github.com/MrEthical07/goGuard/identity"

// Resource names used by the dashboard.
const (
	ResourceUsers          = "users"
	ResourceSettings       = "settings"
	ResourceReports        = "reports"
	ResourceCampaigns      = "campaigns"
	ResourceReviews        = "reviews"
	ResourceOutlets        = "outlets"
	ResourceProfile        = "profile"
	ResourceQRCodes        = "qr_codes"
	ResourceAnalytics      = "analytics"
	ResourceTemplates      = "templates"
	ResourceAllFeatures    = "all_features"
	ResourceSystemSettings = "system_settings"
)

// Resources lists every known resource in registration order.
var Resources = []string{
	ResourceUsers,
	ResourceSettings,
	ResourceReports,
	ResourceCampaigns,
	ResourceReviews,
	ResourceOutlets,
	ResourceProfile,
	ResourceQRCodes,
	ResourceAnalytics,
	ResourceTemplates,
	ResourceAllFeatures,
	ResourceSystemSettings,
}

// IsSensitive marks resources whose denial is a HIGH severity event.
func IsSensitive(resource string) bool {
	r := normalize(resource)
	return r == ResourceSystemSettings || r == ResourceAllFeatures
}

var defaultResources = func() *ResourceSet {
	s, err := NewResourceSet(Resources...)
	if err != nil {
		panic(err)
	}
	return s
}()

// Matrix is the synchronous role heuristic. The action is not consulted.
type Matrix struct {
	rules *RuleSet
}

// NewMatrix returns the default heuristic: super_admin everything, admin
// users/settings/reports, merchant campaigns/reviews/outlets, customer
// nothing.
func NewMatrix() *Matrix {
	return &Matrix{rules: mustRuleSet(
		Grant{Subject: string(identity.RoleSuperAdmin), Root: true},
		Grant{Subject: string(identity.RoleAdmin), Resources: []string{ResourceUsers, ResourceSettings, ResourceReports}},
		Grant{Subject: string(identity.RoleMerchant), Resources: []string{ResourceCampaigns, ResourceReviews, ResourceOutlets}},
	)}
}

// HasPermission reports whether role may perform action on resource.
func (m *Matrix) HasPermission(role identity.Role, resource, action string) bool {
	if m == nil || !role.Valid() {
		return false
	}
	return m.rules.Allows(string(role), resource)
}

// Resources lists the known resources role may see, in declaration order.
func (m *Matrix) Resources(role identity.Role) []string {
	if m == nil || !role.Valid() {
		return nil
	}
	return m.rules.Granted(string(role))
}
