package permission

import (
	"testing"

	"github.com/MrEthical07/goGuard/identity"
)

func TestMatrixHeuristic(t *testing.T) {
	m := NewMatrix()
	cases := []struct {
		role     identity.Role
		resource string
		want     bool
	}{
		{identity.RoleSuperAdmin, ResourceSystemSettings, true},
		{identity.RoleSuperAdmin, "anything_new", true},
		{identity.RoleAdmin, ResourceUsers, true},
		{identity.RoleAdmin, ResourceSettings, true},
		{identity.RoleAdmin, ResourceReports, true},
		{identity.RoleAdmin, ResourceCampaigns, false},
		{identity.RoleMerchant, ResourceCampaigns, true},
		{identity.RoleMerchant, ResourceReviews, true},
		{identity.RoleMerchant, ResourceOutlets, true},
		{identity.RoleMerchant, ResourceUsers, false},
		{identity.RoleCustomer, ResourceReviews, false},
		{identity.Role("ghost"), ResourceReviews, false},
	}
	for _, tc := range cases {
		if got := m.HasPermission(tc.role, tc.resource, "read"); got != tc.want {
			t.Fatalf("HasPermission(%s, %s) = %v, want %v", tc.role, tc.resource, got, tc.want)
		}
	}
}

func TestServerPolicy(t *testing.T) {
	p := NewServerPolicy()
	merchant := []identity.Role{identity.RoleMerchant}
	cases := []struct {
		name     string
		roles    []identity.Role
		tier     string
		resource string
		want     bool
	}{
		{"super admin system settings", []identity.Role{identity.RoleSuperAdmin}, "", ResourceSystemSettings, true},
		{"admin unknown resource", []identity.Role{identity.RoleAdmin}, "", "billing", true},
		{"admin system settings", []identity.Role{identity.RoleAdmin}, "", ResourceSystemSettings, false},
		{"admin plus merchant system settings", []identity.Role{identity.RoleMerchant, identity.RoleAdmin}, "pro", ResourceSystemSettings, false},
		{"merchant basic", merchant, "", ResourceQRCodes, true},
		{"merchant campaigns without tier", merchant, "basic", ResourceCampaigns, false},
		{"merchant premium campaigns", merchant, identity.TierPremium, ResourceCampaigns, true},
		{"merchant premium analytics", merchant, identity.TierPremium, ResourceAnalytics, true},
		{"merchant premium all features", merchant, identity.TierPremium, ResourceAllFeatures, false},
		{"merchant pro all features", merchant, identity.TierPro, ResourceAllFeatures, true},
		{"merchant pro campaigns", merchant, identity.TierPro, ResourceCampaigns, false},
		{"customer reviews", []identity.Role{identity.RoleCustomer}, "", ResourceReviews, true},
		{"customer profile", []identity.Role{identity.RoleCustomer}, "", ResourceProfile, true},
		{"customer tier ignored", []identity.Role{identity.RoleCustomer}, identity.TierPremium, ResourceCampaigns, false},
		{"no roles", nil, "", ResourceProfile, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := p.Decide(tc.roles, tc.tier, tc.resource, "read")
			if d.Granted != tc.want {
				t.Fatalf("Decide = %+v, want granted=%v", d, tc.want)
			}
			if !d.Granted && d.Reason != "no_matching_grant" {
				t.Fatalf("unexpected denial reason %q", d.Reason)
			}
		})
	}
}

func TestServerPolicyReportsGrantingSubject(t *testing.T) {
	p := NewServerPolicy()
	d := p.Decide([]identity.Role{identity.RoleMerchant}, identity.TierPremium, ResourceTemplates, "write")
	if d.Reason != "tier:premium" {
		t.Fatalf("expected tier reason, got %q", d.Reason)
	}
	d = p.Decide([]identity.Role{identity.RoleCustomer, identity.RoleSuperAdmin}, "", ResourceReviews, "read")
	if d.Reason != "super_admin" {
		t.Fatalf("expected highest role to be evaluated first, got %q", d.Reason)
	}
}

func TestIsSensitive(t *testing.T) {
	if !IsSensitive("System_Settings") || !IsSensitive(ResourceAllFeatures) || IsSensitive(ResourceReviews) {
		t.Fatal("unexpected sensitivity classification")
	}
}
