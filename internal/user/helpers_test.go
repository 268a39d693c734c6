package user

import (
	"testing"

	"colloquy/api/internal/tenant"
)

func flaggedTenant(flags ...tenant.FeatureFlag) *tenant.Tenant {
	return &tenant.Tenant{ID: "tenant-1", FeatureFlags: flags}
}

func TestCanModerateNilUser(t *testing.T) {
	resource := ScopedResource{SiteID: "site-a"}
	if CanModerate(nil, resource, flaggedTenant()) {
		t.Error("nil user must never moderate")
	}
	if CanModerate(nil, resource, flaggedTenant(tenant.FlagSiteModerator)) {
		t.Error("nil user must never moderate, even with site moderation enabled")
	}
}

func TestCanModerateGlobalRoles(t *testing.T) {
	resource := ScopedResource{SiteID: "site-a"}
	cases := []struct {
		role  Role
		allow bool
	}{
		{RoleAdmin, true},
		{RoleModerator, true},
		{RoleStaff, false},
		{RoleMember, false},
		{RoleCommenter, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.role), func(t *testing.T) {
			u := &User{ID: "user-1", Role: tc.role}
			// Blanket authority must not depend on the feature flag state.
			for _, tn := range []*tenant.Tenant{flaggedTenant(), flaggedTenant(tenant.FlagSiteModerator)} {
				if got := CanModerate(u, resource, tn); got != tc.allow {
					t.Errorf("CanModerate(%s, flags=%v) = %v, want %v", tc.role, tn.FeatureFlags, got, tc.allow)
				}
			}
		})
	}
}

func TestCanModerateSiteScopeRequiresFlag(t *testing.T) {
	u := &User{
		ID:               "user-1",
		Role:             RoleCommenter,
		ModerationScopes: &ModerationScopes{SiteIDs: []string{"site-a"}},
	}
	resource := ScopedResource{SiteID: "site-a"}

	if CanModerate(u, resource, flaggedTenant()) {
		t.Error("site scope must not grant authority when the flag is disabled")
	}
	if !CanModerate(u, resource, flaggedTenant(tenant.FlagSiteModerator)) {
		t.Error("site scope should grant authority for the scoped site when the flag is enabled")
	}
}

func TestCanModerateSiteScopeIsSiteSpecific(t *testing.T) {
	u := &User{
		ID:               "user-1",
		Role:             RoleMember,
		ModerationScopes: &ModerationScopes{SiteIDs: []string{"site-a"}},
	}
	tn := flaggedTenant(tenant.FlagSiteModerator)

	if !CanModerate(u, ScopedResource{SiteID: "site-a"}, tn) {
		t.Error("scoped moderator should moderate site-a")
	}
	if CanModerate(u, ScopedResource{SiteID: "site-b"}, tn) {
		t.Error("scope for site-a must not grant authority over site-b")
	}
}

func TestHasModeratorRole(t *testing.T) {
	if HasModeratorRole(nil) {
		t.Error("nil user has no moderator role")
	}
	if !HasModeratorRole(&User{Role: RoleAdmin}) || !HasModeratorRole(&User{Role: RoleModerator}) {
		t.Error("admin and moderator carry blanket authority")
	}
	if HasModeratorRole(&User{Role: RoleStaff}) {
		t.Error("staff does not carry moderation authority")
	}
}

func TestHasSiteModeratorScope(t *testing.T) {
	if HasSiteModeratorScope(&User{}, "site-a") {
		t.Error("user without scopes has no site scope")
	}
	u := &User{ModerationScopes: &ModerationScopes{SiteIDs: []string{"site-a", "site-b"}}}
	if !HasSiteModeratorScope(u, "site-b") {
		t.Error("expected scope for site-b")
	}
	if HasSiteModeratorScope(u, "site-c") {
		t.Error("unexpected scope for site-c")
	}
}
