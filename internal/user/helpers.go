package user

import "colloquy/api/internal/tenant"

// ScopedResource identifies the site a moderation decision applies to. The
// caller is responsible for supplying a resolvable SiteID; this package does
// not default a missing one.
type ScopedResource struct {
	SiteID string
}

// HasModeratorRole reports whether the user's global role carries blanket
// moderation authority across the whole tenant.
func HasModeratorRole(u *User) bool {
	if u == nil {
		return false
	}
	return u.Role == RoleAdmin || u.Role == RoleModerator
}

// HasStaffRole reports whether the user is exempt from premoderation.
func HasStaffRole(u *User) bool {
	if u == nil {
		return false
	}
	return u.Role == RoleAdmin || u.Role == RoleModerator || u.Role == RoleStaff
}

// HasSiteModeratorScope reports whether the user holds a moderator
// assignment for the given site specifically.
func HasSiteModeratorScope(u *User, siteID string) bool {
	if u == nil || u.ModerationScopes == nil {
		return false
	}
	for _, id := range u.ModerationScopes.SiteIDs {
		if id == siteID {
			return true
		}
	}
	return false
}

// CanModerate decides whether u may moderate the given resource under t. A
// nil user never moderates. Without the site-moderator feature flag the
// decision reduces to the global role; with it, a site-scoped assignment for
// the resource's site also qualifies. The function is pure: no I/O, no
// lookups, no side effects.
func CanModerate(u *User, resource ScopedResource, t *tenant.Tenant) bool {
	if u == nil {
		return false
	}
	if !tenant.HasFeatureFlag(t, tenant.FlagSiteModerator) {
		return HasModeratorRole(u)
	}
	if HasModeratorRole(u) {
		return true
	}
	return HasSiteModeratorScope(u, resource.SiteID)
}
