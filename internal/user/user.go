// Package user holds the user model, the moderation role set, and the
// decision logic for who may moderate what.
package user

import "time"

// Role is a user's global role within the tenant.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleModerator Role = "MODERATOR"
	RoleStaff     Role = "STAFF"
	RoleMember    Role = "MEMBER"
	RoleCommenter Role = "COMMENTER"
)

// ModerationScopes limits a moderator's authority to specific sites. A user
// with scopes but without a blanket role moderates only those sites, and
// only when the tenant has site-scoped moderation enabled.
type ModerationScopes struct {
	SiteIDs []string
}

// User is a fully-hydrated account snapshot. The resolvers in this package
// never mutate it and never perform lookups of their own; whatever role and
// scope data a decision needs must already be present here.
type User struct {
	ID               string
	Email            string
	Username         string
	Role             Role
	ModerationScopes *ModerationScopes
	EmailVerified    bool
	CreatedAt        time.Time
}
