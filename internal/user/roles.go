package user

// Action is a coarse capability checked by the HTTP layer before a request
// reaches the service. Site-scoped moderation is decided by CanModerate;
// Can only consults the global role.
type Action string

const (
	ActionView      Action = "view"
	ActionComment   Action = "comment"
	ActionModerate  Action = "moderate"
	ActionConfigure Action = "configure"
)

// Can reports whether a global role allows an action.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleModerator:
		return action == ActionView || action == ActionComment || action == ActionModerate
	case RoleStaff, RoleMember, RoleCommenter:
		return action == ActionView || action == ActionComment
	default:
		return false
	}
}

// NormalizeRole maps an arbitrary stored role string onto the closed role
// set, defaulting to COMMENTER.
func NormalizeRole(role string) Role {
	switch Role(role) {
	case RoleAdmin, RoleModerator, RoleStaff, RoleMember, RoleCommenter:
		return Role(role)
	default:
		return RoleCommenter
	}
}
