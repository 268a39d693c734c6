// Package tenant holds the tenant and site models plus the tenant-wide
// policy defaults that story-level settings fall back to.
package tenant

import "time"

// ModerationMode controls when comments become visible.
type ModerationMode string

const (
	// ModerationPre holds every comment for review before publication.
	ModerationPre ModerationMode = "PRE"
	// ModerationPost publishes comments immediately and moderates after.
	ModerationPost ModerationMode = "POST"
)

// FeatureFlag gates optional tenant behavior.
type FeatureFlag string

const (
	// FlagSiteModerator enables site-scoped moderator assignments. Without
	// it, moderation authority is decided purely by the global role.
	FlagSiteModerator FeatureFlag = "SITE_MODERATOR"
	// FlagReadOnly disables commenting across the whole tenant.
	FlagReadOnly FeatureFlag = "READ_ONLY"
)

// LiveConfig is the tenant default for live comment updates.
type LiveConfig struct {
	Enabled bool `json:"enabled"`
}

// CloseCommenting controls tenant-wide auto-closing of stories. When Auto is
// set, a story closes Timeout after its last comment unless the story
// overrides closing explicitly.
type CloseCommenting struct {
	Auto    bool          `json:"auto"`
	Timeout time.Duration `json:"timeout"`
}

// Tenant is the installation-wide configuration scope. It is loaded once per
// request and treated as immutable for the request's duration.
type Tenant struct {
	ID                string
	Name              string
	Domain            string
	FeatureFlags      []FeatureFlag
	Moderation        ModerationMode
	PremodLinksEnable bool
	Live              LiveConfig
	CloseCommenting   CloseCommenting
	CreatedAt         time.Time
}

// HasFeatureFlag reports whether the tenant has the given flag enabled.
func HasFeatureFlag(t *Tenant, flag FeatureFlag) bool {
	if t == nil {
		return false
	}
	for _, f := range t.FeatureFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// Site is a distinct publishing property within a tenant. Stories reference
// sites by ID; moderator assignments may be scoped to a single site.
type Site struct {
	ID             string
	TenantID       string
	Name           string
	AllowedOrigins []string
	CreatedAt      time.Time
}
