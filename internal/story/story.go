// Package story holds the story model and the pure resolvers that derive a
// story's effective settings and open/closed state from tenant policy.
package story

import (
	"time"

	"colloquy/api/internal/tenant"
)

// MessageBox is the banner shown above a story's comment stream.
type MessageBox struct {
	Enabled bool   `json:"enabled"`
	Content string `json:"content,omitempty"`
	Icon    string `json:"icon,omitempty"`
}

// LiveSettings is a story-level live-updates override.
type LiveSettings struct {
	Enabled bool `json:"enabled"`
}

// Settings is a story's override set. Every field is optional: nil means the
// tenant default applies. An explicitly set false is a real override and
// wins over the tenant value.
type Settings struct {
	Moderation        *tenant.ModerationMode `json:"moderation,omitempty"`
	PremodLinksEnable *bool                  `json:"premodLinksEnable,omitempty"`
	MessageBox        *MessageBox            `json:"messageBox,omitempty"`
	Live              *LiveSettings          `json:"live,omitempty"`
	ExpertIDs         []string               `json:"expertIDs,omitempty"`
}

// Story is a single moderatable content unit hosted on a site.
type Story struct {
	ID       string
	SiteID   string
	URL      string
	Title    string
	Author   string
	Settings Settings

	// ClosedAt, when set, is an explicit close timestamp that overrides any
	// auto-close derivation. CloseDisabled pins the story open regardless of
	// tenant policy and takes precedence over ClosedAt.
	ClosedAt      *time.Time
	CloseDisabled bool

	LastCommentedAt *time.Time
	CreatedAt       time.Time

	// ActionCounts is the packed count blob exactly as stored; decode it
	// with the counts package.
	ActionCounts map[string]int64
}
