package story

import (
	"time"

	"colloquy/api/internal/tenant"
)

// ResolvedLive is the live configuration after tenant fallback. The two
// timestamps always come from the story itself; no override can change them.
type ResolvedLive struct {
	Enabled         bool
	LastCommentedAt *time.Time
	CreatedAt       time.Time
}

// EffectiveSettings is the fully-populated settings view for a story. It is
// recomputed per read and never persisted.
type EffectiveSettings struct {
	Moderation        tenant.ModerationMode
	PremodLinksEnable bool
	MessageBox        MessageBox
	Live              ResolvedLive
	ExpertIDs         []string
}

// ResolveSettings merges tenant defaults with the story's overrides,
// field by field. A nil override falls back to the tenant; a present
// override wins even when it is the zero value.
func ResolveSettings(t *tenant.Tenant, s *Story) EffectiveSettings {
	out := EffectiveSettings{
		Moderation:        t.Moderation,
		PremodLinksEnable: t.PremodLinksEnable,
		MessageBox:        MessageBox{Enabled: false},
		Live: ResolvedLive{
			Enabled:         t.Live.Enabled,
			LastCommentedAt: s.LastCommentedAt,
			CreatedAt:       s.CreatedAt,
		},
		ExpertIDs: []string{},
	}
	if s.Settings.Moderation != nil {
		out.Moderation = *s.Settings.Moderation
	}
	if s.Settings.PremodLinksEnable != nil {
		out.PremodLinksEnable = *s.Settings.PremodLinksEnable
	}
	if s.Settings.MessageBox != nil {
		out.MessageBox = *s.Settings.MessageBox
	}
	if s.Settings.Live != nil {
		out.Live.Enabled = s.Settings.Live.Enabled
	}
	if len(s.Settings.ExpertIDs) > 0 {
		out.ExpertIDs = append([]string(nil), s.Settings.ExpertIDs...)
	}
	return out
}
