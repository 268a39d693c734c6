package story

import (
	"testing"
	"time"

	"colloquy/api/internal/tenant"
)

func testTenant() *tenant.Tenant {
	return &tenant.Tenant{
		ID:                "tenant-1",
		Moderation:        tenant.ModerationPre,
		PremodLinksEnable: true,
		Live:              tenant.LiveConfig{Enabled: true},
	}
}

func modePtr(m tenant.ModerationMode) *tenant.ModerationMode { return &m }
func boolPtr(b bool) *bool                                   { return &b }

func TestResolveSettingsTenantFallback(t *testing.T) {
	tn := testTenant()
	s := &Story{ID: "story-1", CreatedAt: time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)}

	effective := ResolveSettings(tn, s)

	if effective.Moderation != tenant.ModerationPre {
		t.Errorf("Moderation = %s, want PRE", effective.Moderation)
	}
	if !effective.PremodLinksEnable {
		t.Error("PremodLinksEnable should fall back to tenant true")
	}
	if effective.MessageBox.Enabled {
		t.Error("MessageBox should default to disabled")
	}
	if !effective.Live.Enabled {
		t.Error("Live.Enabled should fall back to tenant true")
	}
	if len(effective.ExpertIDs) != 0 {
		t.Errorf("ExpertIDs = %v, want empty", effective.ExpertIDs)
	}
}

func TestResolveSettingsStoryOverrideWins(t *testing.T) {
	tn := testTenant()
	s := &Story{
		ID: "story-1",
		Settings: Settings{
			Moderation:        modePtr(tenant.ModerationPost),
			PremodLinksEnable: boolPtr(false),
			Live:              &LiveSettings{Enabled: false},
		},
	}

	effective := ResolveSettings(tn, s)

	if effective.Moderation != tenant.ModerationPost {
		t.Errorf("Moderation = %s, want POST", effective.Moderation)
	}
	// Explicit false must win over tenant true.
	if effective.PremodLinksEnable {
		t.Error("explicit PremodLinksEnable=false should win over tenant true")
	}
	if effective.Live.Enabled {
		t.Error("explicit Live.Enabled=false should win over tenant true")
	}
}

func TestResolveSettingsMessageBoxVerbatim(t *testing.T) {
	tn := testTenant()
	s := &Story{
		ID: "story-1",
		Settings: Settings{
			MessageBox: &MessageBox{Enabled: false, Content: "closed for the weekend"},
		},
	}

	effective := ResolveSettings(tn, s)
	if effective.MessageBox.Enabled {
		t.Error("disabled MessageBox override should be kept verbatim")
	}
	if effective.MessageBox.Content != "closed for the weekend" {
		t.Errorf("MessageBox.Content = %q", effective.MessageBox.Content)
	}
}

func TestResolveSettingsLiveTimestampsAreOverrideImmune(t *testing.T) {
	lastCommentedAt := time.Date(2021, 3, 14, 9, 26, 53, 0, time.UTC)
	createdAt := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		settings Settings
	}{
		{name: "no override"},
		{name: "live enabled override", settings: Settings{Live: &LiveSettings{Enabled: true}}},
		{name: "live disabled override", settings: Settings{Live: &LiveSettings{Enabled: false}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Story{
				ID:              "story-1",
				Settings:        tc.settings,
				LastCommentedAt: &lastCommentedAt,
				CreatedAt:       createdAt,
			}
			effective := ResolveSettings(testTenant(), s)
			if effective.Live.LastCommentedAt == nil || !effective.Live.LastCommentedAt.Equal(lastCommentedAt) {
				t.Errorf("Live.LastCommentedAt = %v, want %v", effective.Live.LastCommentedAt, lastCommentedAt)
			}
			if !effective.Live.CreatedAt.Equal(createdAt) {
				t.Errorf("Live.CreatedAt = %v, want %v", effective.Live.CreatedAt, createdAt)
			}
		})
	}
}

func TestResolveSettingsExperts(t *testing.T) {
	s := &Story{
		ID:       "story-1",
		Settings: Settings{ExpertIDs: []string{"user-1", "user-2"}},
	}
	effective := ResolveSettings(testTenant(), s)
	if len(effective.ExpertIDs) != 2 || effective.ExpertIDs[0] != "user-1" {
		t.Errorf("ExpertIDs = %v", effective.ExpertIDs)
	}

	// The resolved slice must be a copy, not an alias of the override.
	effective.ExpertIDs[0] = "mutated"
	if s.Settings.ExpertIDs[0] != "user-1" {
		t.Error("ResolveSettings must not alias the story's expert list")
	}
}
