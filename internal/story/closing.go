package story

import (
	"time"

	"colloquy/api/internal/tenant"
)

// ClosedAt returns the effective closing time for a story, or nil when the
// story never closes. Precedence: the story's disable flag, then the story's
// explicit close timestamp, then the tenant auto-close derivation from the
// last comment time.
func ClosedAt(t *tenant.Tenant, s *Story) *time.Time {
	if s.CloseDisabled {
		return nil
	}
	if s.ClosedAt != nil {
		return s.ClosedAt
	}
	if !t.CloseCommenting.Auto || s.LastCommentedAt == nil {
		return nil
	}
	at := s.LastCommentedAt.Add(t.CloseCommenting.Timeout)
	return &at
}

// IsClosed reports whether the story is closed for commenting at now. The
// interval is half-open: a story whose closing time equals now is still
// open, and closed only strictly after.
func IsClosed(t *tenant.Tenant, s *Story, now time.Time) bool {
	closedAt := ClosedAt(t, s)
	return closedAt != nil && closedAt.Before(now)
}
