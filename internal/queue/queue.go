// Package queue composes the pure resolvers into the read-only view the API
// layer serves for a story. It owns no storage and adds no business logic of
// its own; the moderation-queue partitioning of individual comments lives in
// the storage query layer.
package queue

import (
	"fmt"
	"time"

	"colloquy/api/internal/counts"
	"colloquy/api/internal/story"
	"colloquy/api/internal/tenant"
	"colloquy/api/internal/user"
)

// Status is a story's derived commenting state.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// View is the resolved story view: derived state, decoded counts, effective
// settings, and the viewer's moderation capability. Plain values only —
// callers needing nested records (expert users, the site) load those
// themselves from the IDs the view carries.
type View struct {
	Status      Status
	ClosedAt    *time.Time
	Counts      counts.ActionCounts
	Settings    story.EffectiveSettings
	CanModerate bool
}

// Resolve combines the settings, state, count, and authorization resolvers
// for one story and one viewer at one instant. All inputs are immutable
// snapshots; u may be nil for anonymous viewers. A corrupt count blob is
// reported, not masked.
func Resolve(t *tenant.Tenant, s *story.Story, u *user.User, now time.Time) (View, error) {
	decoded, err := counts.Decode(s.ActionCounts)
	if err != nil {
		return View{}, fmt.Errorf("story %s: %w", s.ID, err)
	}

	v := View{
		Status:      StatusOpen,
		ClosedAt:    story.ClosedAt(t, s),
		Counts:      decoded,
		Settings:    story.ResolveSettings(t, s),
		CanModerate: user.CanModerate(u, user.ScopedResource{SiteID: s.SiteID}, t),
	}
	if story.IsClosed(t, s, now) {
		v.Status = StatusClosed
	}
	return v, nil
}
