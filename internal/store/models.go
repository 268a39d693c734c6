package store

import (
	"time"

	"colloquy/api/internal/user"
)

// Comment statuses. NONE is the resting state for published comments that
// nobody has reviewed; PREMOD and SYSTEM_WITHHELD are held states that keep a
// comment out of the public stream until a moderator decides.
const (
	CommentStatusNone           = "NONE"
	CommentStatusApproved       = "APPROVED"
	CommentStatusRejected       = "REJECTED"
	CommentStatusPremod         = "PREMOD"
	CommentStatusSystemWithheld = "SYSTEM_WITHHELD"
)

// Queue buckets for comment listing. Published is the public stream;
// the rest are moderation views.
const (
	QueuePublished   = "published"
	QueueUnmoderated = "unmoderated"
	QueueReported    = "reported"
	QueuePending     = "pending"
	QueueApproved    = "approved"
	QueueRejected    = "rejected"
)

type User struct {
	ID                    string
	Email                 string
	Username              string
	PasswordHash          string
	Role                  string
	EmailVerified         bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	SiteScopes            []string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Domain converts the storage row into the snapshot the resolvers consume.
func (u User) Domain() user.User {
	out := user.User{
		ID:            u.ID,
		Email:         u.Email,
		Username:      u.Username,
		Role:          user.NormalizeRole(u.Role),
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
	if len(u.SiteScopes) > 0 {
		out.ModerationScopes = &user.ModerationScopes{SiteIDs: u.SiteScopes}
	}
	return out
}

type Comment struct {
	ID           string
	StoryID      string
	AuthorID     string
	AuthorName   string
	Body         string
	Status       string
	ActionCounts map[string]int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CommentFlag is a single user's flag against a comment; the aggregated
// totals live in the packed ActionCounts blobs.
type CommentFlag struct {
	ID        string
	CommentID string
	UserID    string
	Reason    string
	CreatedAt time.Time
}

// ModerationAction is one entry in the per-comment moderation audit log.
type ModerationAction struct {
	ID          string
	CommentID   string
	ModeratorID string
	FromStatus  string
	ToStatus    string
	CreatedAt   time.Time
}
