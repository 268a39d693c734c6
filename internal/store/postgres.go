package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"colloquy/api/internal/story"
	"colloquy/api/internal/tenant"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// tenantSettings is the JSONB shape of the tenants.settings column.
type tenantSettings struct {
	Moderation        tenant.ModerationMode  `json:"moderation"`
	PremodLinksEnable bool                   `json:"premodLinksEnable"`
	Live              tenant.LiveConfig      `json:"live"`
	CloseCommenting   tenant.CloseCommenting `json:"closeCommenting"`
}

func (s *PostgresStore) GetTenant(ctx context.Context, tenantID string) (tenant.Tenant, error) {
	var (
		t             tenant.Tenant
		settingsJSON  []byte
		flagsJSON     []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, domain, feature_flags, settings, created_at
		FROM tenants
		WHERE id=$1
	`, tenantID).Scan(&t.ID, &t.Name, &t.Domain, &flagsJSON, &settingsJSON, &t.CreatedAt)
	if err != nil {
		return tenant.Tenant{}, err
	}

	var settings tenantSettings
	if err := json.Unmarshal(settingsJSON, &settings); err != nil {
		return tenant.Tenant{}, fmt.Errorf("unmarshal tenant settings: %w", err)
	}
	t.Moderation = settings.Moderation
	t.PremodLinksEnable = settings.PremodLinksEnable
	t.Live = settings.Live
	t.CloseCommenting = settings.CloseCommenting

	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &t.FeatureFlags); err != nil {
			return tenant.Tenant{}, fmt.Errorf("unmarshal tenant feature flags: %w", err)
		}
	}
	return t, nil
}

func (s *PostgresStore) CreateTenant(ctx context.Context, t tenant.Tenant) error {
	settingsJSON, flagsJSON, err := marshalTenant(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, domain, feature_flags, settings)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, t.ID, t.Name, t.Domain, flagsJSON, settingsJSON)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTenantSettings(ctx context.Context, t tenant.Tenant) error {
	settingsJSON, flagsJSON, err := marshalTenant(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE tenants SET name=$2, domain=$3, feature_flags=$4, settings=$5
		WHERE id=$1
	`, t.ID, t.Name, t.Domain, flagsJSON, settingsJSON)
	if err != nil {
		return fmt.Errorf("update tenant settings: %w", err)
	}
	return nil
}

func marshalTenant(t tenant.Tenant) (settingsJSON, flagsJSON []byte, err error) {
	settingsJSON, err = json.Marshal(tenantSettings{
		Moderation:        t.Moderation,
		PremodLinksEnable: t.PremodLinksEnable,
		Live:              t.Live,
		CloseCommenting:   t.CloseCommenting,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal tenant settings: %w", err)
	}
	flags := t.FeatureFlags
	if flags == nil {
		flags = []tenant.FeatureFlag{}
	}
	flagsJSON, err = json.Marshal(flags)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal tenant feature flags: %w", err)
	}
	return settingsJSON, flagsJSON, nil
}

func (s *PostgresStore) CreateSite(ctx context.Context, site tenant.Site) error {
	origins := site.AllowedOrigins
	if origins == nil {
		origins = []string{}
	}
	originsJSON, err := json.Marshal(origins)
	if err != nil {
		return fmt.Errorf("marshal site origins: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sites (id, tenant_id, name, allowed_origins)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, site.ID, site.TenantID, site.Name, originsJSON)
	if err != nil {
		return fmt.Errorf("insert site: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSite(ctx context.Context, siteID string) (tenant.Site, error) {
	var (
		site        tenant.Site
		originsJSON []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, allowed_origins, created_at
		FROM sites
		WHERE id=$1
	`, siteID).Scan(&site.ID, &site.TenantID, &site.Name, &originsJSON, &site.CreatedAt)
	if err != nil {
		return tenant.Site{}, err
	}
	if len(originsJSON) > 0 {
		if err := json.Unmarshal(originsJSON, &site.AllowedOrigins); err != nil {
			return tenant.Site{}, fmt.Errorf("unmarshal site origins: %w", err)
		}
	}
	return site, nil
}

func (s *PostgresStore) UpdateSite(ctx context.Context, site tenant.Site) error {
	origins := site.AllowedOrigins
	if origins == nil {
		origins = []string{}
	}
	originsJSON, err := json.Marshal(origins)
	if err != nil {
		return fmt.Errorf("marshal site origins: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE sites SET name=$2, allowed_origins=$3 WHERE id=$1
	`, site.ID, site.Name, originsJSON)
	if err != nil {
		return fmt.Errorf("update site: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update site rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteSite removes an empty site. Sites with stories keep their foreign
// keys; the caller checks for stories first.
func (s *PostgresStore) DeleteSite(ctx context.Context, siteID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sites WHERE id=$1`, siteID)
	if err != nil {
		return fmt.Errorf("delete site: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete site rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListSites(ctx context.Context, tenantID string) ([]tenant.Site, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, allowed_origins, created_at
		FROM sites
		WHERE tenant_id=$1
		ORDER BY created_at
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	items := make([]tenant.Site, 0)
	for rows.Next() {
		var (
			site        tenant.Site
			originsJSON []byte
		)
		if err := rows.Scan(&site.ID, &site.TenantID, &site.Name, &originsJSON, &site.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		if len(originsJSON) > 0 {
			if err := json.Unmarshal(originsJSON, &site.AllowedOrigins); err != nil {
				return nil, fmt.Errorf("unmarshal site origins: %w", err)
			}
		}
		items = append(items, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return items, nil
}

const storyColumns = `id, site_id, url, title, author, settings, closed_at, close_disabled, last_commented_at, created_at, action_counts`

func (s *PostgresStore) scanStory(row interface{ Scan(...any) error }) (story.Story, error) {
	var (
		item         story.Story
		settingsJSON []byte
		countsJSON   []byte
	)
	err := row.Scan(&item.ID, &item.SiteID, &item.URL, &item.Title, &item.Author,
		&settingsJSON, &item.ClosedAt, &item.CloseDisabled, &item.LastCommentedAt,
		&item.CreatedAt, &countsJSON)
	if err != nil {
		return story.Story{}, err
	}
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &item.Settings); err != nil {
			return story.Story{}, fmt.Errorf("unmarshal story settings: %w", err)
		}
	}
	if len(countsJSON) > 0 {
		if err := json.Unmarshal(countsJSON, &item.ActionCounts); err != nil {
			return story.Story{}, fmt.Errorf("unmarshal story action counts: %w", err)
		}
	}
	return item, nil
}

func (s *PostgresStore) GetStory(ctx context.Context, storyID string) (story.Story, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id=$1`, storyID)
	return s.scanStory(row)
}

func (s *PostgresStore) FindStoryByURL(ctx context.Context, siteID, url string) (story.Story, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE site_id=$1 AND url=$2`, siteID, url)
	return s.scanStory(row)
}

func (s *PostgresStore) CreateStory(ctx context.Context, item story.Story) error {
	settingsJSON, err := json.Marshal(item.Settings)
	if err != nil {
		return fmt.Errorf("marshal story settings: %w", err)
	}
	counts := item.ActionCounts
	if counts == nil {
		counts = map[string]int64{}
	}
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("marshal story action counts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stories (id, site_id, url, title, author, settings, closed_at, close_disabled, action_counts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.SiteID, item.URL, item.Title, item.Author, settingsJSON,
		item.ClosedAt, item.CloseDisabled, countsJSON)
	if err != nil {
		return fmt.Errorf("insert story: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListStoriesBySite(ctx context.Context, siteID string) ([]story.Story, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+storyColumns+` FROM stories WHERE site_id=$1 ORDER BY created_at DESC
	`, siteID)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	items := make([]story.Story, 0)
	for rows.Next() {
		item, err := s.scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateStorySettings(ctx context.Context, storyID string, settings story.Settings) error {
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal story settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE stories SET settings=$2 WHERE id=$1`, storyID, settingsJSON)
	if err != nil {
		return fmt.Errorf("update story settings: %w", err)
	}
	return nil
}

func (s *PostgresStore) CloseStory(ctx context.Context, storyID string, closedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stories SET closed_at=$2, close_disabled=FALSE WHERE id=$1
	`, storyID, closedAt)
	if err != nil {
		return fmt.Errorf("close story: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReopenStory(ctx context.Context, storyID string, disableClosing bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stories SET closed_at=NULL, close_disabled=$2 WHERE id=$1
	`, storyID, disableClosing)
	if err != nil {
		return fmt.Errorf("reopen story: %w", err)
	}
	return nil
}

func (s *PostgresStore) TouchStoryLastCommented(ctx context.Context, storyID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stories SET last_commented_at=GREATEST(COALESCE(last_commented_at, $2), $2) WHERE id=$1
	`, storyID, at)
	if err != nil {
		return fmt.Errorf("touch story last commented: %w", err)
	}
	return nil
}

// IncrementStoryActionCounts merges deltas into the story's packed count
// blob inside a transaction so concurrent flags never lose updates.
func (s *PostgresStore) IncrementStoryActionCounts(ctx context.Context, storyID string, deltas map[string]int64) error {
	return s.incrementCounts(ctx, `stories`, storyID, deltas)
}

func (s *PostgresStore) IncrementCommentActionCounts(ctx context.Context, commentID string, deltas map[string]int64) error {
	return s.incrementCounts(ctx, `comments`, commentID, deltas)
}

func (s *PostgresStore) incrementCounts(ctx context.Context, table, id string, deltas map[string]int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin counts tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var countsJSON []byte
	err = tx.QueryRowContext(ctx, `SELECT action_counts FROM `+table+` WHERE id=$1 FOR UPDATE`, id).Scan(&countsJSON)
	if err != nil {
		return fmt.Errorf("lock action counts: %w", err)
	}

	counts := map[string]int64{}
	if len(countsJSON) > 0 {
		if err := json.Unmarshal(countsJSON, &counts); err != nil {
			return fmt.Errorf("unmarshal action counts: %w", err)
		}
	}
	for key, delta := range deltas {
		next := counts[key] + delta
		if next < 0 {
			next = 0
		}
		counts[key] = next
	}

	merged, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("marshal action counts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET action_counts=$2 WHERE id=$1`, id, merged); err != nil {
		return fmt.Errorf("update action counts: %w", err)
	}
	return tx.Commit()
}

const commentColumns = `id, story_id, author_id, author_name, body, status, action_counts, created_at, updated_at`

func scanComment(row interface{ Scan(...any) error }) (Comment, error) {
	var (
		item       Comment
		countsJSON []byte
	)
	err := row.Scan(&item.ID, &item.StoryID, &item.AuthorID, &item.AuthorName,
		&item.Body, &item.Status, &countsJSON, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Comment{}, err
	}
	if len(countsJSON) > 0 {
		if err := json.Unmarshal(countsJSON, &item.ActionCounts); err != nil {
			return Comment{}, fmt.Errorf("unmarshal comment action counts: %w", err)
		}
	}
	return item, nil
}

func (s *PostgresStore) CreateComment(ctx context.Context, item Comment) error {
	counts := item.ActionCounts
	if counts == nil {
		counts = map[string]int64{}
	}
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("marshal comment action counts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO comments (id, story_id, author_id, author_name, body, status, action_counts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.StoryID, item.AuthorID, item.AuthorName, item.Body, item.Status, countsJSON)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=$1`, commentID)
	return scanComment(row)
}

// ListCommentsByQueue returns a story's comments for one moderation bucket.
// The reported bucket keys off the aggregated FLAG count in the packed blob.
func (s *PostgresStore) ListCommentsByQueue(ctx context.Context, storyID, queue string) ([]Comment, error) {
	var where string
	switch queue {
	case QueuePublished:
		where = `status IN ('NONE', 'APPROVED')`
	case QueueUnmoderated:
		where = `status IN ('NONE', 'PREMOD', 'SYSTEM_WITHHELD')`
	case QueueReported:
		where = `status NOT IN ('APPROVED', 'REJECTED')
			AND (SELECT COALESCE(SUM(value::BIGINT), 0)
				FROM jsonb_each_text(action_counts)
				WHERE key LIKE 'FLAG%') > 0`
	case QueuePending:
		where = `status IN ('PREMOD', 'SYSTEM_WITHHELD')`
	case QueueApproved:
		where = `status = 'APPROVED'`
	case QueueRejected:
		where = `status = 'REJECTED'`
	default:
		return nil, fmt.Errorf("unknown queue %q", queue)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+` FROM comments
		WHERE story_id=$1 AND `+where+`
		ORDER BY created_at DESC
	`, storyID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateCommentStatus(ctx context.Context, commentID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE comments SET status=$2, updated_at=NOW() WHERE id=$1
	`, commentID, status)
	if err != nil {
		return fmt.Errorf("update comment status: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountCommentsByStatus(ctx context.Context, storyID string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM comments WHERE story_id=$1 GROUP BY status
	`, storyID)
	if err != nil {
		return nil, fmt.Errorf("count comments: %w", err)
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan comment count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comment counts: %w", err)
	}
	return counts, nil
}

func (s *PostgresStore) InsertCommentFlag(ctx context.Context, flag CommentFlag) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comment_flags (id, comment_id, user_id, reason)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (comment_id, user_id) DO NOTHING
	`, flag.ID, flag.CommentID, flag.UserID, flag.Reason)
	if err != nil {
		return fmt.Errorf("insert comment flag: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasCommentFlag(ctx context.Context, commentID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM comment_flags WHERE comment_id=$1 AND user_id=$2)
	`, commentID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check comment flag: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertModerationAction(ctx context.Context, action ModerationAction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO moderation_actions (id, comment_id, moderator_id, from_status, to_status)
		VALUES ($1, $2, $3, $4, $5)
	`, action.ID, action.CommentID, action.ModeratorID, action.FromStatus, action.ToStatus)
	if err != nil {
		return fmt.Errorf("insert moderation action: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListModerationActions(ctx context.Context, commentID string) ([]ModerationAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, comment_id, moderator_id, from_status, to_status, created_at
		FROM moderation_actions
		WHERE comment_id=$1
		ORDER BY created_at
	`, commentID)
	if err != nil {
		return nil, fmt.Errorf("list moderation actions: %w", err)
	}
	defer rows.Close()

	items := make([]ModerationAction, 0)
	for rows.Next() {
		var item ModerationAction
		if err := rows.Scan(&item.ID, &item.CommentID, &item.ModeratorID, &item.FromStatus, &item.ToStatus, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan moderation action: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate moderation actions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, username, password_hash, role, email_verified, verification_token, verification_expires_at, created_at, updated_at
		FROM users WHERE LOWER(email)=LOWER($1)
	`, email)
	return s.scanUser(ctx, row)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, username, password_hash, role, email_verified, verification_token, verification_expires_at, created_at, updated_at
		FROM users WHERE id=$1
	`, userID)
	return s.scanUser(ctx, row)
}

func (s *PostgresStore) scanUser(ctx context.Context, row *sql.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Role,
		&u.EmailVerified, &u.VerificationToken, &u.VerificationExpiresAt,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	scopes, err := s.getUserSiteScopes(ctx, u.ID)
	if err != nil {
		return User{}, err
	}
	u.SiteScopes = scopes
	return u, nil
}

func (s *PostgresStore) getUserSiteScopes(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT site_id FROM user_site_scopes WHERE user_id=$1 ORDER BY site_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list site scopes: %w", err)
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var siteID string
		if err := rows.Scan(&siteID); err != nil {
			return nil, fmt.Errorf("scan site scope: %w", err)
		}
		scopes = append(scopes, siteID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate site scopes: %w", err)
	}
	return scopes, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, username, password_hash, role, email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.Email, u.Username, u.PasswordHash, u.Role, u.EmailVerified, u.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1
			AND verification_token <> ''
			AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET role=$2, updated_at=NOW() WHERE id=$1
	`, userID, role)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return nil
}

// SetUserSiteScopes replaces a user's site-moderator assignments.
func (s *PostgresStore) SetUserSiteScopes(ctx context.Context, userID string, siteIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin scopes tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_site_scopes WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("clear site scopes: %w", err)
	}
	for _, siteID := range siteIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_site_scopes (user_id, site_id) VALUES ($1, $2)
			ON CONFLICT (user_id, site_id) DO NOTHING
		`, userID, siteID); err != nil {
			return fmt.Errorf("insert site scope: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, used_at=NULL
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("lookup password reset: %w", err)
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}
