// Package app wires the pure resolvers, the stores, and the supporting
// services into the operations the HTTP layer exposes.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"colloquy/api/internal/auth"
	"colloquy/api/internal/authpw"
	"colloquy/api/internal/config"
	"colloquy/api/internal/counts"
	"colloquy/api/internal/export"
	"colloquy/api/internal/metrics"
	"colloquy/api/internal/queue"
	"colloquy/api/internal/search"
	"colloquy/api/internal/store"
	"colloquy/api/internal/story"
	"colloquy/api/internal/tenant"
	"colloquy/api/internal/user"
	"colloquy/api/internal/util"
)

// defaultTenantID names the single installation-wide tenant row.
const defaultTenantID = "tn_default"

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
	// User is the fully-hydrated domain snapshot for authorization
	// decisions, loaded together with the session.
	User user.User
}

var allowedFlagReasons = map[string]struct{}{
	"":                         {},
	counts.ReasonSpam:          {},
	counts.ReasonOffensive:     {},
	counts.ReasonAbusive:       {},
	counts.ReasonDetectedLinks: {},
	counts.ReasonOther:         {},
}

var allowedModerationStatuses = map[string]struct{}{
	store.CommentStatusApproved: {},
	store.CommentStatusRejected: {},
}

var knownQueues = map[string]struct{}{
	store.QueuePublished:   {},
	store.QueueUnmoderated: {},
	store.QueueReported:    {},
	store.QueuePending:     {},
	store.QueueApproved:    {},
	store.QueueRejected:    {},
}

var linkPattern = regexp.MustCompile(`(?i)\bhttps?://|\bwww\.`)

type dataStore interface {
	GetTenant(context.Context, string) (tenant.Tenant, error)
	CreateTenant(context.Context, tenant.Tenant) error
	UpdateTenantSettings(context.Context, tenant.Tenant) error

	CreateSite(context.Context, tenant.Site) error
	GetSite(context.Context, string) (tenant.Site, error)
	UpdateSite(context.Context, tenant.Site) error
	DeleteSite(context.Context, string) error
	ListSites(context.Context, string) ([]tenant.Site, error)

	GetStory(context.Context, string) (story.Story, error)
	FindStoryByURL(context.Context, string, string) (story.Story, error)
	CreateStory(context.Context, story.Story) error
	ListStoriesBySite(context.Context, string) ([]story.Story, error)
	UpdateStorySettings(context.Context, string, story.Settings) error
	CloseStory(context.Context, string, time.Time) error
	ReopenStory(context.Context, string, bool) error
	TouchStoryLastCommented(context.Context, string, time.Time) error
	IncrementStoryActionCounts(context.Context, string, map[string]int64) error

	CreateComment(context.Context, store.Comment) error
	GetComment(context.Context, string) (store.Comment, error)
	ListCommentsByQueue(context.Context, string, string) ([]store.Comment, error)
	UpdateCommentStatus(context.Context, string, string) error
	CountCommentsByStatus(context.Context, string) (map[string]int64, error)
	IncrementCommentActionCounts(context.Context, string, map[string]int64) error
	InsertCommentFlag(context.Context, store.CommentFlag) error
	HasCommentFlag(context.Context, string, string) (bool, error)

	InsertModerationAction(context.Context, store.ModerationAction) error
	ListModerationActions(context.Context, string) ([]store.ModerationAction, error)

	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) error
	UpdateUserVerificationToken(context.Context, string, string, time.Time) error
	VerifyUserEmail(context.Context, string) error
	UpdateUserPassword(context.Context, string, string) error
	UpdateUserRole(context.Context, string, string) error
	SetUserSiteScopes(context.Context, string, []string) error
	CreatePasswordReset(context.Context, string, string, time.Time) error
	GetPasswordReset(context.Context, string) (string, error)
	MarkPasswordResetUsed(context.Context, string) error

	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, u store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendModerationDecisionEmail(to, userName, storyTitle, decision string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	password *authpw.Service
	mail     mailer
	search   *search.Service
	export   *export.Service
	log      zerolog.Logger
}

func New(
	cfg config.Config,
	st dataStore,
	sessions sessionStore,
	password *authpw.Service,
	mail mailer,
	searchSvc *search.Service,
	exportSvc *export.Service,
	logger zerolog.Logger,
) *Service {
	return &Service{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		password: password,
		mail:     mail,
		search:   searchSvc,
		export:   exportSvc,
		log:      logger,
	}
}

// Bootstrap seeds the default tenant and site on first start.
func (s *Service) Bootstrap(ctx context.Context) error {
	_, err := s.store.GetTenant(ctx, defaultTenantID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if err := s.store.CreateTenant(ctx, tenant.Tenant{
		ID:                defaultTenantID,
		Name:              "Colloquy",
		Domain:            "localhost",
		FeatureFlags:      []tenant.FeatureFlag{},
		Moderation:        tenant.ModerationPost,
		PremodLinksEnable: false,
		Live:              tenant.LiveConfig{Enabled: true},
		CloseCommenting:   tenant.CloseCommenting{Auto: false, Timeout: 14 * 24 * time.Hour},
	}); err != nil {
		return err
	}

	return s.store.CreateSite(ctx, tenant.Site{
		ID:             "site_default",
		TenantID:       defaultTenantID,
		Name:           "Default Site",
		AllowedOrigins: []string{},
	})
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SessionsPing(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

func (s *Service) PasswordService() *authpw.Service {
	return s.password
}

func (s *Service) tenant(ctx context.Context) (tenant.Tenant, error) {
	return s.store.GetTenant(ctx, defaultTenantID)
}

// --- Sessions ---

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	resp, err := s.password.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	if resp.RequiresVerify {
		return Session{}, domainError(http.StatusForbidden, "EMAIL_UNVERIFIED", "Verify your email before signing in", nil)
	}
	return s.issueSession(ctx, resp.User)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	snapshot, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	// Rehydrate from the store so role or scope changes since sign-in
	// take effect on refresh.
	u, err := s.store.GetUserByID(ctx, snapshot.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, u)
}

func (s *Service) issueSession(ctx context.Context, u store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:      u.ID,
		Username: u.Username,
		Role:     u.Role,
		JTI:      jti,
		Exp:      expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), u, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       u.ID,
		Username:     u.Username,
		Role:         u.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
		User:         u.Domain(),
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	u, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    u.ID,
		Username:  u.Username,
		Role:      u.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
		User:      u.Domain(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// SendVerificationEmail delivers the signup verification mail when SMTP is
// configured. Failures are logged, not returned; signup already succeeded.
func (s *Service) SendVerificationEmail(email, username, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := fmt.Sprintf("%s/verify-email?token=%s", s.cfg.CORSOrigin, token)
	go func() {
		if err := s.mail.SendVerificationEmail(email, username, url); err != nil {
			s.log.Warn().Err(err).Str("email", email).Msg("send verification email")
		}
	}()
}

// SendPasswordResetEmail delivers the reset mail when SMTP is configured.
func (s *Service) SendPasswordResetEmail(email, token string) {
	if !s.SMTPConfigured() || token == "" {
		return
	}
	url := fmt.Sprintf("%s/reset-password?token=%s", s.cfg.CORSOrigin, token)
	go func() {
		if err := s.mail.SendPasswordResetEmail(email, "", url); err != nil {
			s.log.Warn().Err(err).Str("email", email).Msg("send password reset email")
		}
	}()
}

// --- Stories ---

type StoryUpsertInput struct {
	SiteID string `json:"siteId"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Author string `json:"author"`
}

// FindOrCreateStory returns the story for a site URL, creating it on first
// sight the way an embed boot does.
func (s *Service) FindOrCreateStory(ctx context.Context, in StoryUpsertInput, viewer *user.User) (map[string]any, error) {
	siteID := strings.TrimSpace(in.SiteID)
	url := strings.TrimSpace(in.URL)
	if siteID == "" || url == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "siteId and url are required", nil)
	}
	if _, err := s.store.GetSite(ctx, siteID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "SITE_NOT_FOUND", "Site not found", nil)
		}
		return nil, err
	}

	item, err := s.store.FindStoryByURL(ctx, siteID, url)
	if errors.Is(err, sql.ErrNoRows) {
		item = story.Story{
			ID:        util.NewID("sto"),
			SiteID:    siteID,
			URL:       url,
			Title:     strings.TrimSpace(in.Title),
			Author:    strings.TrimSpace(in.Author),
			CreatedAt: time.Now(),
		}
		if err := s.store.CreateStory(ctx, item); err != nil {
			return nil, err
		}
		// Re-read so DB defaults are reflected.
		item, err = s.store.FindStoryByURL(ctx, siteID, url)
		if err != nil {
			return nil, err
		}
		if s.search != nil {
			s.search.IndexStory(search.StoryRecord{
				ID: item.ID, Title: item.Title, Author: item.Author, URL: item.URL, SiteID: item.SiteID,
			})
		}
	} else if err != nil {
		return nil, err
	}

	return s.storyPayload(ctx, item, viewer)
}

func (s *Service) StoryView(ctx context.Context, storyID string, viewer *user.User) (map[string]any, error) {
	item, err := s.store.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	return s.storyPayload(ctx, item, viewer)
}

func (s *Service) ListStories(ctx context.Context, siteID string, viewer *user.User) ([]map[string]any, error) {
	stories, err := s.store.ListStoriesBySite(ctx, siteID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(stories))
	for _, item := range stories {
		payload, err := s.storyPayload(ctx, item, viewer)
		if err != nil {
			return nil, err
		}
		items = append(items, payload)
	}
	return items, nil
}

// storyPayload resolves the full story view for one viewer at this instant.
func (s *Service) storyPayload(ctx context.Context, item story.Story, viewer *user.User) (map[string]any, error) {
	tn, err := s.tenant(ctx)
	if err != nil {
		return nil, err
	}
	view, err := queue.Resolve(&tn, &item, viewer, time.Now())
	if err != nil {
		if errors.Is(err, counts.ErrNegativeCount) {
			return nil, domainError(http.StatusInternalServerError, "DATA_INTEGRITY", "Story action counts are corrupt", map[string]any{"storyId": item.ID})
		}
		return nil, err
	}

	statusCounts, err := s.store.CountCommentsByStatus(ctx, item.ID)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"id":              item.ID,
		"siteId":          item.SiteID,
		"url":             item.URL,
		"title":           item.Title,
		"author":          item.Author,
		"createdAt":       item.CreatedAt,
		"lastCommentedAt": item.LastCommentedAt,
		"status":          string(view.Status),
		"closedAt":        view.ClosedAt,
		"settings": map[string]any{
			"moderation":        view.Settings.Moderation,
			"premodLinksEnable": view.Settings.PremodLinksEnable,
			"messageBox":        view.Settings.MessageBox,
			"live": map[string]any{
				"enabled":         view.Settings.Live.Enabled,
				"lastCommentedAt": view.Settings.Live.LastCommentedAt,
				"createdAt":       view.Settings.Live.CreatedAt,
			},
			"expertIDs": view.Settings.ExpertIDs,
		},
		"actionCounts": map[string]any{
			"byType": view.Counts.ByType,
			"byKey":  view.Counts.ByKey,
		},
		"commentCounts":     statusCounts,
		"viewerCanModerate": view.CanModerate,
	}, nil
}

// UpdateStorySettings applies a partial settings override. Fields present in
// the patch replace the stored override, including explicit false values;
// absent fields keep their current override.
func (s *Service) UpdateStorySettings(ctx context.Context, session Session, storyID string, patch story.Settings) (map[string]any, error) {
	item, err := s.store.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if err := s.requireModerator(ctx, session, item.SiteID); err != nil {
		return nil, err
	}

	merged := item.Settings
	if patch.Moderation != nil {
		mode := *patch.Moderation
		if mode != tenant.ModerationPre && mode != tenant.ModerationPost {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "moderation must be PRE or POST", nil)
		}
		merged.Moderation = patch.Moderation
	}
	if patch.PremodLinksEnable != nil {
		merged.PremodLinksEnable = patch.PremodLinksEnable
	}
	if patch.MessageBox != nil {
		merged.MessageBox = patch.MessageBox
	}
	if patch.Live != nil {
		merged.Live = patch.Live
	}
	if patch.ExpertIDs != nil {
		merged.ExpertIDs = patch.ExpertIDs
	}

	if err := s.store.UpdateStorySettings(ctx, storyID, merged); err != nil {
		return nil, err
	}
	item.Settings = merged
	return s.storyPayload(ctx, item, &session.User)
}

func (s *Service) CloseStory(ctx context.Context, session Session, storyID string) (map[string]any, error) {
	item, err := s.store.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if err := s.requireModerator(ctx, session, item.SiteID); err != nil {
		return nil, err
	}
	now := time.Now()
	if err := s.store.CloseStory(ctx, storyID, now); err != nil {
		return nil, err
	}
	metrics.StoriesClosed.Inc()
	item.ClosedAt = &now
	item.CloseDisabled = false
	return s.storyPayload(ctx, item, &session.User)
}

// ReopenStory clears the close timestamp. With disableClosing the story is
// pinned open and ignores tenant auto-close policy.
func (s *Service) ReopenStory(ctx context.Context, session Session, storyID string, disableClosing bool) (map[string]any, error) {
	item, err := s.store.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if err := s.requireModerator(ctx, session, item.SiteID); err != nil {
		return nil, err
	}
	if err := s.store.ReopenStory(ctx, storyID, disableClosing); err != nil {
		return nil, err
	}
	item.ClosedAt = nil
	item.CloseDisabled = disableClosing
	return s.storyPayload(ctx, item, &session.User)
}

// --- Comments ---

func (s *Service) CreateComment(ctx context.Context, session Session, storyID, body string) (map[string]any, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}

	tn, err := s.tenant(ctx)
	if err != nil {
		return nil, err
	}
	if tenant.HasFeatureFlag(&tn, tenant.FlagReadOnly) {
		return nil, domainError(http.StatusForbidden, "COMMENTING_DISABLED", "Commenting is disabled", nil)
	}

	item, err := s.store.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.IsClosed(&tn, &item, time.Now()) {
		return nil, domainError(http.StatusConflict, "STORY_CLOSED", "Story is closed for commenting", nil)
	}

	effective := story.ResolveSettings(&tn, &item)
	status := store.CommentStatusNone
	switch {
	case user.HasStaffRole(&session.User):
		// Staff and above skip every hold.
	case effective.PremodLinksEnable && linkPattern.MatchString(body):
		status = store.CommentStatusSystemWithheld
	case effective.Moderation == tenant.ModerationPre:
		status = store.CommentStatusPremod
	}

	comment := store.Comment{
		ID:         util.NewID("com"),
		StoryID:    item.ID,
		AuthorID:   session.UserID,
		AuthorName: session.Username,
		Body:       body,
		Status:     status,
	}
	if err := s.store.CreateComment(ctx, comment); err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.store.TouchStoryLastCommented(ctx, item.ID, now); err != nil {
		return nil, err
	}

	metrics.CommentsCreated.WithLabelValues(status).Inc()
	if s.search != nil {
		s.search.IndexComment(search.CommentRecord{
			ID: comment.ID, Body: comment.Body, AuthorName: comment.AuthorName,
			StoryID: item.ID, SiteID: item.SiteID, Status: status,
		})
	}

	return map[string]any{
		"id":        comment.ID,
		"storyId":   item.ID,
		"author":    comment.AuthorName,
		"body":      comment.Body,
		"status":    status,
		"published": status == store.CommentStatusNone,
	}, nil
}

// ListComments serves a story's comment queue. The published bucket is open
// to everyone; moderation buckets require moderation authority for the
// story's site.
func (s *Service) ListComments(ctx context.Context, viewer *user.User, storyID, queueName string) ([]map[string]any, error) {
	if queueName == "" {
		queueName = store.QueuePublished
	}
	if _, ok := knownQueues[queueName]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown queue", map[string]any{"queue": queueName})
	}

	item, err := s.store.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}

	if queueName != store.QueuePublished {
		tn, err := s.tenant(ctx)
		if err != nil {
			return nil, err
		}
		if !user.CanModerate(viewer, user.ScopedResource{SiteID: item.SiteID}, &tn) {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
	}

	comments, err := s.store.ListCommentsByQueue(ctx, storyID, queueName)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(comments))
	for _, c := range comments {
		decoded, err := counts.Decode(c.ActionCounts)
		if err != nil {
			return nil, domainError(http.StatusInternalServerError, "DATA_INTEGRITY", "Comment action counts are corrupt", map[string]any{"commentId": c.ID})
		}
		items = append(items, map[string]any{
			"id":        c.ID,
			"storyId":   c.StoryID,
			"author":    c.AuthorName,
			"body":      c.Body,
			"status":    c.Status,
			"createdAt": c.CreatedAt,
			"actionCounts": map[string]any{
				"byType": decoded.ByType,
				"byKey":  decoded.ByKey,
			},
		})
	}
	return items, nil
}

// FlagComment records one user's flag. Repeat flags from the same user are
// idempotent and do not inflate the counts.
func (s *Service) FlagComment(ctx context.Context, session Session, commentID, reason string) (map[string]any, error) {
	reason = strings.ToUpper(strings.TrimSpace(reason))
	if _, ok := allowedFlagReasons[reason]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown flag reason", map[string]any{"reason": reason})
	}

	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}

	already, err := s.store.HasCommentFlag(ctx, commentID, session.UserID)
	if err != nil {
		return nil, err
	}
	if already {
		return map[string]any{"ok": true, "duplicate": true}, nil
	}

	if err := s.store.InsertCommentFlag(ctx, store.CommentFlag{
		ID:        util.NewID("flg"),
		CommentID: commentID,
		UserID:    session.UserID,
		Reason:    reason,
	}); err != nil {
		return nil, err
	}

	key := counts.Encode(counts.ActionFlag, reason)
	deltas := map[string]int64{key: 1}
	if err := s.store.IncrementCommentActionCounts(ctx, commentID, deltas); err != nil {
		return nil, err
	}
	if err := s.store.IncrementStoryActionCounts(ctx, comment.StoryID, deltas); err != nil {
		return nil, err
	}

	reasonLabel := reason
	if reasonLabel == "" {
		reasonLabel = "NONE"
	}
	metrics.FlagActions.WithLabelValues(reasonLabel).Inc()

	return map[string]any{"ok": true, "duplicate": false}, nil
}

// ModerateComment applies an approve or reject decision and records it in
// the audit log.
func (s *Service) ModerateComment(ctx context.Context, session Session, commentID, toStatus string) (map[string]any, error) {
	toStatus = strings.ToUpper(strings.TrimSpace(toStatus))
	if _, ok := allowedModerationStatuses[toStatus]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be APPROVED or REJECTED", nil)
	}

	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	item, err := s.store.GetStory(ctx, comment.StoryID)
	if err != nil {
		return nil, err
	}
	if err := s.requireModerator(ctx, session, item.SiteID); err != nil {
		return nil, err
	}

	if err := s.store.InsertModerationAction(ctx, store.ModerationAction{
		ID:          util.NewID("mod"),
		CommentID:   commentID,
		ModeratorID: session.UserID,
		FromStatus:  comment.Status,
		ToStatus:    toStatus,
	}); err != nil {
		return nil, err
	}
	if err := s.store.UpdateCommentStatus(ctx, commentID, toStatus); err != nil {
		return nil, err
	}

	metrics.ModerationDecisions.WithLabelValues(toStatus).Inc()
	if s.search != nil {
		s.search.IndexComment(search.CommentRecord{
			ID: comment.ID, Body: comment.Body, AuthorName: comment.AuthorName,
			StoryID: item.ID, SiteID: item.SiteID, Status: toStatus,
		})
	}
	s.notifyModerationDecision(comment, item, toStatus)

	return map[string]any{
		"id":         commentID,
		"fromStatus": comment.Status,
		"status":     toStatus,
	}, nil
}

func (s *Service) notifyModerationDecision(comment store.Comment, item story.Story, toStatus string) {
	if !s.SMTPConfigured() {
		return
	}
	decision := strings.ToLower(toStatus)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		author, err := s.store.GetUserByID(ctx, comment.AuthorID)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", comment.AuthorID).Msg("load comment author for notification")
			return
		}
		if err := s.mail.SendModerationDecisionEmail(author.Email, author.Username, item.Title, decision); err != nil {
			s.log.Warn().Err(err).Str("comment_id", comment.ID).Msg("send moderation decision email")
		}
	}()
}

// CommentHistory returns the moderation audit trail for one comment.
func (s *Service) CommentHistory(ctx context.Context, session Session, commentID string) ([]map[string]any, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	item, err := s.store.GetStory(ctx, comment.StoryID)
	if err != nil {
		return nil, err
	}
	if err := s.requireModerator(ctx, session, item.SiteID); err != nil {
		return nil, err
	}

	actions, err := s.store.ListModerationActions(ctx, commentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(actions))
	for _, a := range actions {
		items = append(items, map[string]any{
			"id":          a.ID,
			"moderatorId": a.ModeratorID,
			"fromStatus":  a.FromStatus,
			"toStatus":    a.ToStatus,
			"createdAt":   a.CreatedAt,
		})
	}
	return items, nil
}

// --- Search ---

func (s *Service) Search(ctx context.Context, viewer *user.User, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	q.IncludeHidden = user.HasModeratorRole(viewer)
	return s.search.Search(q), nil
}

// --- Reports ---

func (s *Service) ExportReport(ctx context.Context, session Session, req export.Request) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Report export is not configured", nil)
	}
	item, err := s.store.GetStory(ctx, req.StoryID)
	if err != nil {
		return nil, err
	}
	if err := s.requireModerator(ctx, session, item.SiteID); err != nil {
		return nil, err
	}

	tn, err := s.tenant(ctx)
	if err != nil {
		return nil, err
	}
	status := string(queue.StatusOpen)
	if story.IsClosed(&tn, &item, time.Now()) {
		status = string(queue.StatusClosed)
	}
	return s.export.Export(ctx, req, status)
}

// ListArchivedReports returns the object-storage keys of past reports for a
// story.
func (s *Service) ListArchivedReports(ctx context.Context, session Session, storyID string) ([]export.ArchivedReport, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Report export is not configured", nil)
	}
	item, err := s.store.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if err := s.requireModerator(ctx, session, item.SiteID); err != nil {
		return nil, err
	}
	return s.export.ListArchived(ctx, storyID)
}

// --- Tenant administration ---

func (s *Service) TenantSettings(ctx context.Context, session Session) (map[string]any, error) {
	if err := s.requireConfigure(session); err != nil {
		return nil, err
	}
	tn, err := s.tenant(ctx)
	if err != nil {
		return nil, err
	}
	return tenantPayload(tn), nil
}

type TenantPatchInput struct {
	Name              *string                 `json:"name"`
	Moderation        *tenant.ModerationMode  `json:"moderation"`
	PremodLinksEnable *bool                   `json:"premodLinksEnable"`
	Live              *tenant.LiveConfig      `json:"live"`
	CloseCommenting   *tenant.CloseCommenting `json:"closeCommenting"`
}

func (s *Service) UpdateTenant(ctx context.Context, session Session, patch TenantPatchInput) (map[string]any, error) {
	if err := s.requireConfigure(session); err != nil {
		return nil, err
	}
	tn, err := s.tenant(ctx)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		tn.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Moderation != nil {
		if *patch.Moderation != tenant.ModerationPre && *patch.Moderation != tenant.ModerationPost {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "moderation must be PRE or POST", nil)
		}
		tn.Moderation = *patch.Moderation
	}
	if patch.PremodLinksEnable != nil {
		tn.PremodLinksEnable = *patch.PremodLinksEnable
	}
	if patch.Live != nil {
		tn.Live = *patch.Live
	}
	if patch.CloseCommenting != nil {
		if patch.CloseCommenting.Timeout < 0 {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "closeCommenting.timeout must not be negative", nil)
		}
		tn.CloseCommenting = *patch.CloseCommenting
	}

	if err := s.store.UpdateTenantSettings(ctx, tn); err != nil {
		return nil, err
	}
	return tenantPayload(tn), nil
}

func (s *Service) SetFeatureFlag(ctx context.Context, session Session, flag string, enabled bool) (map[string]any, error) {
	if err := s.requireConfigure(session); err != nil {
		return nil, err
	}
	f := tenant.FeatureFlag(strings.ToUpper(strings.TrimSpace(flag)))
	if f != tenant.FlagSiteModerator && f != tenant.FlagReadOnly {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown feature flag", map[string]any{"flag": flag})
	}

	tn, err := s.tenant(ctx)
	if err != nil {
		return nil, err
	}

	flags := make([]tenant.FeatureFlag, 0, len(tn.FeatureFlags)+1)
	for _, existing := range tn.FeatureFlags {
		if existing != f {
			flags = append(flags, existing)
		}
	}
	if enabled {
		flags = append(flags, f)
	}
	tn.FeatureFlags = flags

	if err := s.store.UpdateTenantSettings(ctx, tn); err != nil {
		return nil, err
	}
	return tenantPayload(tn), nil
}

func tenantPayload(tn tenant.Tenant) map[string]any {
	return map[string]any{
		"id":                tn.ID,
		"name":              tn.Name,
		"domain":            tn.Domain,
		"featureFlags":      tn.FeatureFlags,
		"moderation":        tn.Moderation,
		"premodLinksEnable": tn.PremodLinksEnable,
		"live":              tn.Live,
		"closeCommenting":   tn.CloseCommenting,
	}
}

type SiteInput struct {
	Name           string   `json:"name"`
	AllowedOrigins []string `json:"allowedOrigins"`
}

func (s *Service) CreateSite(ctx context.Context, session Session, in SiteInput) (map[string]any, error) {
	if err := s.requireConfigure(session); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	site := tenant.Site{
		ID:             util.NewID("site"),
		TenantID:       defaultTenantID,
		Name:           name,
		AllowedOrigins: in.AllowedOrigins,
	}
	if err := s.store.CreateSite(ctx, site); err != nil {
		return nil, err
	}
	return sitePayload(site), nil
}

func (s *Service) SiteView(ctx context.Context, session Session, siteID string) (map[string]any, error) {
	if err := s.requireConfigure(session); err != nil {
		return nil, err
	}
	site, err := s.store.GetSite(ctx, siteID)
	if err != nil {
		return nil, err
	}
	return sitePayload(site), nil
}

func (s *Service) UpdateSite(ctx context.Context, session Session, siteID string, in SiteInput) (map[string]any, error) {
	if err := s.requireConfigure(session); err != nil {
		return nil, err
	}
	site, err := s.store.GetSite(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		site.Name = name
	}
	if in.AllowedOrigins != nil {
		site.AllowedOrigins = in.AllowedOrigins
	}
	if err := s.store.UpdateSite(ctx, site); err != nil {
		return nil, err
	}
	return sitePayload(site), nil
}

// DeleteSite removes a site that has no stories. Non-empty sites are refused
// so comment history is never orphaned.
func (s *Service) DeleteSite(ctx context.Context, session Session, siteID string) error {
	if err := s.requireConfigure(session); err != nil {
		return err
	}
	stories, err := s.store.ListStoriesBySite(ctx, siteID)
	if err != nil {
		return err
	}
	if len(stories) > 0 {
		return domainError(http.StatusConflict, "SITE_NOT_EMPTY", "Site still has stories", map[string]any{"stories": len(stories)})
	}
	return s.store.DeleteSite(ctx, siteID)
}

func (s *Service) ListSites(ctx context.Context, session Session) ([]map[string]any, error) {
	sites, err := s.store.ListSites(ctx, defaultTenantID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(sites))
	for _, site := range sites {
		items = append(items, sitePayload(site))
	}
	return items, nil
}

func sitePayload(site tenant.Site) map[string]any {
	origins := site.AllowedOrigins
	if origins == nil {
		origins = []string{}
	}
	return map[string]any{
		"id":             site.ID,
		"tenantId":       site.TenantID,
		"name":           site.Name,
		"allowedOrigins": origins,
	}
}

func (s *Service) UpdateUserRole(ctx context.Context, session Session, userID, role string) (map[string]any, error) {
	if err := s.requireConfigure(session); err != nil {
		return nil, err
	}
	normalized := user.Role(strings.ToUpper(strings.TrimSpace(role)))
	switch normalized {
	case user.RoleAdmin, user.RoleModerator, user.RoleStaff, user.RoleMember, user.RoleCommenter:
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown role", map[string]any{"role": role})
	}

	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateUserRole(ctx, userID, string(normalized)); err != nil {
		return nil, err
	}
	return map[string]any{"userId": userID, "role": normalized}, nil
}

// SetUserSiteScopes replaces a user's site-moderator assignments. Scopes
// only take effect while the tenant's site-moderator flag is enabled.
func (s *Service) SetUserSiteScopes(ctx context.Context, session Session, userID string, siteIDs []string) (map[string]any, error) {
	if err := s.requireConfigure(session); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	for _, siteID := range siteIDs {
		if _, err := s.store.GetSite(ctx, siteID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown site", map[string]any{"siteId": siteID})
			}
			return nil, err
		}
	}
	if err := s.store.SetUserSiteScopes(ctx, userID, siteIDs); err != nil {
		return nil, err
	}
	return map[string]any{"userId": userID, "siteIds": siteIDs}, nil
}

// --- Authorization helpers ---

func (s *Service) requireModerator(ctx context.Context, session Session, siteID string) error {
	tn, err := s.tenant(ctx)
	if err != nil {
		return err
	}
	if !user.CanModerate(&session.User, user.ScopedResource{SiteID: siteID}, &tn) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return nil
}

func (s *Service) requireConfigure(session Session) error {
	if !user.Can(session.User.Role, user.ActionConfigure) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return nil
}
