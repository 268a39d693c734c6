package app

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"colloquy/api/internal/authpw"
	"colloquy/api/internal/config"
	"colloquy/api/internal/store"
	"colloquy/api/internal/story"
	"colloquy/api/internal/tenant"
	"colloquy/api/internal/user"
)

type fakeStore struct {
	mu       sync.Mutex
	tenants  map[string]tenant.Tenant
	sites    map[string]tenant.Site
	stories  map[string]story.Story
	comments map[string]store.Comment
	flags    map[string]map[string]string
	actions  []store.ModerationAction
	users    map[string]store.User
	resets   map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tenants:  map[string]tenant.Tenant{},
		sites:    map[string]tenant.Site{},
		stories:  map[string]story.Story{},
		comments: map[string]store.Comment{},
		flags:    map[string]map[string]string{},
		users:    map[string]store.User{},
		resets:   map[string]string{},
	}
}

func (f *fakeStore) GetTenant(_ context.Context, id string) (tenant.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return tenant.Tenant{}, sql.ErrNoRows
	}
	return t, nil
}

func (f *fakeStore) CreateTenant(_ context.Context, t tenant.Tenant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenants[t.ID] = t
	return nil
}

func (f *fakeStore) UpdateTenantSettings(_ context.Context, t tenant.Tenant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenants[t.ID] = t
	return nil
}

func (f *fakeStore) CreateSite(_ context.Context, site tenant.Site) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sites[site.ID] = site
	return nil
}

func (f *fakeStore) GetSite(_ context.Context, id string) (tenant.Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	site, ok := f.sites[id]
	if !ok {
		return tenant.Site{}, sql.ErrNoRows
	}
	return site, nil
}

func (f *fakeStore) UpdateSite(_ context.Context, site tenant.Site) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sites[site.ID]; !ok {
		return sql.ErrNoRows
	}
	f.sites[site.ID] = site
	return nil
}

func (f *fakeStore) DeleteSite(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sites[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.sites, id)
	return nil
}

func (f *fakeStore) ListSites(_ context.Context, tenantID string) ([]tenant.Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []tenant.Site{}
	for _, site := range f.sites {
		if site.TenantID == tenantID {
			out = append(out, site)
		}
	}
	return out, nil
}

func (f *fakeStore) GetStory(_ context.Context, id string) (story.Story, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.stories[id]
	if !ok {
		return story.Story{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) FindStoryByURL(_ context.Context, siteID, url string) (story.Story, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.stories {
		if item.SiteID == siteID && item.URL == url {
			return item, nil
		}
	}
	return story.Story{}, sql.ErrNoRows
}

func (f *fakeStore) CreateStory(_ context.Context, item story.Story) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item.ActionCounts == nil {
		item.ActionCounts = map[string]int64{}
	}
	f.stories[item.ID] = item
	return nil
}

func (f *fakeStore) ListStoriesBySite(_ context.Context, siteID string) ([]story.Story, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []story.Story{}
	for _, item := range f.stories {
		if item.SiteID == siteID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateStorySettings(_ context.Context, id string, settings story.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.stories[id]
	if !ok {
		return sql.ErrNoRows
	}
	item.Settings = settings
	f.stories[id] = item
	return nil
}

func (f *fakeStore) CloseStory(_ context.Context, id string, closedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.stories[id]
	if !ok {
		return sql.ErrNoRows
	}
	item.ClosedAt = &closedAt
	item.CloseDisabled = false
	f.stories[id] = item
	return nil
}

func (f *fakeStore) ReopenStory(_ context.Context, id string, disableClosing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.stories[id]
	if !ok {
		return sql.ErrNoRows
	}
	item.ClosedAt = nil
	item.CloseDisabled = disableClosing
	f.stories[id] = item
	return nil
}

func (f *fakeStore) TouchStoryLastCommented(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.stories[id]
	if !ok {
		return sql.ErrNoRows
	}
	item.LastCommentedAt = &at
	f.stories[id] = item
	return nil
}

func (f *fakeStore) IncrementStoryActionCounts(_ context.Context, id string, deltas map[string]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.stories[id]
	if !ok {
		return sql.ErrNoRows
	}
	if item.ActionCounts == nil {
		item.ActionCounts = map[string]int64{}
	}
	for key, delta := range deltas {
		item.ActionCounts[key] += delta
	}
	f.stories[id] = item
	return nil
}

func (f *fakeStore) IncrementCommentActionCounts(_ context.Context, id string, deltas map[string]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.comments[id]
	if !ok {
		return sql.ErrNoRows
	}
	if item.ActionCounts == nil {
		item.ActionCounts = map[string]int64{}
	}
	for key, delta := range deltas {
		item.ActionCounts[key] += delta
	}
	f.comments[id] = item
	return nil
}

func (f *fakeStore) CreateComment(_ context.Context, item store.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item.ActionCounts == nil {
		item.ActionCounts = map[string]int64{}
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	f.comments[item.ID] = item
	return nil
}

func (f *fakeStore) GetComment(_ context.Context, id string) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.comments[id]
	if !ok {
		return store.Comment{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) ListCommentsByQueue(_ context.Context, storyID, queue string) ([]store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Comment{}
	for _, item := range f.comments {
		if item.StoryID != storyID {
			continue
		}
		if commentInQueue(item, queue) {
			out = append(out, item)
		}
	}
	return out, nil
}

func commentInQueue(item store.Comment, queue string) bool {
	switch queue {
	case store.QueuePublished:
		return item.Status == store.CommentStatusNone || item.Status == store.CommentStatusApproved
	case store.QueueUnmoderated:
		return item.Status == store.CommentStatusNone ||
			item.Status == store.CommentStatusPremod ||
			item.Status == store.CommentStatusSystemWithheld
	case store.QueuePending:
		return item.Status == store.CommentStatusPremod || item.Status == store.CommentStatusSystemWithheld
	case store.QueueApproved:
		return item.Status == store.CommentStatusApproved
	case store.QueueRejected:
		return item.Status == store.CommentStatusRejected
	case store.QueueReported:
		if item.Status == store.CommentStatusApproved || item.Status == store.CommentStatusRejected {
			return false
		}
		var flagged int64
		for key, n := range item.ActionCounts {
			if len(key) >= 4 && key[:4] == "FLAG" {
				flagged += n
			}
		}
		return flagged > 0
	}
	return false
}

func (f *fakeStore) UpdateCommentStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.comments[id]
	if !ok {
		return sql.ErrNoRows
	}
	item.Status = status
	f.comments[id] = item
	return nil
}

func (f *fakeStore) CountCommentsByStatus(_ context.Context, storyID string) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int64{}
	for _, item := range f.comments {
		if item.StoryID == storyID {
			out[item.Status]++
		}
	}
	return out, nil
}

func (f *fakeStore) InsertCommentFlag(_ context.Context, flag store.CommentFlag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	byUser, ok := f.flags[flag.CommentID]
	if !ok {
		byUser = map[string]string{}
		f.flags[flag.CommentID] = byUser
	}
	byUser[flag.UserID] = flag.Reason
	return nil
}

func (f *fakeStore) HasCommentFlag(_ context.Context, commentID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.flags[commentID][userID]
	return ok, nil
}

func (f *fakeStore) InsertModerationAction(_ context.Context, action store.ModerationAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	action.CreatedAt = time.Now()
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeStore) ListModerationActions(_ context.Context, commentID string) ([]store.ModerationAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.ModerationAction{}
	for _, action := range f.actions {
		if action.CommentID == commentID {
			out = append(out, action)
		}
	}
	return out, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) CreateUser(_ context.Context, u store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.VerificationToken = token
	u.VerificationExpiresAt = &expiresAt
	f.users[userID] = u
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.users {
		if u.VerificationToken == token && token != "" {
			u.EmailVerified = true
			u.VerificationToken = ""
			f.users[id] = u
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	f.users[userID] = u
	return nil
}

func (f *fakeStore) UpdateUserRole(_ context.Context, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.Role = role
	f.users[userID] = u
	return nil
}

func (f *fakeStore) SetUserSiteScopes(_ context.Context, userID string, siteIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.SiteScopes = siteIDs
	f.users[userID] = u
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resets, token)
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeSessions struct {
	mu      sync.Mutex
	refresh map[string]store.User
	revoked map[string]bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{refresh: map[string]store.User{}, revoked: map[string]bool{}}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash string, u store.User, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = u
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, errors.New("refresh session not found")
	}
	return u, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeSessions) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeSessions) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeSessions) Ping(context.Context) error { return nil }

func newTestService(t *testing.T) (*Service, *fakeStore, *fakeSessions) {
	t.Helper()
	fs := newFakeStore()
	sessions := newFakeSessions()
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		CORSOrigin: "http://localhost:3000",
	}
	svc := New(cfg, fs, sessions, authpw.NewService(fs), nil, nil, nil, zerolog.Nop())
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return svc, fs, sessions
}

func seedStory(t *testing.T, fs *fakeStore, id string) story.Story {
	t.Helper()
	item := story.Story{
		ID:           id,
		SiteID:       "site_default",
		URL:          "https://news.example.com/" + id,
		Title:        "Story " + id,
		CreatedAt:    time.Now().Add(-time.Hour),
		ActionCounts: map[string]int64{},
	}
	if err := fs.CreateStory(context.Background(), item); err != nil {
		t.Fatalf("seed story: %v", err)
	}
	return item
}

func seedUser(t *testing.T, fs *fakeStore, id string, role user.Role, scopes ...string) Session {
	t.Helper()
	u := store.User{
		ID:            id,
		Email:         id + "@example.com",
		Username:      id,
		Role:          string(role),
		EmailVerified: true,
		SiteScopes:    scopes,
	}
	if err := fs.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return Session{UserID: u.ID, Username: u.Username, Role: u.Role, User: u.Domain()}
}

func TestCreateCommentStatusDerivation(t *testing.T) {
	preMode := tenant.ModerationPre

	tests := []struct {
		name       string
		role       user.Role
		body       string
		tenantMode tenant.ModerationMode
		premodLink bool
		storyMod   *tenant.ModerationMode
		want       string
	}{
		{"post moderation publishes immediately", user.RoleCommenter, "nice piece", tenant.ModerationPost, false, nil, store.CommentStatusNone},
		{"pre moderation holds", user.RoleCommenter, "nice piece", tenant.ModerationPre, false, nil, store.CommentStatusPremod},
		{"link under premod-links is withheld", user.RoleCommenter, "see https://spam.example.com", tenant.ModerationPost, true, nil, store.CommentStatusSystemWithheld},
		{"www link is also a link", user.RoleCommenter, "visit www.example.com today", tenant.ModerationPost, true, nil, store.CommentStatusSystemWithheld},
		{"staff bypass premod", user.RoleStaff, "official note", tenant.ModerationPre, false, nil, store.CommentStatusNone},
		{"staff bypass link hold", user.RoleAdmin, "see https://example.com", tenant.ModerationPost, true, nil, store.CommentStatusNone},
		{"story override beats tenant default", user.RoleCommenter, "nice piece", tenant.ModerationPost, false, &preMode, store.CommentStatusPremod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, fs, _ := newTestService(t)
			ctx := context.Background()

			tn, _ := fs.GetTenant(ctx, defaultTenantID)
			tn.Moderation = tt.tenantMode
			tn.PremodLinksEnable = tt.premodLink
			_ = fs.UpdateTenantSettings(ctx, tn)

			item := seedStory(t, fs, "sto_derive")
			if tt.storyMod != nil {
				item.Settings.Moderation = tt.storyMod
				_ = fs.UpdateStorySettings(ctx, item.ID, item.Settings)
			}

			session := seedUser(t, fs, "usr_"+string(tt.role), tt.role)
			payload, err := svc.CreateComment(ctx, session, item.ID, tt.body)
			if err != nil {
				t.Fatalf("CreateComment: %v", err)
			}
			if payload["status"] != tt.want {
				t.Errorf("status = %v, want %v", payload["status"], tt.want)
			}
		})
	}
}

func TestCreateCommentRejectedWhenStoryClosed(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()

	item := seedStory(t, fs, "sto_closed")
	closedAt := time.Now().Add(-time.Minute)
	_ = fs.CloseStory(ctx, item.ID, closedAt)

	session := seedUser(t, fs, "usr_closed", user.RoleCommenter)
	_, err := svc.CreateComment(ctx, session, item.ID, "too late")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "STORY_CLOSED" {
		t.Fatalf("expected STORY_CLOSED, got %v", err)
	}
}

func TestCreateCommentRejectedWhenTenantReadOnly(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()

	tn, _ := fs.GetTenant(ctx, defaultTenantID)
	tn.FeatureFlags = []tenant.FeatureFlag{tenant.FlagReadOnly}
	_ = fs.UpdateTenantSettings(ctx, tn)

	item := seedStory(t, fs, "sto_readonly")
	session := seedUser(t, fs, "usr_readonly", user.RoleCommenter)
	_, err := svc.CreateComment(ctx, session, item.ID, "hello")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "COMMENTING_DISABLED" {
		t.Fatalf("expected COMMENTING_DISABLED, got %v", err)
	}
}

func TestCreateCommentTouchesLastCommentedAt(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()

	item := seedStory(t, fs, "sto_touch")
	session := seedUser(t, fs, "usr_touch", user.RoleCommenter)
	if _, err := svc.CreateComment(ctx, session, item.ID, "first"); err != nil {
		t.Fatalf("CreateComment: %v", err)
	}

	updated, _ := fs.GetStory(ctx, item.ID)
	if updated.LastCommentedAt == nil {
		t.Fatal("LastCommentedAt not set after comment")
	}
}

func TestFlagCommentIsIdempotentPerUser(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()

	item := seedStory(t, fs, "sto_flag")
	author := seedUser(t, fs, "usr_author", user.RoleCommenter)
	flagger := seedUser(t, fs, "usr_flagger", user.RoleCommenter)

	payload, err := svc.CreateComment(ctx, author, item.ID, "contentious take")
	if err != nil {
		t.Fatalf("CreateComment: %v", err)
	}
	commentID := payload["id"].(string)

	first, err := svc.FlagComment(ctx, flagger, commentID, "SPAM")
	if err != nil {
		t.Fatalf("first flag: %v", err)
	}
	if first["duplicate"] != false {
		t.Error("first flag reported as duplicate")
	}

	second, err := svc.FlagComment(ctx, flagger, commentID, "SPAM")
	if err != nil {
		t.Fatalf("second flag: %v", err)
	}
	if second["duplicate"] != true {
		t.Error("second flag not reported as duplicate")
	}

	comment, _ := fs.GetComment(ctx, commentID)
	if comment.ActionCounts["FLAG_SPAM"] != 1 {
		t.Errorf("FLAG_SPAM = %d, want 1", comment.ActionCounts["FLAG_SPAM"])
	}
	updated, _ := fs.GetStory(ctx, item.ID)
	if updated.ActionCounts["FLAG_SPAM"] != 1 {
		t.Errorf("story FLAG_SPAM = %d, want 1", updated.ActionCounts["FLAG_SPAM"])
	}
}

func TestFlagCommentRejectsUnknownReason(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()

	item := seedStory(t, fs, "sto_badreason")
	author := seedUser(t, fs, "usr_a", user.RoleCommenter)
	payload, err := svc.CreateComment(ctx, author, item.ID, "hello")
	if err != nil {
		t.Fatalf("CreateComment: %v", err)
	}

	_, err = svc.FlagComment(ctx, author, payload["id"].(string), "BORING")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestModerateCommentRequiresModerationAuthority(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()

	item := seedStory(t, fs, "sto_mod")
	author := seedUser(t, fs, "usr_writer", user.RoleCommenter)
	payload, err := svc.CreateComment(ctx, author, item.ID, "needs review")
	if err != nil {
		t.Fatalf("CreateComment: %v", err)
	}
	commentID := payload["id"].(string)

	_, err = svc.ModerateComment(ctx, author, commentID, store.CommentStatusApproved)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("commenter should be forbidden, got %v", err)
	}

	moderator := seedUser(t, fs, "usr_mod", user.RoleModerator)
	result, err := svc.ModerateComment(ctx, moderator, commentID, store.CommentStatusRejected)
	if err != nil {
		t.Fatalf("ModerateComment: %v", err)
	}
	if result["status"] != store.CommentStatusRejected {
		t.Errorf("status = %v, want REJECTED", result["status"])
	}

	actions, _ := fs.ListModerationActions(ctx, commentID)
	if len(actions) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(actions))
	}
	if actions[0].FromStatus != store.CommentStatusNone || actions[0].ToStatus != store.CommentStatusRejected {
		t.Errorf("audit entry %s -> %s", actions[0].FromStatus, actions[0].ToStatus)
	}
}

func TestSiteScopedModeration(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()

	_ = fs.CreateSite(ctx, tenant.Site{ID: "site_other", TenantID: defaultTenantID, Name: "Other"})
	home := seedStory(t, fs, "sto_home")
	other := story.Story{ID: "sto_other", SiteID: "site_other", URL: "https://other.example.com/a", CreatedAt: time.Now()}
	_ = fs.CreateStory(ctx, other)

	author := seedUser(t, fs, "usr_poster", user.RoleCommenter)
	homeComment, err := svc.CreateComment(ctx, author, home.ID, "on home site")
	if err != nil {
		t.Fatalf("CreateComment: %v", err)
	}
	otherComment, err := svc.CreateComment(ctx, author, other.ID, "on other site")
	if err != nil {
		t.Fatalf("CreateComment: %v", err)
	}

	scoped := seedUser(t, fs, "usr_scoped", user.RoleCommenter, "site_default")

	// Without the feature flag the scope assignment is inert.
	_, err = svc.ModerateComment(ctx, scoped, homeComment["id"].(string), store.CommentStatusApproved)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("scope should not apply without flag, got %v", err)
	}

	tn, _ := fs.GetTenant(ctx, defaultTenantID)
	tn.FeatureFlags = []tenant.FeatureFlag{tenant.FlagSiteModerator}
	_ = fs.UpdateTenantSettings(ctx, tn)

	if _, err := svc.ModerateComment(ctx, scoped, homeComment["id"].(string), store.CommentStatusApproved); err != nil {
		t.Fatalf("scoped moderator on own site: %v", err)
	}
	_, err = svc.ModerateComment(ctx, scoped, otherComment["id"].(string), store.CommentStatusApproved)
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("scoped moderator must not reach other sites, got %v", err)
	}
}

func TestListCommentsModerationQueuesGated(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()

	item := seedStory(t, fs, "sto_queues")
	author := seedUser(t, fs, "usr_q", user.RoleCommenter)
	if _, err := svc.CreateComment(ctx, author, item.ID, "visible"); err != nil {
		t.Fatalf("CreateComment: %v", err)
	}

	// Anonymous viewers read the published bucket.
	published, err := svc.ListComments(ctx, nil, item.ID, "")
	if err != nil {
		t.Fatalf("ListComments published: %v", err)
	}
	if len(published) != 1 {
		t.Errorf("published = %d comments, want 1", len(published))
	}

	_, err = svc.ListComments(ctx, nil, item.ID, store.QueueRejected)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("moderation queue should be gated, got %v", err)
	}

	moderator := seedUser(t, fs, "usr_qmod", user.RoleModerator)
	if _, err := svc.ListComments(ctx, &moderator.User, item.ID, store.QueueUnmoderated); err != nil {
		t.Fatalf("moderator queue access: %v", err)
	}

	_, err = svc.ListComments(ctx, &moderator.User, item.ID, "everything")
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("unknown queue should 422, got %v", err)
	}
}

func TestStoryViewReportsCorruptCounts(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()

	item := seedStory(t, fs, "sto_corrupt")
	item.ActionCounts = map[string]int64{"FLAG": -3}
	fs.mu.Lock()
	fs.stories[item.ID] = item
	fs.mu.Unlock()

	_, err := svc.StoryView(ctx, item.ID, nil)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "DATA_INTEGRITY" {
		t.Fatalf("expected DATA_INTEGRITY, got %v", err)
	}
}

func TestUpdateStorySettingsExplicitFalseOverride(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()

	tn, _ := fs.GetTenant(ctx, defaultTenantID)
	tn.PremodLinksEnable = true
	_ = fs.UpdateTenantSettings(ctx, tn)

	item := seedStory(t, fs, "sto_override")
	moderator := seedUser(t, fs, "usr_settings", user.RoleAdmin)

	off := false
	payload, err := svc.UpdateStorySettings(ctx, moderator, item.ID, story.Settings{PremodLinksEnable: &off})
	if err != nil {
		t.Fatalf("UpdateStorySettings: %v", err)
	}

	settings := payload["settings"].(map[string]any)
	if settings["premodLinksEnable"] != false {
		t.Errorf("premodLinksEnable = %v, want explicit false override", settings["premodLinksEnable"])
	}
}

func TestCloseAndReopenStory(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()

	item := seedStory(t, fs, "sto_lifecycle")
	moderator := seedUser(t, fs, "usr_lc", user.RoleModerator)

	closed, err := svc.CloseStory(ctx, moderator, item.ID)
	if err != nil {
		t.Fatalf("CloseStory: %v", err)
	}
	if closed["status"] != "CLOSED" {
		t.Errorf("status after close = %v", closed["status"])
	}

	reopened, err := svc.ReopenStory(ctx, moderator, item.ID, true)
	if err != nil {
		t.Fatalf("ReopenStory: %v", err)
	}
	if reopened["status"] != "OPEN" {
		t.Errorf("status after reopen = %v", reopened["status"])
	}

	stored, _ := fs.GetStory(ctx, item.ID)
	if !stored.CloseDisabled {
		t.Error("reopen with disableClosing should pin the story open")
	}
}

func TestSessionLifecycle(t *testing.T) {
	svc, _, sessions := newTestService(t)
	ctx := context.Background()

	resp, err := svc.PasswordService().SignUp(ctx, authpw.SignUpRequest{
		Email:    "casey@example.com",
		Password: "hunter2hunter2",
		Username: "casey",
	})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if err := svc.PasswordService().VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}

	session, err := svc.SignIn(ctx, "casey@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("session missing tokens")
	}

	introspected, err := svc.SessionFromToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if introspected.Username != "casey" {
		t.Errorf("username = %s", introspected.Username)
	}

	refreshed, err := svc.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.Token == session.Token {
		t.Error("refresh should mint a new access token")
	}
	// The old refresh token is single-use.
	if _, err := svc.Refresh(ctx, session.RefreshToken); err == nil {
		t.Error("reused refresh token should fail")
	}

	if err := svc.Logout(ctx, refreshed, refreshed.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if revoked, _ := sessions.IsAccessTokenRevoked(ctx, refreshed.JTI); !revoked {
		t.Error("logout should revoke the access token JTI")
	}
	if _, err := svc.SessionFromToken(ctx, refreshed.Token); err == nil {
		t.Error("revoked token should not introspect")
	}
}

func TestSignInUnverifiedEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.PasswordService().SignUp(ctx, authpw.SignUpRequest{
		Email:    "dana@example.com",
		Password: "hunter2hunter2",
		Username: "dana",
	}); err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	_, err := svc.SignIn(ctx, "dana@example.com", "hunter2hunter2")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "EMAIL_UNVERIFIED" {
		t.Fatalf("expected EMAIL_UNVERIFIED, got %v", err)
	}
}

func TestSetFeatureFlagValidation(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()

	admin := seedUser(t, fs, "usr_admin", user.RoleAdmin)

	payload, err := svc.SetFeatureFlag(ctx, admin, "read_only", true)
	if err != nil {
		t.Fatalf("SetFeatureFlag: %v", err)
	}
	flags := payload["featureFlags"].([]tenant.FeatureFlag)
	if len(flags) != 1 || flags[0] != tenant.FlagReadOnly {
		t.Errorf("flags = %v", flags)
	}

	// Disabling removes it again.
	payload, err = svc.SetFeatureFlag(ctx, admin, "READ_ONLY", false)
	if err != nil {
		t.Fatalf("SetFeatureFlag disable: %v", err)
	}
	if len(payload["featureFlags"].([]tenant.FeatureFlag)) != 0 {
		t.Error("flag not removed")
	}

	_, err = svc.SetFeatureFlag(ctx, admin, "TURBO_MODE", true)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("unknown flag should 422, got %v", err)
	}

	moderator := seedUser(t, fs, "usr_notadmin", user.RoleModerator)
	_, err = svc.SetFeatureFlag(ctx, moderator, "READ_ONLY", true)
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("non-admin should be forbidden, got %v", err)
	}
}

func TestSiteLifecycle(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()

	admin := seedUser(t, fs, "usr_siteadmin", user.RoleAdmin)

	created, err := svc.CreateSite(ctx, admin, SiteInput{Name: "City Desk", AllowedOrigins: []string{"https://city.example.com"}})
	if err != nil {
		t.Fatalf("CreateSite: %v", err)
	}
	siteID := created["id"].(string)

	updated, err := svc.UpdateSite(ctx, admin, siteID, SiteInput{Name: "Metro Desk"})
	if err != nil {
		t.Fatalf("UpdateSite: %v", err)
	}
	if updated["name"] != "Metro Desk" {
		t.Errorf("name = %v", updated["name"])
	}
	// Origins untouched by a name-only patch.
	if origins := updated["allowedOrigins"].([]string); len(origins) != 1 {
		t.Errorf("origins = %v", origins)
	}

	// A site with stories refuses deletion.
	_ = fs.CreateStory(ctx, story.Story{ID: "sto_on_site", SiteID: siteID, URL: "https://city.example.com/a", CreatedAt: time.Now()})
	err = svc.DeleteSite(ctx, admin, siteID)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "SITE_NOT_EMPTY" {
		t.Fatalf("expected SITE_NOT_EMPTY, got %v", err)
	}

	fs.mu.Lock()
	delete(fs.stories, "sto_on_site")
	fs.mu.Unlock()
	if err := svc.DeleteSite(ctx, admin, siteID); err != nil {
		t.Fatalf("DeleteSite: %v", err)
	}
	if _, err := fs.GetSite(ctx, siteID); !errors.Is(err, sql.ErrNoRows) {
		t.Error("site not deleted")
	}
}

func TestUpdateUserRoleValidation(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()

	admin := seedUser(t, fs, "usr_root", user.RoleAdmin)
	target := seedUser(t, fs, "usr_target", user.RoleCommenter)

	if _, err := svc.UpdateUserRole(ctx, admin, target.UserID, "moderator"); err != nil {
		t.Fatalf("UpdateUserRole: %v", err)
	}
	stored, _ := fs.GetUserByID(ctx, target.UserID)
	if stored.Role != "MODERATOR" {
		t.Errorf("role = %s", stored.Role)
	}

	_, err := svc.UpdateUserRole(ctx, admin, target.UserID, "OVERLORD")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("unknown role should 422, got %v", err)
	}
}
