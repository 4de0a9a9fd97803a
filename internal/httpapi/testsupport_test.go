package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"linkto.me/internal/auth"
	"linkto.me/internal/config"
	"linkto.me/internal/ids"
	"linkto.me/internal/profile"
	"linkto.me/internal/ratelimit"
)

// fakeStore is an in-memory auth.Store for handler tests.
type fakeStore struct {
	mu      sync.Mutex
	users   map[string]*auth.User
	refresh map[string]*auth.RefreshToken
	keys    map[string]*auth.APIKey
	edges   []auth.ManagementEdge
	members []auth.CompanyMembership
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   make(map[string]*auth.User),
		refresh: make(map[string]*auth.RefreshToken),
		keys:    make(map[string]*auth.APIKey),
	}
}

func (f *fakeStore) Users(ctx context.Context) auth.UserStore                 { return fakeUsers{f} }
func (f *fakeStore) RefreshTokens(ctx context.Context) auth.RefreshTokenStore { return fakeRefresh{f} }
func (f *fakeStore) APIKeys(ctx context.Context) auth.APIKeyStore             { return fakeKeys{f} }
func (f *fakeStore) Management(ctx context.Context) auth.ManagementStore      { return fakeEdges{f} }
func (f *fakeStore) Memberships(ctx context.Context) auth.MembershipStore     { return fakeMembers{f} }

type fakeUsers struct{ f *fakeStore }

func (s fakeUsers) Create(ctx context.Context, u *auth.User) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	for _, existing := range s.f.users {
		if existing.Email == u.Email {
			return auth.ErrConflict
		}
	}
	cp := *u
	s.f.users[u.ID] = &cp
	return nil
}

func (s fakeUsers) Find(ctx context.Context, id string) (*auth.User, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	u, ok := s.f.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s fakeUsers) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	for _, u := range s.f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

type fakeRefresh struct{ f *fakeStore }

func (s fakeRefresh) Create(ctx context.Context, tok *auth.RefreshToken) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	cp := *tok
	s.f.refresh[tok.Token] = &cp
	return nil
}

func (s fakeRefresh) Find(ctx context.Context, token string) (*auth.RefreshToken, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	tok, ok := s.f.refresh[token]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s fakeRefresh) Invalidate(ctx context.Context, token string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if tok, ok := s.f.refresh[token]; ok {
		tok.Valid = false
	}
	return nil
}

func (s fakeRefresh) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	var n int64
	for token, tok := range s.f.refresh {
		if !tok.Valid || tok.ExpiresAt.Before(now) {
			delete(s.f.refresh, token)
			n++
		}
	}
	return n, nil
}

type fakeKeys struct{ f *fakeStore }

func (s fakeKeys) Create(ctx context.Context, key *auth.APIKey) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	cp := *key
	s.f.keys[key.KeyID] = &cp
	return nil
}

func (s fakeKeys) FindByKeyID(ctx context.Context, keyID string) (*auth.APIKey, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	key, ok := s.f.keys[keyID]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *key
	return &cp, nil
}

func (s fakeKeys) ListByOwner(ctx context.Context, userID string) ([]*auth.APIKey, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	var out []*auth.APIKey
	for _, key := range s.f.keys {
		if key.UserID == userID {
			cp := *key
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s fakeKeys) Disable(ctx context.Context, keyID, reason string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	key, ok := s.f.keys[keyID]
	if !ok {
		return auth.ErrNotFound
	}
	key.Active = false
	key.DisabledReason = reason
	return nil
}

func (s fakeKeys) TouchUsage(ctx context.Context, keyID string, at time.Time, ip string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if key, ok := s.f.keys[keyID]; ok {
		key.LastUsedAt = at
		key.LastUsedIP = ip
	}
	return nil
}

type fakeEdges struct{ f *fakeStore }

func (s fakeEdges) AcceptedForManager(ctx context.Context, managerUserID string) ([]auth.ManagementEdge, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	var out []auth.ManagementEdge
	for _, edge := range s.f.edges {
		if edge.ManagerUserID == managerUserID && edge.State == auth.EdgeStateAccepted {
			out = append(out, edge)
		}
	}
	return out, nil
}

type fakeMembers struct{ f *fakeStore }

func (s fakeMembers) ForUser(ctx context.Context, userID string) ([]auth.CompanyMembership, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	var out []auth.CompanyMembership
	for _, member := range s.f.members {
		if member.UserID == userID {
			out = append(out, member)
		}
	}
	return out, nil
}

// fakeProfiles is an in-memory profile.Store.
type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]*profile.Profile
	links    map[string][]profile.Link
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{
		profiles: make(map[string]*profile.Profile),
		links:    make(map[string][]profile.Link),
	}
}

func (f *fakeProfiles) Get(ctx context.Context, userID string) (*profile.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return nil, profile.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfiles) Update(ctx context.Context, p *profile.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	cp.UpdatedAt = time.Now().UTC()
	f.profiles[p.UserID] = &cp
	return nil
}

func (f *fakeProfiles) Links(ctx context.Context, userID string) ([]profile.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[userID], nil
}

// memCounters is an in-memory ratelimit.CounterStore.
type memCounters struct {
	mu       sync.Mutex
	counters map[string]*ratelimit.Counter
}

func newMemCounters() *memCounters {
	return &memCounters{counters: make(map[string]*ratelimit.Counter)}
}

func (m *memCounters) Find(ctx context.Context, scopeKey string) (*ratelimit.Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[scopeKey]
	if !ok {
		return nil, ratelimit.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCounters) Upsert(ctx context.Context, c *ratelimit.Counter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.counters[c.ScopeKey] = &cp
	return nil
}

func (m *memCounters) DeleteStale(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

type testEnv struct {
	api      *API
	handler  http.Handler
	store    *fakeStore
	profiles *fakeProfiles
	tokens   *auth.Service
	keys     *auth.KeyService
	cfg      config.Config
}

func testConfig() config.Config {
	return config.Config{
		Env:                config.EnvDevelopment,
		Addr:               ":0",
		AuthSecret:         strings.Repeat("s", 64),
		Issuer:             "linkto.me",
		AccessTTL:          15 * time.Minute,
		RefreshTTL:         24 * time.Hour,
		SuspicionThreshold: 200,
		BotPolicy:          config.BotPolicyBlock,
		TierLimits: map[string]config.TierLimit{
			"free": {RequestsPerMinute: 30, RequestsPerDay: 1000},
			"pro":  {RequestsPerMinute: 120, RequestsPerDay: 20000},
		},
	}
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	store := newFakeStore()
	tokens, err := auth.NewService(store, cfg.AuthSecret,
		auth.WithIssuer(cfg.Issuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	keys := auth.NewKeyService(store)
	profiles := newFakeProfiles()

	api, err := New(cfg, "test", Deps{
		Tokens:   tokens,
		Keys:     keys,
		Limiter:  ratelimit.New(newMemCounters()),
		Scorer:   ratelimit.NewScorer(cfg.SuspicionThreshold, cfg.AllowedOrigins),
		Store:    store,
		Profiles: profiles,
		Ready:    ReadyProbe{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testEnv{
		api:      api,
		handler:  api.Handler(),
		store:    store,
		profiles: profiles,
		tokens:   tokens,
		keys:     keys,
		cfg:      cfg,
	}
}

// seedUser registers an active user and returns its id.
func (e *testEnv) seedUser(t *testing.T, email, password, role string) string {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u := &auth.User{
		Email:        email,
		Username:     strings.SplitN(email, "@", 2)[0],
		PasswordHash: hash,
		Role:         role,
		Status:       auth.UserStatusActive,
		Tier:         "free",
	}
	if err := e.store.Users(context.Background()).Create(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u.ID
}

// sessionCookie logs the user in through the public endpoint and returns
// the auth cookie plus the response body.
func (e *testEnv) sessionCookie(t *testing.T, email, password string) *http.Cookie {
	t.Helper()
	rec := e.do(t, browserPOST("/public/login", `{"email":"`+email+`","password":"`+password+`"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	for _, c := range readCookies(rec) {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatal("no session cookie in login response")
	return nil
}

func (e *testEnv) do(t *testing.T, r *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, r)
	return rec
}

func readCookies(rec *httptest.ResponseRecorder) []*http.Cookie {
	resp := http.Response{Header: rec.Header()}
	return resp.Cookies()
}

// browserPOST builds a JSON POST carrying a plausible browser header set so
// the suspicion gate stays quiet.
func browserPOST(path, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Sec-Fetch-Site", "same-origin")
	r.Header.Set("Sec-Fetch-Mode", "cors")
	r.Header.Set("Origin", "https://linkto.me")
	r.Header.Set("Referer", "https://linkto.me/login")
	r.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")
	r.Header.Set("Accept-Language", "en-US,en;q=0.9")
	r.Header.Set("Accept-Encoding", "gzip, deflate, br")
	return r
}
