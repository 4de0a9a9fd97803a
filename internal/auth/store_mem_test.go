package auth

import (
	"context"
	"sync"
	"time"
)

// memStore is an in-memory Store for service-level tests. Postgres-backed
// behavior is covered separately with sqlmock.
type memStore struct {
	mu      sync.Mutex
	users   map[string]*User
	refresh map[string]*RefreshToken
	keys    map[string]*APIKey
	edges   []ManagementEdge
	members []CompanyMembership

	findKeyErr error
	findKeyHit *APIKey
	touched    []string
}

func newMemStore() *memStore {
	return &memStore{
		users:   make(map[string]*User),
		refresh: make(map[string]*RefreshToken),
		keys:    make(map[string]*APIKey),
	}
}

func (m *memStore) Users(ctx context.Context) UserStore                 { return memUsers{m} }
func (m *memStore) RefreshTokens(ctx context.Context) RefreshTokenStore { return memRefresh{m} }
func (m *memStore) APIKeys(ctx context.Context) APIKeyStore             { return memKeys{m} }
func (m *memStore) Management(ctx context.Context) ManagementStore      { return memEdges{m} }
func (m *memStore) Memberships(ctx context.Context) MembershipStore     { return memMembers{m} }

func (m *memStore) addUser(u *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
}

func (m *memStore) addKey(key *APIKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *key
	m.keys[key.KeyID] = &cp
}

func (m *memStore) addRefresh(tok *RefreshToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tok
	m.refresh[tok.Token] = &cp
}

type memUsers struct{ m *memStore }

func (s memUsers) Create(ctx context.Context, u *User) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, existing := range s.m.users {
		if existing.Email == u.Email {
			return ErrConflict
		}
	}
	cp := *u
	s.m.users[u.ID] = &cp
	return nil
}

func (s memUsers) Find(ctx context.Context, id string) (*User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	u, ok := s.m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s memUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, u := range s.m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

type memRefresh struct{ m *memStore }

func (s memRefresh) Create(ctx context.Context, tok *RefreshToken) error {
	s.m.addRefresh(tok)
	return nil
}

func (s memRefresh) Find(ctx context.Context, token string) (*RefreshToken, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	tok, ok := s.m.refresh[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s memRefresh) Invalidate(ctx context.Context, token string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if tok, ok := s.m.refresh[token]; ok {
		tok.Valid = false
	}
	return nil
}

func (s memRefresh) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for token, tok := range s.m.refresh {
		if !tok.Valid || tok.ExpiresAt.Before(now) {
			delete(s.m.refresh, token)
			n++
		}
	}
	return n, nil
}

type memKeys struct{ m *memStore }

func (s memKeys) Create(ctx context.Context, key *APIKey) error {
	s.m.addKey(key)
	return nil
}

func (s memKeys) FindByKeyID(ctx context.Context, keyID string) (*APIKey, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.findKeyErr != nil {
		return nil, s.m.findKeyErr
	}
	if s.m.findKeyHit != nil {
		cp := *s.m.findKeyHit
		return &cp, nil
	}
	key, ok := s.m.keys[keyID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *key
	return &cp, nil
}

func (s memKeys) ListByOwner(ctx context.Context, userID string) ([]*APIKey, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*APIKey
	for _, key := range s.m.keys {
		if key.UserID == userID {
			cp := *key
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s memKeys) Disable(ctx context.Context, keyID, reason string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	key, ok := s.m.keys[keyID]
	if !ok {
		return ErrNotFound
	}
	key.Active = false
	key.DisabledReason = reason
	return nil
}

func (s memKeys) TouchUsage(ctx context.Context, keyID string, at time.Time, ip string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.touched = append(s.m.touched, keyID)
	if key, ok := s.m.keys[keyID]; ok {
		key.LastUsedAt = at
		key.LastUsedIP = ip
	}
	return nil
}

type memEdges struct{ m *memStore }

func (s memEdges) AcceptedForManager(ctx context.Context, managerUserID string) ([]ManagementEdge, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []ManagementEdge
	for _, edge := range s.m.edges {
		if edge.ManagerUserID == managerUserID && edge.State == EdgeStateAccepted {
			out = append(out, edge)
		}
	}
	return out, nil
}

type memMembers struct{ m *memStore }

func (s memMembers) ForUser(ctx context.Context, userID string) ([]CompanyMembership, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []CompanyMembership
	for _, member := range s.m.members {
		if member.UserID == userID {
			out = append(out, member)
		}
	}
	return out, nil
}
