package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a mutex-guarded in-memory Store. It backs the service
// in development mode and the concurrency tests; the uniqueness and
// referential guarantees match what the SQL schema enforces.
type MemoryStore struct {
	mu      sync.Mutex
	orgs    map[string]*Organization
	users   map[string]*User
	tokens  map[string]*RefreshToken
	byEmail map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:    make(map[string]*Organization),
		users:   make(map[string]*User),
		tokens:  make(map[string]*RefreshToken),
		byEmail: make(map[string]string),
	}
}

func (m *MemoryStore) CreateOrganization(ctx context.Context, org *Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if org == nil || org.ID == "" {
		return ErrInvalidInput
	}
	if _, ok := m.orgs[org.ID]; ok {
		return ErrConflict
	}
	if org.LedgerTenantID != "" && m.tenantBound(org.LedgerTenantID, org.ID) {
		return ErrConflict
	}
	cp := *org
	m.orgs[org.ID] = &cp
	return nil
}

func (m *MemoryStore) FindOrganization(ctx context.Context, id string) (*Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return redactOrg(org), nil
}

func (m *MemoryStore) UpdateOrganization(ctx context.Context, id string, upd OrganizationUpdate) (*Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.LedgerTenantID != nil && *upd.LedgerTenantID != "" && m.tenantBound(*upd.LedgerTenantID, id) {
		return nil, ErrConflict
	}
	if upd.Name != nil {
		org.Name = *upd.Name
	}
	if upd.LedgerTenantID != nil {
		org.LedgerTenantID = *upd.LedgerTenantID
	}
	if upd.LedgerAPIKey != nil {
		org.LedgerAPIKey = *upd.LedgerAPIKey
	}
	if upd.LastSyncAt != nil {
		org.LastSyncAt = upd.LastSyncAt
	}
	org.UpdatedAt = monotonicNow(org.CreatedAt)
	return redactOrg(org), nil
}

func (m *MemoryStore) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u == nil || u.ID == "" {
		return ErrInvalidInput
	}
	if _, ok := m.orgs[u.OrganizationID]; !ok {
		return ErrInvalidInput
	}
	email := strings.ToLower(u.Email)
	if _, ok := m.byEmail[email]; ok {
		return ErrConflict
	}
	if _, ok := m.users[u.ID]; ok {
		return ErrConflict
	}
	cp := *u
	m.users[u.ID] = &cp
	m.byEmail[email] = u.ID
	return nil
}

func (m *MemoryStore) FindUser(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *MemoryStore) ListUsersByOrg(ctx context.Context, orgID string) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*User
	for _, u := range m.users {
		if u.OrganizationID == orgID {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.Active != nil {
		u.Active = *upd.Active
	}
	if upd.LastLoginAt != nil {
		t := *upd.LastLoginAt
		u.LastLoginAt = &t
	}
	u.UpdatedAt = monotonicNow(u.CreatedAt)
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) CreateRefreshToken(ctx context.Context, tok *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tok == nil || tok.ID == "" {
		return ErrInvalidInput
	}
	if _, ok := m.tokens[tok.ID]; ok {
		return ErrConflict
	}
	cp := *tok
	m.tokens[tok.ID] = &cp
	return nil
}

func (m *MemoryStore) FindRefreshToken(ctx context.Context, id string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

// RotateRefreshToken performs the revoke-and-replace under a single
// lock acquisition, which is what makes concurrent refresh calls on the
// same credential resolve to exactly one winner.
func (m *MemoryStore) RotateRefreshToken(ctx context.Context, id, expectedHash string, next *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok || tok.Revoked || tok.TokenHash != expectedHash {
		return ErrInvalidToken
	}
	tok.Revoked = true
	cp := *next
	m.tokens[next.ID] = &cp
	return nil
}

func (m *MemoryStore) RevokeRefreshToken(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return ErrNotFound
	}
	tok.Revoked = true
	return nil
}

func (m *MemoryStore) RevokeRefreshTokensByUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tok := range m.tokens {
		if tok.UserID == userID {
			tok.Revoked = true
		}
	}
	return nil
}

func (m *MemoryStore) tenantBound(tenantID, exceptOrgID string) bool {
	for id, org := range m.orgs {
		if id != exceptOrgID && org.LedgerTenantID == tenantID {
			return true
		}
	}
	return false
}

// redactOrg strips the write-only API key from read paths.
func redactOrg(org *Organization) *Organization {
	cp := *org
	cp.LedgerAPIKey = ""
	return &cp
}

func monotonicNow(createdAt time.Time) time.Time {
	now := time.Now().UTC()
	if now.Before(createdAt) {
		return createdAt
	}
	return now
}
