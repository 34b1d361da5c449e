package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"finpulse.org/internal/ids"
)

const (
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 14 * 24 * time.Hour
	defaultIssuer     = "finpulse"
)

// Service owns every identity and access decision: signup, login,
// session issuance, refresh rotation and per-capability authorization.
// It holds no mutable state of its own; every decision re-reads the
// current user row from the store, so decisions are never served from
// stale privilege data.
type Service struct {
	store      Store
	now        func() time.Time
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// Option configures Service behavior.
type Option func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) error {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl <= 0 {
			return errors.New("auth: access ttl must be positive")
		}
		s.accessTTL = ttl
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl <= 0 {
			return errors.New("auth: refresh ttl must be positive")
		}
		s.refreshTTL = ttl
		return nil
	}
}

// NewService constructs a Service. The signing secret must carry enough
// entropy for HS256; it is never logged or exposed.
func NewService(store Store, secret string, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	s := &Service{
		store:      store,
		now:        time.Now,
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateOrganization onboards a new tenant.
func (s *Service) CreateOrganization(ctx context.Context, name string) (*Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	org := &Organization{
		ID:        ids.New(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateOrganization(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

// GetOrganization loads a tenant. Read paths never include the ledger
// API key.
func (s *Service) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	return s.store.FindOrganization(ctx, id)
}

// RenameOrganization changes the tenant's display name. Requires the
// manage-organization capability, which only admins hold.
func (s *Service) RenameOrganization(ctx context.Context, actorID, orgID, name string) (*Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	if err := s.Authorize(ctx, actorID, CapManageOrg, orgID); err != nil {
		return nil, err
	}
	return s.store.UpdateOrganization(ctx, orgID, OrganizationUpdate{Name: &name})
}

// BootstrapOrganization onboards a tenant together with its first
// admin. There is no actor to authorize yet; this is the only path that
// mints an admin without one.
func (s *Service) BootstrapOrganization(ctx context.Context, name string, admin SignupData) (*Organization, *User, error) {
	org, err := s.CreateOrganization(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	admin.OrganizationID = org.ID
	user, err := s.createUser(ctx, admin, RoleAdmin)
	if err != nil {
		return nil, nil, err
	}
	return org, user, nil
}

// Signup provisions a self-service user. A user cannot exist without an
// owning organization, and an unauthenticated signup can never claim a
// role above staff; anything else goes through ProvisionUser.
func (s *Service) Signup(ctx context.Context, data SignupData) (*User, error) {
	if data.Role != "" {
		role, err := ParseRole(data.Role)
		if err != nil {
			return nil, err
		}
		if role != RoleStaff {
			return nil, fmt.Errorf("%w: role %s requires administrative provisioning", ErrUnauthorized, role)
		}
	}
	return s.createUser(ctx, data, RoleStaff)
}

// ProvisionUser creates a user on behalf of an administrator. The actor
// must be an active admin of the target organization; the requested role
// is honored after validation.
func (s *Service) ProvisionUser(ctx context.Context, actorID string, data SignupData) (*User, error) {
	role := RoleStaff
	if data.Role != "" {
		parsed, err := ParseRole(data.Role)
		if err != nil {
			return nil, err
		}
		role = parsed
	}
	if err := s.Authorize(ctx, actorID, CapEditUser, data.OrganizationID); err != nil {
		return nil, err
	}
	return s.createUser(ctx, data, role)
}

func (s *Service) createUser(ctx context.Context, data SignupData, role Role) (*User, error) {
	email := strings.TrimSpace(strings.ToLower(data.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if data.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	orgID := strings.TrimSpace(data.OrganizationID)
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	if _, err := s.store.FindOrganization(ctx, orgID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown organization %s", ErrInvalidInput, orgID)
		}
		return nil, err
	}
	hash, err := HashPassword(data.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &User{
		ID:             ids.New(),
		OrganizationID: orgID,
		Email:          email,
		Role:           role,
		Active:         true,
		PasswordHash:   hash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login authenticates credentials and issues a fresh session. Lookup
// failures and password mismatches collapse to ErrUnauthorized so the
// caller cannot probe for registered emails.
func (s *Service) Login(ctx context.Context, creds LoginCredentials) (*Session, *User, error) {
	email := strings.TrimSpace(strings.ToLower(creds.Email))
	if email == "" || creds.Password == "" {
		return nil, nil, ErrUnauthorized
	}
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrUnauthorized
		}
		return nil, nil, err
	}
	if !user.Active {
		return nil, nil, ErrInactiveUser
	}
	if err := VerifyPassword(user.PasswordHash, creds.Password); err != nil {
		return nil, nil, ErrUnauthorized
	}
	now := s.now().UTC()
	if updated, err := s.store.UpdateUser(ctx, user.ID, UserUpdate{LastLoginAt: &now}); err == nil {
		user = updated
	}
	session, err := s.IssueSession(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return session, user, nil
}

// IssueSession constructs a session for an already-authenticated user:
// a signed access token whose expiry is strictly in the future, plus a
// rotating refresh credential.
func (s *Service) IssueSession(ctx context.Context, user *User) (*Session, error) {
	if user == nil || user.ID == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	if !user.Active {
		return nil, ErrInactiveUser
	}
	now := s.now().UTC()
	access, exp, err := signAccessToken(s.secret, s.issuer, user.ID, now, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, rec, err := newRefreshToken(user.ID, now, s.refreshTTL)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateRefreshToken(ctx, rec); err != nil {
		return nil, err
	}
	return &Session{
		UserID:       user.ID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    exp,
	}, nil
}

// ValidateAccess resolves an access token to the current user row. The
// token is only an opaque reference: role and active flag come from
// storage, never from the token payload.
func (s *Service) ValidateAccess(ctx context.Context, token string) (*User, error) {
	userID, err := parseAccessToken(s.secret, s.issuer, token, s.now().UTC())
	if err != nil {
		return nil, err
	}
	user, err := s.store.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !user.Active {
		return nil, ErrInactiveUser
	}
	return user, nil
}

// IsSessionValid reports whether the session may authorize anything at
// instant now. Expiry is checked first: an expired session is invalid
// regardless of the user's state, and a deactivated user invalidates the
// session before its nominal expiry.
func IsSessionValid(session *Session, user *User, now time.Time) bool {
	if session == nil || user == nil {
		return false
	}
	if !now.Before(session.ExpiresAt) {
		return false
	}
	if session.UserID != user.ID {
		return false
	}
	return user.Active
}

// Authorize decides whether the user identified by userID may exercise
// capability against the organization that owns the target resource.
// The user row is re-fetched on every call; nil means Allowed, any
// non-nil error is Denied with a distinct kind.
func (s *Service) Authorize(ctx context.Context, userID string, capability Capability, orgID string) error {
	userID = strings.TrimSpace(userID)
	orgID = strings.TrimSpace(orgID)
	if userID == "" || orgID == "" {
		return ErrUnauthorized
	}
	user, err := s.store.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	if !user.Active {
		return ErrInactiveUser
	}
	if user.OrganizationID != orgID {
		return ErrCrossOrganization
	}
	// Rows sourced from the external schema are a trust boundary too.
	role, err := ParseRole(string(user.Role))
	if err != nil {
		return err
	}
	if !RoleGrants(role, capability) {
		return ErrUnauthorized
	}
	return nil
}

// AuthorizeToken combines access-token validation with the capability
// decision for callers holding only the raw bearer token.
func (s *Service) AuthorizeToken(ctx context.Context, token string, capability Capability, orgID string) (*User, error) {
	user, err := s.ValidateAccess(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.Authorize(ctx, user.ID, capability, orgID); err != nil {
		return nil, err
	}
	return user, nil
}

// Refresh exchanges a valid refresh token for a new session. The stored
// token is rotated through a compare-and-swap: under concurrent use of
// the same credential exactly one call wins and the loser fails with
// ErrInvalidToken, so no duplicate refresh chains survive.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	tokenID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	record, err := s.store.FindRefreshToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if record.Revoked {
		return nil, ErrInvalidToken
	}
	now := s.now().UTC()
	if !now.Before(record.ExpiresAt) {
		return nil, ErrExpiredRefresh
	}
	presentedHash := hashRefreshSecret(secret)
	if !constantTimeEqual(record.TokenHash, presentedHash) {
		// Wrong secret for a live token id: burn the chain.
		_ = s.store.RevokeRefreshToken(ctx, record.ID)
		return nil, ErrInvalidToken
	}

	user, err := s.store.FindUser(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !user.Active {
		return nil, ErrInactiveUser
	}

	refresh, next, err := newRefreshToken(user.ID, now, s.refreshTTL)
	if err != nil {
		return nil, err
	}
	if err := s.store.RotateRefreshToken(ctx, record.ID, presentedHash, next); err != nil {
		return nil, err
	}
	access, exp, err := signAccessToken(s.secret, s.issuer, user.ID, now, s.accessTTL)
	if err != nil {
		return nil, err
	}
	return &Session{
		UserID:       user.ID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    exp,
	}, nil
}

// Logout revokes the presented refresh credential.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	tokenID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return ErrInvalidToken
	}
	record, err := s.store.FindRefreshToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	if !constantTimeEqual(record.TokenHash, hashRefreshSecret(secret)) {
		return ErrInvalidToken
	}
	return s.store.RevokeRefreshToken(ctx, record.ID)
}

// SetUserActive toggles the active flag. The actor must be an active
// admin inside the target user's organization. Deactivation revokes all
// outstanding refresh tokens immediately; it never waits for expiry.
func (s *Service) SetUserActive(ctx context.Context, actorID, targetID string, active bool) (*User, error) {
	target, err := s.store.FindUser(ctx, strings.TrimSpace(targetID))
	if err != nil {
		return nil, err
	}
	if err := s.requireAdmin(ctx, actorID, target.OrganizationID); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateUser(ctx, target.ID, UserUpdate{Active: &active})
	if err != nil {
		return nil, err
	}
	if !active {
		if err := s.store.RevokeRefreshTokensByUser(ctx, target.ID); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// AssignRole changes the target user's role. Outstanding refresh tokens
// are revoked so no refresh chain minted under the old role survives;
// access-token decisions already re-read the row.
func (s *Service) AssignRole(ctx context.Context, actorID, targetID, role string) (*User, error) {
	parsed, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	target, err := s.store.FindUser(ctx, strings.TrimSpace(targetID))
	if err != nil {
		return nil, err
	}
	if err := s.requireAdmin(ctx, actorID, target.OrganizationID); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateUser(ctx, target.ID, UserUpdate{Role: &parsed})
	if err != nil {
		return nil, err
	}
	if err := s.store.RevokeRefreshTokensByUser(ctx, target.ID); err != nil {
		return nil, err
	}
	return updated, nil
}

// SetSyncCredential binds an organization to its external ledger tenant.
// The API key is write-only after this call; read paths never return it.
func (s *Service) SetSyncCredential(ctx context.Context, actorID, orgID, tenantID, apiKey string) (*Organization, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: ledger tenant id is required", ErrInvalidInput)
	}
	if err := s.Authorize(ctx, actorID, CapSyncOrg, orgID); err != nil {
		return nil, err
	}
	return s.store.UpdateOrganization(ctx, orgID, OrganizationUpdate{
		LedgerTenantID: &tenantID,
		LedgerAPIKey:   &apiKey,
	})
}

// ListOrgUsers returns the users of the actor's organization.
func (s *Service) ListOrgUsers(ctx context.Context, actorID, orgID string) ([]*User, error) {
	if err := s.Authorize(ctx, actorID, CapViewDashboard, orgID); err != nil {
		return nil, err
	}
	return s.store.ListUsersByOrg(ctx, orgID)
}

func (s *Service) requireAdmin(ctx context.Context, actorID, orgID string) error {
	return s.Authorize(ctx, actorID, CapEditUser, orgID)
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
