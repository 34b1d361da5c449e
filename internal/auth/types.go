package auth

import "time"

// Organization is the tenant boundary. Every authorization decision is
// scoped to it.
type Organization struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	LedgerTenantID string     `json:"ledger_tenant_id,omitempty"`
	LedgerAPIKey   string     `json:"-"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// User is an identity record owned by exactly one organization.
type User struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Email          string     `json:"email"`
	Role           Role       `json:"role"`
	Active         bool       `json:"active"`
	PasswordHash   string     `json:"-"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Session binds a user to a period of authorized access. The access
// token carries only an opaque user reference; role, organization and
// the active flag are re-resolved from storage on every authorization
// decision, so a downgrade or deactivation takes effect on the next
// request rather than at token expiry.
type Session struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// LoginCredentials is transient login input, never persisted as-is.
type LoginCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupData is transient signup input. The organization hint and the
// requested role are honored only after authorization checks.
type SignupData struct {
	LoginCredentials
	OrganizationID string `json:"organization_id,omitempty"`
	Role           string `json:"role,omitempty"`
}

// RefreshToken is the persisted half of a refresh credential. Only the
// SHA-256 of the client-held secret is stored.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}
