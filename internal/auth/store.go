package auth

import (
	"context"
	"time"
)

// UserUpdate applies partial changes to a user row. Nil fields are left
// untouched.
type UserUpdate struct {
	Role        *Role
	Active      *bool
	LastLoginAt *time.Time
}

// OrganizationUpdate applies partial changes to an organization row.
type OrganizationUpdate struct {
	Name           *string
	LedgerTenantID *string
	LedgerAPIKey   *string
	LastSyncAt     *time.Time
}

// Store describes the persistence operations the identity service
// depends on. Email uniqueness, ledger-tenant uniqueness and the
// users-to-organizations foreign key are enforced by the implementation;
// violations surface as ErrConflict and ErrInvalidInput respectively.
// The ledger API key is write-only: read paths never return it.
type Store interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	FindOrganization(ctx context.Context, id string) (*Organization, error)
	UpdateOrganization(ctx context.Context, id string, upd OrganizationUpdate) (*Organization, error)

	CreateUser(ctx context.Context, u *User) error
	FindUser(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsersByOrg(ctx context.Context, orgID string) ([]*User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error)

	CreateRefreshToken(ctx context.Context, tok *RefreshToken) error
	FindRefreshToken(ctx context.Context, id string) (*RefreshToken, error)

	// RotateRefreshToken atomically revokes the token identified by id
	// and persists next in the same step. The revoke only happens while
	// the stored hash still equals expectedHash and the token is not
	// already revoked; when that guard fails because a concurrent
	// rotation won, it returns ErrInvalidToken and persists nothing.
	RotateRefreshToken(ctx context.Context, id, expectedHash string, next *RefreshToken) error

	RevokeRefreshToken(ctx context.Context, id string) error
	RevokeRefreshTokensByUser(ctx context.Context, userID string) error
}
