package auth

import "errors"

var (
	// ErrInvalidRole indicates a role string outside the closed enumeration.
	ErrInvalidRole = errors.New("auth: invalid role")
	// ErrInvalidToken indicates a token that is absent, malformed, or does
	// not match the stored record.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrExpiredRefresh indicates a refresh token past its validity window.
	ErrExpiredRefresh = errors.New("auth: refresh token expired")
	// ErrCrossOrganization indicates a capability requested against a
	// resource owned by another organization.
	ErrCrossOrganization = errors.New("auth: cross-organization access denied")
	// ErrInactiveUser indicates a session bound to a deactivated user.
	ErrInactiveUser = errors.New("auth: user is inactive")

	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrUnauthorized = errors.New("auth: unauthorized")
)
