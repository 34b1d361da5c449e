package auth

import "fmt"

// Role is the closed set of access levels a user can hold. Role values
// only enter the system through ParseRole; past that gate they are
// represented as typed constants, never free strings.
type Role string

const (
	RoleExecutive Role = "executive"
	RoleManager   Role = "manager"
	RoleStaff     Role = "staff"
	RoleAdmin     Role = "admin"
)

// Roles lists every valid role in a stable order.
var Roles = []Role{RoleExecutive, RoleManager, RoleStaff, RoleAdmin}

// ParseRole validates a role string arriving from outside the trust
// boundary (signup input, administrative edits, externally sourced rows).
// Matching is exact and case-sensitive.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleExecutive, RoleManager, RoleStaff, RoleAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// Valid reports whether the role is a member of the enumeration.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

func (r Role) String() string { return string(r) }
