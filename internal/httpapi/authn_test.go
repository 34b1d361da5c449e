package httpapi

import (
	"errors"
	"testing"

	"finpulse.org/internal/auth"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc123", "abc123", true},
		{"bearer abc123", "abc123", true},
		{"  Bearer abc123  ", "abc123", true},
		{"", "", false},
		{"Bearer ", "", false},
		{"Basic dXNlcjpwYXNz", "", false},
		{"abc123", "", false},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.ok && err != nil {
			t.Errorf("extractBearerToken(%q): unexpected error %v", tc.header, err)
			continue
		}
		if !tc.ok && err == nil {
			t.Errorf("extractBearerToken(%q): expected error", tc.header)
			continue
		}
		if got != tc.want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestIsPublicPath(t *testing.T) {
	public := []string{"/healthz", "/readyz", "/metrics", "/v1/info", "/v1/auth/login", "/v1/organizations"}
	for _, p := range public {
		if !isPublicPath(p) {
			t.Errorf("isPublicPath(%q) = false, want true", p)
		}
	}
	private := []string{"/v1/auth/me", "/v1/organizations/org1", "/v1/organizations/org1/users", "/v1/organizations/org1/dashboard"}
	for _, p := range private {
		if isPublicPath(p) {
			t.Errorf("isPublicPath(%q) = true, want false", p)
		}
	}
}

func TestDecisionOutcome(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "allowed"},
		{auth.ErrCrossOrganization, "cross_organization"},
		{auth.ErrInactiveUser, "inactive_user"},
		{auth.ErrInvalidRole, "invalid_role"},
		{auth.ErrUnauthorized, "denied"},
		{errors.New("database down"), "error"},
	}
	for _, tc := range cases {
		if got := decisionOutcome(tc.err); got != tc.want {
			t.Errorf("decisionOutcome(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
