package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"finpulse.org/internal/auth"
	"finpulse.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/signup",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/logout",
	"/v1/organizations",
}

// withAuth resolves the bearer token to the current user row and stores
// it in the request context. The token is only an opaque reference, so
// a role change or deactivation is visible here on the very next request.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="finpulse"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		user, err := a.svc.ValidateAccess(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				w.Header().Set("WWW-Authenticate", `Bearer realm="finpulse"`)
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			case errors.Is(err, auth.ErrInactiveUser):
				writeError(w, r, http.StatusForbidden, "user is inactive")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := auth.ContextWithUser(r.Context(), user)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorize runs the capability check for the authenticated user against
// the organization owning the target resource, records the decision
// metric, and writes the error response on denial.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, capability auth.Capability, orgID string) (*auth.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		obs.ObserveAuthDecision(string(capability), "unauthenticated")
		w.Header().Set("WWW-Authenticate", `Bearer realm="finpulse"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	err := a.svc.Authorize(r.Context(), user.ID, capability, orgID)
	obs.ObserveAuthDecision(string(capability), decisionOutcome(err))
	if err != nil {
		handleAuthError(w, r, err)
		return nil, false
	}
	return user, true
}

func decisionOutcome(err error) string {
	switch {
	case err == nil:
		return "allowed"
	case errors.Is(err, auth.ErrCrossOrganization):
		return "cross_organization"
	case errors.Is(err, auth.ErrInactiveUser):
		return "inactive_user"
	case errors.Is(err, auth.ErrInvalidRole):
		return "invalid_role"
	case errors.Is(err, auth.ErrUnauthorized):
		return "denied"
	default:
		return "error"
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
