package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"finpulse.org/internal/auth"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	store := auth.NewMemoryStore()
	svc, err := auth.NewService(store, "0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	api := New(ReadyProbe{}, svc, "test", WithRateLimit(1000, 1000))
	return api.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

type sessionBody struct {
	User    *auth.User    `json:"user"`
	Session *auth.Session `json:"session"`
}

type bootstrapBody struct {
	Organization *auth.Organization `json:"organization"`
	Admin        *auth.User         `json:"admin"`
}

func bootstrapOrg(t *testing.T, h http.Handler, name, email, password string) bootstrapBody {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/organizations", "", map[string]string{
		"name":           name,
		"admin_email":    email,
		"admin_password": password,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("bootstrap status = %d, body %s", rec.Code, rec.Body.String())
	}
	var out bootstrapBody
	decodeBody(t, rec, &out)
	return out
}

func login(t *testing.T, h http.Handler, email, password string) sessionBody {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	var out sessionBody
	decodeBody(t, rec, &out)
	return out
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/info", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("info = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id header")
	}
}

func TestBootstrapAndLoginFlow(t *testing.T) {
	h := newTestHandler(t)
	boot := bootstrapOrg(t, h, "Acme Accounting", "owner@acme.example", "admin-pass-1")

	if boot.Admin.Role != auth.RoleAdmin {
		t.Fatalf("bootstrap admin role = %s", boot.Admin.Role)
	}
	session := login(t, h, "owner@acme.example", "admin-pass-1")
	if session.Session.AccessToken == "" || session.Session.RefreshToken == "" {
		t.Fatal("session tokens missing")
	}

	rec := doJSON(t, h, http.MethodGet, "/v1/auth/me", session.Session.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me = %d, body %s", rec.Code, rec.Body.String())
	}
	var me auth.User
	decodeBody(t, rec, &me)
	if me.Email != "owner@acme.example" {
		t.Fatalf("me email = %s", me.Email)
	}
	if me.PasswordHash != "" {
		t.Fatal("password hash leaked in response")
	}
}

func TestProtectedEndpointRequiresToken(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/auth/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("missing WWW-Authenticate header")
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/auth/me", "not-a-real-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d, want 401", rec.Code)
	}
}

func TestStaffCapabilityEnforcement(t *testing.T) {
	h := newTestHandler(t)
	boot := bootstrapOrg(t, h, "Acme", "owner@acme.example", "admin-pass-1")
	orgID := boot.Organization.ID
	admin := login(t, h, "owner@acme.example", "admin-pass-1")

	rec := doJSON(t, h, http.MethodPost, "/v1/organizations/"+orgID+"/users", admin.Session.AccessToken, map[string]string{
		"email":    "staff@acme.example",
		"password": "staff-pass-1",
		"role":     "staff",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("provision = %d, body %s", rec.Code, rec.Body.String())
	}
	staff := login(t, h, "staff@acme.example", "staff-pass-1")

	// Staff sees the dashboard of their own organization.
	rec = doJSON(t, h, http.MethodGet, "/v1/organizations/"+orgID+"/dashboard", staff.Session.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("staff dashboard = %d, body %s", rec.Code, rec.Body.String())
	}

	// Staff cannot view reports or manage users.
	rec = doJSON(t, h, http.MethodGet, "/v1/organizations/"+orgID+"/reports", staff.Session.AccessToken, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("staff reports = %d, want 401", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPut, "/v1/organizations/"+orgID+"/users/"+boot.Admin.ID+"/active", staff.Session.AccessToken, map[string]bool{"active": false})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("staff set-active = %d, want 401", rec.Code)
	}

	// No capability crosses an organization boundary, admin included.
	other := bootstrapOrg(t, h, "Globex", "owner@globex.example", "admin-pass-2")
	rec = doJSON(t, h, http.MethodGet, "/v1/organizations/"+other.Organization.ID+"/dashboard", admin.Session.AccessToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cross-org dashboard = %d, want 403", rec.Code)
	}
}

func TestReportExportRequiresExportCapability(t *testing.T) {
	h := newTestHandler(t)
	boot := bootstrapOrg(t, h, "Acme", "owner@acme.example", "admin-pass-1")
	orgID := boot.Organization.ID
	admin := login(t, h, "owner@acme.example", "admin-pass-1")

	for email, role := range map[string]string{
		"exec@acme.example":    "executive",
		"manager@acme.example": "manager",
	} {
		rec := doJSON(t, h, http.MethodPost, "/v1/organizations/"+orgID+"/users", admin.Session.AccessToken, map[string]string{
			"email":    email,
			"password": "pw-123456",
			"role":     role,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("provision %s = %d, body %s", role, rec.Code, rec.Body.String())
		}
	}

	exec := login(t, h, "exec@acme.example", "pw-123456")
	manager := login(t, h, "manager@acme.example", "pw-123456")

	// Manager reads reports but cannot export them; executive does both.
	rec := doJSON(t, h, http.MethodGet, "/v1/organizations/"+orgID+"/reports", manager.Session.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("manager reports = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/organizations/"+orgID+"/reports/export", manager.Session.AccessToken, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("manager export = %d, want 401", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/organizations/"+orgID+"/reports/export", exec.Session.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("executive export = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestRenameOrganizationOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	boot := bootstrapOrg(t, h, "Acme", "owner@acme.example", "admin-pass-1")
	orgID := boot.Organization.ID
	admin := login(t, h, "owner@acme.example", "admin-pass-1")

	rec := doJSON(t, h, http.MethodPut, "/v1/organizations/"+orgID, admin.Session.AccessToken, map[string]string{
		"name": "Acme Renamed",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("rename = %d, body %s", rec.Code, rec.Body.String())
	}
	var org auth.Organization
	decodeBody(t, rec, &org)
	if org.Name != "Acme Renamed" {
		t.Fatalf("name = %s", org.Name)
	}
}

func TestRefreshRotationOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	bootstrapOrg(t, h, "Acme", "owner@acme.example", "admin-pass-1")
	session := login(t, h, "owner@acme.example", "admin-pass-1")

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": session.Session.RefreshToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh = %d, body %s", rec.Code, rec.Body.String())
	}
	var next auth.Session
	decodeBody(t, rec, &next)
	if next.RefreshToken == session.Session.RefreshToken {
		t.Fatal("refresh token not rotated")
	}

	// Replay of the consumed token is a 401.
	rec = doJSON(t, h, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": session.Session.RefreshToken,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replay = %d, want 401", rec.Code)
	}
}

func TestDeactivatedUserLosesAccess(t *testing.T) {
	h := newTestHandler(t)
	boot := bootstrapOrg(t, h, "Acme", "owner@acme.example", "admin-pass-1")
	orgID := boot.Organization.ID
	admin := login(t, h, "owner@acme.example", "admin-pass-1")

	rec := doJSON(t, h, http.MethodPost, "/v1/organizations/"+orgID+"/users", admin.Session.AccessToken, map[string]string{
		"email":    "staff@acme.example",
		"password": "staff-pass-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("provision = %d", rec.Code)
	}
	var staffUser auth.User
	decodeBody(t, rec, &staffUser)
	staff := login(t, h, "staff@acme.example", "staff-pass-1")

	rec = doJSON(t, h, http.MethodPut, "/v1/organizations/"+orgID+"/users/"+staffUser.ID+"/active", admin.Session.AccessToken, map[string]bool{"active": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("set-active = %d, body %s", rec.Code, rec.Body.String())
	}

	// The still-unexpired access token stops working on the next request.
	rec = doJSON(t, h, http.MethodGet, "/v1/auth/me", staff.Session.AccessToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("deactivated me = %d, want 403", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": staff.Session.RefreshToken,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("deactivated refresh = %d, want 401", rec.Code)
	}
}

func TestSyncCredentialWriteOnly(t *testing.T) {
	h := newTestHandler(t)
	boot := bootstrapOrg(t, h, "Acme", "owner@acme.example", "admin-pass-1")
	orgID := boot.Organization.ID
	admin := login(t, h, "owner@acme.example", "admin-pass-1")

	rec := doJSON(t, h, http.MethodPut, "/v1/organizations/"+orgID+"/sync-credential", admin.Session.AccessToken, map[string]string{
		"ledger_tenant_id": "tenant-1",
		"ledger_api_key":   "super-secret",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("sync-credential = %d, body %s", rec.Code, rec.Body.String())
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("super-secret")) {
		t.Fatal("API key echoed in write response")
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/organizations/"+orgID, admin.Session.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get org = %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("super-secret")) {
		t.Fatal("API key readable after write")
	}
	var org auth.Organization
	decodeBody(t, rec, &org)
	if org.LedgerTenantID != "tenant-1" {
		t.Fatalf("tenant = %s, want tenant-1", org.LedgerTenantID)
	}
}

func TestRejectsUnknownJSONFields(t *testing.T) {
	h := newTestHandler(t)
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "owner@acme.example",
		"password": "admin-pass-1",
		"surprise": "field",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t)
	rec := doJSON(t, h, http.MethodGet, "/v1/auth/login", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if rec.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("Allow = %q", rec.Header().Get("Allow"))
	}
}
