package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"finpulse.org/internal/audit"
	"finpulse.org/internal/auth"
)

type bootstrapOrganizationRequest struct {
	Name          string `json:"name"`
	AdminEmail    string `json:"admin_email"`
	AdminPassword string `json:"admin_password"`
}

type bootstrapOrganizationResponse struct {
	Organization *auth.Organization `json:"organization"`
	Admin        *auth.User         `json:"admin"`
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

type setRoleRequest struct {
	Role string `json:"role"`
}

type renameOrganizationRequest struct {
	Name string `json:"name"`
}

type syncCredentialRequest struct {
	LedgerTenantID string `json:"ledger_tenant_id"`
	LedgerAPIKey   string `json:"ledger_api_key"`
}

func (a *API) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req bootstrapOrganizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, admin, err := a.svc.BootstrapOrganization(r.Context(), req.Name, auth.SignupData{
		LoginCredentials: auth.LoginCredentials{
			Email:    req.AdminEmail,
			Password: req.AdminPassword,
		},
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.organization.bootstrap", map[string]any{
		"organization_id": org.ID,
		"admin_id":        admin.ID,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/organizations/%s", org.ID))
	writeJSON(w, http.StatusCreated, bootstrapOrganizationResponse{Organization: org, Admin: admin})
}

func (a *API) handleOrganizationScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/organizations/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	orgID := parts[0]

	switch {
	case len(parts) == 1:
		a.handleOrganizationGet(w, r, orgID)
	case parts[1] == "users" && len(parts) == 2:
		a.handleOrgUsers(w, r, orgID)
	case parts[1] == "users" && len(parts) == 4 && parts[3] == "active":
		a.handleUserActive(w, r, orgID, parts[2])
	case parts[1] == "users" && len(parts) == 4 && parts[3] == "role":
		a.handleUserRole(w, r, orgID, parts[2])
	case parts[1] == "sync-credential" && len(parts) == 2:
		a.handleSyncCredential(w, r, orgID)
	case parts[1] == "dashboard" && len(parts) == 2:
		a.handleDashboard(w, r, orgID)
	case parts[1] == "reports" && len(parts) == 2:
		a.handleReports(w, r, orgID)
	case parts[1] == "reports" && len(parts) == 3 && parts[2] == "export":
		a.handleReportExport(w, r, orgID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleOrganizationGet(w http.ResponseWriter, r *http.Request, orgID string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.authorize(w, r, auth.CapViewDashboard, orgID); !ok {
			return
		}
		org, err := a.svc.GetOrganization(r.Context(), orgID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, org)
	case http.MethodPut:
		actor, ok := auth.UserFromContext(r.Context())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		var req renameOrganizationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		org, err := a.svc.RenameOrganization(r.Context(), actor.ID, orgID, req.Name)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "auth.organization.rename", map[string]any{
			"organization_id": org.ID,
			"name":            org.Name,
		})
		writeJSON(w, http.StatusOK, org)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handleOrgUsers(w http.ResponseWriter, r *http.Request, orgID string) {
	switch r.Method {
	case http.MethodGet:
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		users, err := a.svc.ListOrgUsers(r.Context(), user.ID, orgID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case http.MethodPost:
		actor, ok := auth.UserFromContext(r.Context())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		var req auth.SignupData
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		req.OrganizationID = orgID
		user, err := a.svc.ProvisionUser(r.Context(), actor.ID, req)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "auth.user.provision", map[string]any{
			"user_id": user.ID,
			"role":    user.Role.String(),
		})
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserActive(w http.ResponseWriter, r *http.Request, orgID, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	actor, ok := a.authorize(w, r, auth.CapEditUser, orgID)
	if !ok {
		return
	}
	var req setActiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.SetUserActive(r.Context(), actor.ID, userID, req.Active)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.user.set_active", map[string]any{
		"user_id": user.ID,
		"active":  user.Active,
	})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleUserRole(w http.ResponseWriter, r *http.Request, orgID, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	actor, ok := a.authorize(w, r, auth.CapEditUser, orgID)
	if !ok {
		return
	}
	var req setRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.AssignRole(r.Context(), actor.ID, userID, req.Role)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.user.set_role", map[string]any{
		"user_id": user.ID,
		"role":    user.Role.String(),
	})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleSyncCredential(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	actor, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req syncCredentialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, err := a.svc.SetSyncCredential(r.Context(), actor.ID, orgID, req.LedgerTenantID, req.LedgerAPIKey)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.organization.sync_credential", map[string]any{
		"organization_id": org.ID,
	})
	// The response mirrors every read path: the API key never leaves
	// storage once written.
	writeJSON(w, http.StatusOK, org)
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := a.authorize(w, r, auth.CapViewDashboard, orgID)
	if !ok {
		return
	}
	org, err := a.svc.GetOrganization(r.Context(), orgID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"organization": org,
		"viewer_role":  user.Role,
		"last_sync_at": org.LastSyncAt,
	})
}

func (a *API) handleReports(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.authorize(w, r, auth.CapViewReports, orgID); !ok {
		return
	}
	org, err := a.svc.GetOrganization(r.Context(), orgID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"organization_id": org.ID,
		"reports":         []any{},
	})
}

func (a *API) handleReportExport(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := a.authorize(w, r, auth.CapExportReports, orgID)
	if !ok {
		return
	}
	org, err := a.svc.GetOrganization(r.Context(), orgID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.reports.export", map[string]any{
		"organization_id": org.ID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"organization_id": org.ID,
		"requested_by":    user.ID,
		"generated_at":    time.Now().UTC().Format(time.RFC3339),
		"rows":            []any{},
	})
}
