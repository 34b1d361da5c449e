package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"finpulse.org/internal/auth"
	"finpulse.org/internal/obs"
)

const serviceName = "finpulse-api"

// ReadyProbe checks the service's single hard dependency, the database.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP transport over the identity service. It owns status
// mapping only; every access decision lives in the auth package.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	svc        *auth.Service
	version    string

	rateLimitPerSecond int
	rateLimitBurst     int
}

// APIOption configures the API.
type APIOption func(*API)

// WithRateLimit overrides the default per-IP rate limit.
func WithRateLimit(perSecond, burst int) APIOption {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.rateLimitPerSecond = perSecond
			a.rateLimitBurst = burst
		}
	}
}

func New(rp ReadyProbe, svc *auth.Service, version string, opts ...APIOption) *API {
	a := &API{
		mux:                http.NewServeMux(),
		readyProbe:         rp,
		svc:                svc,
		version:            version,
		rateLimitPerSecond: 20,
		rateLimitBurst:     40,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/signup", a.handleSignup)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)

	a.mux.HandleFunc("/v1/organizations", a.handleOrganizations)
	a.mux.HandleFunc("/v1/organizations/", a.handleOrganizationScoped)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, a.rateLimitBurst, a.rateLimitPerSecond)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
