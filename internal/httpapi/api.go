package httpapi

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"linkto.me/internal/auth"
	"linkto.me/internal/config"
	"linkto.me/internal/obs"
	"linkto.me/internal/profile"
	"linkto.me/internal/ratelimit"
)

// Flat limits for session and anonymous traffic. API key traffic uses the
// tier table from configuration instead.
const (
	sessionRequestsPerMinute   = 120
	anonRequestsPerMinute      = 10
	throttledRequestsPerMinute = 3
)

// ReadyProbe checks the dependencies behind /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps bundles the collaborators the HTTP layer dispatches into.
type Deps struct {
	Tokens   *auth.Service
	Keys     *auth.KeyService
	Limiter  *ratelimit.Limiter
	Scorer   *ratelimit.Scorer
	Store    auth.Store
	Profiles profile.Store
	Ready    ReadyProbe
}

// API is the HTTP layer: it owns the route classes, the handler registry
// and the gate pipeline in front of every business handler.
type API struct {
	cfg      config.Config
	tokens   *auth.Service
	keys     *auth.KeyService
	limiter  *ratelimit.Limiter
	scorer   *ratelimit.Scorer
	store    auth.Store
	profiles profile.Store
	ready    ReadyProbe
	version  string

	mux      *http.ServeMux
	registry map[string]http.HandlerFunc
}

// New wires the API and validates the handler registry against the
// endpoint→permission table: a configured endpoint with no registered
// handler is a startup failure, not a runtime 404.
func New(cfg config.Config, version string, deps Deps) (*API, error) {
	a := &API{
		cfg:      cfg,
		tokens:   deps.Tokens,
		keys:     deps.Keys,
		limiter:  deps.Limiter,
		scorer:   deps.Scorer,
		store:    deps.Store,
		profiles: deps.Profiles,
		ready:    deps.Ready,
		version:  version,
		mux:      http.NewServeMux(),
	}

	a.registry = map[string]http.HandlerFunc{
		"admin/getProfile":    a.handleGetProfile,
		"admin/updateProfile": a.handleUpdateProfile,
		"admin/getLinks":      a.handleGetLinks,
		"admin/createApiKey":  a.handleCreateAPIKey,
		"admin/getApiKeys":    a.handleGetAPIKeys,
		"admin/revokeApiKey":  a.handleRevokeAPIKey,
		"public/login":        a.handleLogin,
		"public/signup":       a.handleSignup,
		"public/refresh":      a.handleRefresh,
		"public/logout":       a.handleLogout,
	}
	for endpoint := range endpointPermissions {
		if _, ok := a.registry[endpoint]; !ok {
			return nil, fmt.Errorf("httpapi: endpoint %q has permissions but no registered handler", endpoint)
		}
	}
	for endpoint := range sensitivePublicEndpoints {
		if _, ok := a.registry[endpoint]; !ok {
			return nil, fmt.Errorf("httpapi: sensitive endpoint %q has no registered handler", endpoint)
		}
	}

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReadyz)
	a.mux.Handle("/metrics", obs.Handler())
	a.mux.HandleFunc("/admin/", a.dispatchAdmin)
	a.mux.HandleFunc("/api/v1/", a.dispatchAPI)
	a.mux.HandleFunc("/public/", a.dispatchPublic)
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, http.StatusNotFound, "resource not found", "")
	})

	return a, nil
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(a.cfg.AllowedOrigins)(h)
	h = SecurityHeaders(h)
	h = FloodGuard(h, 50, 100)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "linkto-api",
		"version": a.version,
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
