// Package httpapi exposes the REST API under /api/v1.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"residencial.org/internal/audit"
	"residencial.org/internal/auth"
	"residencial.org/internal/obs"
	"residencial.org/internal/people"
	"residencial.org/internal/throttle"
)

// ReadyProbe checks dependencies for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps are the services the API calls into.
type Deps struct {
	Auth    *auth.Service
	People  *people.Service
	Audit   *audit.Recorder
	Limiter throttle.Limiter
	Ready   ReadyProbe
	Logger  *zap.Logger
}

// Options tune the HTTP surface.
type Options struct {
	Version        string
	AllowedOrigins []string
	RateLimitRPS   int
	RateLimitBurst int
	MaxBodyBytes   int64
	// TrustedProxies may set X-Forwarded-For and X-Real-IP.
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	auth    *auth.Service
	people  *people.Service
	audit   *audit.Recorder
	limiter throttle.Limiter
	ready   ReadyProbe
	logger  *zap.Logger
	version string
	opts    Options
	now     func() time.Time
	router  chi.Router
}

// New builds the router.
func New(deps Deps, opts Options) *API {
	a := &API{
		auth:    deps.Auth,
		people:  deps.People,
		audit:   deps.Audit,
		limiter: deps.Limiter,
		ready:   deps.Ready,
		logger:  deps.Logger,
		version: opts.Version,
		opts:    opts,
		now:     time.Now,
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.limiter == nil {
		a.limiter = throttle.Nop{}
	}
	if a.opts.RateLimitRPS <= 0 {
		a.opts.RateLimitRPS = 20
	}
	if a.opts.RateLimitBurst <= 0 {
		a.opts.RateLimitBurst = 40
	}
	if a.opts.MaxBodyBytes <= 0 {
		a.opts.MaxBodyBytes = 1 << 20
	}
	a.router = a.routes()
	return a
}

// Handler returns the root handler wrapped with metrics.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RealIP(a.opts.TrustedProxies))
	r.Use(RequestID)
	r.Use(Logging(a.logger))
	r.Use(a.Recover)
	r.Use(CORS(a.opts.AllowedOrigins))
	r.Use(SecurityHeaders)
	r.Use(MaxBodyBytes(a.opts.MaxBodyBytes))
	r.Use(a.RateLimit(a.opts.RateLimitRPS, a.opts.RateLimitBurst))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.fail(w, r, http.StatusNotFound, "not_found", "Resource not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		a.fail(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Post("/auth/refresh-token", a.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)

			r.Post("/auth/logout", a.handleLogout)
			r.Post("/auth/change-password", a.handleChangePassword)
			r.Get("/auth/me", a.handleMe)

			r.Route("/audit", func(r chi.Router) {
				r.With(a.requirePermission(auth.PermAuditRead)).Get("/logs", a.handleAuditLogs)
				r.With(a.requirePermission(auth.PermAuditClean)).Delete("/clean", a.handleAuditClean)
			})

			r.Route("/persons", func(r chi.Router) {
				r.With(a.requirePermission(auth.PermPersonsRead)).Get("/", a.handleListPersons)
				r.With(a.requirePermission(auth.PermPersonsWrite)).Post("/", a.handleCreatePerson)

				r.Route("/{id}", func(r chi.Router) {
					r.With(a.requirePermission(auth.PermPersonsRead)).Get("/", a.handleGetPerson)
					r.With(a.requirePermission(auth.PermPersonsWrite)).Put("/", a.handleUpdatePerson)
					r.With(a.requirePermission(auth.PermPersonsDelete)).Delete("/", a.handleDeletePerson)
					r.With(a.requirePermission(auth.PermPersonsDelete)).Post("/restore", a.handleRestorePerson)
					r.With(a.requirePermission(auth.PermRolesAssign)).Post("/roles", a.handleAssignRole)
				})
			})

			r.With(a.requirePermission(auth.PermRolesRead)).Get("/roles", a.handleListRoles)
			r.With(a.requirePermission(auth.PermRolesRead)).Get("/permissions", a.handleListPermissions)
		})
	})
	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	a.respond(w, r, http.StatusOK, "health", "ok", map[string]any{
		"status":  "ok",
		"service": "residencial-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		a.logger.Warn("readiness check failed", zap.Error(err))
		a.fail(w, r, http.StatusServiceUnavailable, "ready", "not ready", nil)
		return
	}
	a.respond(w, r, http.StatusOK, "ready", "ready", map[string]any{"status": "ready"})
}
