package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dockethq/docket/internal/access"
	"github.com/dockethq/docket/internal/auth"
	"github.com/dockethq/docket/internal/events"
	"github.com/dockethq/docket/internal/invite"
	"github.com/dockethq/docket/internal/membership"
	"github.com/dockethq/docket/internal/ratelimit"
	"github.com/dockethq/docket/internal/telemetry"
	"github.com/dockethq/docket/internal/tenant"
	"github.com/dockethq/docket/internal/user"
)

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Users          *user.Store
	Sessions       auth.SessionLookup
	Memberships    *membership.Store
	Invites        *invite.Service
	Tenants        *tenant.Service
	TenantStore    *tenant.Store
	Access         *access.Evaluator
	Aggregator     *events.Aggregator
	Recorder       *events.Recorder
	Limiter        *ratelimit.Limiter
	Metrics        *telemetry.Metrics
	AllowedOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	r.Use(slogRequestLogger)
	r.Use(metricsMiddleware(deps.Metrics))

	// Handlers.
	authH := newAuthHandler(deps.Users, deps.Metrics)
	profiles := newProfilesHandler(deps.Users, deps.Access, deps.Recorder)
	tenants := newTenantsHandler(deps.Tenants, deps.TenantStore, deps.Access)
	memberships := newMembershipsHandler(deps.Memberships, deps.Access, deps.Metrics)
	invites := newInvitesHandler(deps.Invites, deps.Access, deps.Metrics)
	stats := newStatsHandler(deps.Aggregator)

	rateLimited := ratelimit.Middleware(deps.Limiter, func() {
		deps.Metrics.IncRateLimitRejection("api")
	})

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Live metrics summary.
	r.Get("/metrics", deps.Metrics.Handler())

	// Public (unauthenticated) routes. Login and logout are rate limited by
	// client IP.
	r.Group(func(pr chi.Router) {
		pr.Use(rateLimited)
		pr.Post("/api/v1/auth/login", authH.Login)
		pr.Post("/api/v1/auth/logout", authH.Logout)
	})

	// Session-authed routes.
	r.Route("/api/v1", func(ar chi.Router) {
		ar.Use(auth.SessionMiddleware(deps.Sessions))

		ar.Get("/auth/me", authH.Me)

		ar.Get("/profiles/{id}", profiles.GetProfile)

		// Tenancy.
		ar.Post("/organisations", tenants.CreateOrganisation)
		ar.Get("/organisations/{id}", tenants.GetOrganisation)
		ar.Delete("/organisations/{id}", tenants.DeleteOrganisation)
		ar.Post("/organisations/{id}/teams", tenants.CreateTeam)
		ar.Get("/organisations/{id}/teams", tenants.ListTeams)
		ar.Post("/organisations/{id}/clients", tenants.CreateClient)
		ar.Delete("/teams/{id}", tenants.DeleteTeam)
		ar.Post("/teams/{id}/cases", tenants.CreateCase)
		ar.Get("/teams/{id}/cases", tenants.ListCases)
		ar.Delete("/cases/{id}", tenants.DeleteCase)

		// Memberships.
		ar.Get("/memberships", memberships.ListMemberships)
		ar.Post("/memberships", memberships.CreateMembership)
		ar.Put("/memberships/{id}/role", memberships.UpdateMembershipRole)
		ar.Delete("/memberships/{id}", memberships.RemoveMembership)

		// Invites. Acceptance is rate limited because tokens arrive by email
		// and can be guessed at.
		ar.Post("/invites", invites.CreateInvite)
		ar.Post("/invites/reinvite", invites.ReInvite)
		ar.Get("/invites", invites.ListInvites)
		ar.With(rateLimited).Post("/invites/accept", invites.AcceptInvite)
		ar.Post("/invites/{id}/reject", invites.RejectInvite)
		ar.Post("/invites/{id}/cancel", invites.CancelInvite)
		ar.Post("/invites/{id}/renew", invites.RenewInvite)
	})

	// Superadmin routes.
	r.Route("/api/v1/admin", func(ar chi.Router) {
		ar.Use(auth.SuperadminMiddleware(deps.Sessions))

		ar.Post("/profiles", profiles.CreateProfile)
		ar.Get("/profiles", profiles.ListProfiles)
		ar.Delete("/profiles/{id}", profiles.DeleteProfile)

		ar.Get("/stats/{entity}", stats.GetSeries)
	})

	return r
}

// slogRequestLogger is a simple structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}
