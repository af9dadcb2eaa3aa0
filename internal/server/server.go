// Package server implements the HTTP transport layer for the gateway:
// chi routing, middleware, and one handler file per endpoint group of
// spec §6's external interface table.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/analytics"
	"github.com/wayfarerhq/gandalf/internal/app"
	"github.com/wayfarerhq/gandalf/internal/auth"
	"github.com/wayfarerhq/gandalf/internal/catalog"
	"github.com/wayfarerhq/gandalf/internal/costcap"
	"github.com/wayfarerhq/gandalf/internal/images"
	"github.com/wayfarerhq/gandalf/internal/ratelimit"
	"github.com/wayfarerhq/gandalf/internal/session"
	"github.com/wayfarerhq/gandalf/internal/storage"
	"github.com/wayfarerhq/gandalf/internal/telemetry"
	"github.com/wayfarerhq/gandalf/internal/tower"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds every dependency the HTTP layer wires into handlers. Several
// fields are optional (nil disables the feature) so tests can stand up a
// server with only the pieces a given test exercises.
type Deps struct {
	Pipeline  *app.Pipeline
	Auth      *auth.Authenticator
	Sessions  *session.Store
	Catalog   *catalog.Catalog
	Users     storage.UserStore
	Tower     *tower.Sandbox     // nil = /tower/* routes are not mounted
	Analytics *analytics.Service // nil = /analytics/* routes are not mounted
	Images    *images.Registry  // nil = no hosted-image persistence for /images

	RateLimiter *ratelimit.Registry // nil = no rate limiting
	CostCap     *costcap.Checker    // nil = no cost-ceiling enforcement
	Ceilings    costcap.Ceilings

	Metrics        *telemetry.Metrics // nil = no Prometheus metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
	Tracer         trace.Tracer       // nil = no distributed tracing
	ReadyCheck     ReadyChecker       // nil = always ready

	// DefaultProviderKeys is echoed back in the /auth/apple response's
	// apiKeys field so a freshly onboarded client knows which providers
	// it can call without supplying its own key.
	DefaultProviderKeys map[string]string

	// EnableAppleAuth mounts POST /auth/apple. Requires Auth to have at
	// least one platform issuer configured; a token presented to an
	// unconfigured issuer fails with auth_unauthorized_app regardless.
	EnableAppleAuth bool
}

// server holds the resolved Deps and implements every route handler as a
// method, matching the teacher's single-receiver handler organization.
type server struct {
	deps Deps
}

// New builds the gateway's http.Handler: chi router, global middleware,
// and the route table of spec §6 (client-facing routes mounted under
// /v1, tower under /v1/tower, analytics under /v1/analytics).
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	r.Get("/", s.handleHealth)
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		// Session lifecycle.
		r.Post("/validate", s.handleValidate)
		r.Post("/validate/refresh", s.handleValidateRefresh)
		r.Post("/validate/revoke", s.handleValidateRevoke)
		if deps.EnableAppleAuth {
			r.Post("/auth/apple", s.handleAuthApple)
		}

		r.Get("/models", s.handleModels)

		// Forward endpoints: optional auth (anonymous principals allowed),
		// then rate-limit + cost-ceiling.
		r.Group(func(r chi.Router) {
			r.Use(s.optionalAuthenticate)
			r.Use(s.rateLimit)

			r.Post("/chat", s.handleChat)
			r.Post("/images", s.handleCreateImage)
			r.Get("/images/{id}", s.handleGetImage)
			r.Post("/music", s.handleCreateMusic)
			r.Post("/voice", s.handleVoice)
			r.Get("/ephemeral", s.handleEphemeral)
		})

		if deps.Analytics != nil {
			r.Route("/analytics", func(r chi.Router) {
				r.Use(s.requireAppKey)
				r.Get("/usage", s.handleAnalyticsUsage)
				r.Get("/costs", s.handleAnalyticsCosts)
				r.Get("/apps", s.handleAnalyticsApps)
				r.Get("/stats", s.handleAnalyticsStats)
				r.Get("/dashboard", s.handleAnalyticsDashboard)
				r.Get("/timeseries", s.handleAnalyticsTimeseries)
				r.Get("/health", s.handleAnalyticsHealth)
				r.Get("/cost-status", s.handleAnalyticsCostStatus)
			})
		}

		if deps.Tower != nil {
			r.Route("/tower", func(r chi.Router) {
				r.Use(s.requireTowerKey)
				r.Post("/request", s.handleTowerRequest)
				r.Get("/status", s.handleTowerStatus)
				r.Get("/audit", s.handleTowerAudit)
			})
		}
	})

	return r
}

// modelKindOrDefault returns raw as a gateway.ModelKind, or def when raw is
// empty, so handlers share a single "kind, defaulting to X" helper (spec §6:
// "kind?" is optional on every forward-endpoint body).
func modelKindOrDefault(raw string, def gateway.ModelKind) gateway.ModelKind {
	if raw == "" {
		return def
	}
	return gateway.ModelKind(raw)
}
