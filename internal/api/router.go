// Package api provides the HTTP gateway in front of the fleet dispatch pipeline.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/fleetdispatch/fleetdispatch/internal/api/handler"
	"github.com/fleetdispatch/fleetdispatch/internal/api/middleware"
	"github.com/fleetdispatch/fleetdispatch/internal/geocode"
	"github.com/fleetdispatch/fleetdispatch/internal/provider/resilience"
	"github.com/fleetdispatch/fleetdispatch/internal/routing"
	"github.com/fleetdispatch/fleetdispatch/internal/tracking"
	"github.com/fleetdispatch/fleetdispatch/internal/worker"
)

// DefaultAdminRoles may call the admin endpoints when RouterConfig.AdminRoles is empty.
var DefaultAdminRoles = []string{"lead", "admin"}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string

	// RequireTLS rejects requests forwarded over plain HTTP.
	RequireTLS bool

	// Metrics records HTTP server metrics (optional).
	Metrics *middleware.Metrics

	// ProviderMetrics records upstream call metrics (optional).
	ProviderMetrics *middleware.ProviderMetrics

	// Tokens validates bearer tokens.
	Tokens middleware.TokenValidator

	// AdminRoles may call the admin endpoints.
	AdminRoles []string

	Directions routing.Provider
	RouteMode  routing.Mode
	Geocoder   handler.Geocoder
	// GeocodeCache is the geocoder's in-memory cache (optional).
	GeocodeCache *geocode.Cache
	Allocations  handler.AllocationLister
	Relay        tracking.Relay

	// Registry reports upstream health at /v1/ops/status (optional).
	Registry *resilience.Registry
	// Database is checked by readiness and status (optional).
	Database handler.Pinger

	// Forwarder and Warmup are reported at /v1/ops/status when running (optional).
	Forwarder *worker.Forwarder
	Warmup    *worker.WarmupJob
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "fleetdispatch-gateway"
	}

	adminRoles := cfg.AdminRoles
	if len(adminRoles) == 0 {
		adminRoles = DefaultAdminRoles
	}

	// Request ID must come first; tracing, metrics and logging read it.
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Registry:  cfg.Registry,
		Cache:     cfg.GeocodeCache,
		Database:  cfg.Database,
		Forwarder: cfg.Forwarder,
		Warmup:    cfg.Warmup,
	})
	routeHandler := handler.NewRouteHandler(handler.RouteConfig{
		Provider: cfg.Directions,
		Mode:     cfg.RouteMode,
		Metrics:  cfg.ProviderMetrics,
		Logger:   cfg.Logger,
	})
	geocodeHandler := handler.NewGeocodeHandler(cfg.Geocoder, cfg.GeocodeCache, cfg.ProviderMetrics)
	allocationHandler := handler.NewAllocationHandler(cfg.Allocations, cfg.ProviderMetrics)
	locationHandler := handler.NewLocationHandler(cfg.Relay, cfg.Logger)

	authMiddleware := middleware.Auth(cfg.Tokens)

	expensiveRateLimit := middleware.RateLimitByUser(middleware.ExpensiveRateLimit) // 30 req/min
	standardRateLimit := middleware.RateLimitByUser(middleware.StandardRateLimit)   // 100 req/min
	locationRateLimit := middleware.RateLimitByUser(middleware.LocationRateLimit)   // 60 req/min

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			// Status endpoint requires authentication
			r.With(authMiddleware).Get("/status", opsHandler.SystemStatus)
		})

		// Everything else is authenticated and rate limited per user
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(middleware.RequireJSON)

			r.With(expensiveRateLimit).Post("/routes:compute", routeHandler.ComputeRoute)
			r.With(standardRateLimit).Get("/routes/current", routeHandler.CurrentRoute)

			r.Route("/geocode", func(r chi.Router) {
				r.Use(standardRateLimit)
				r.Get("/", geocodeHandler.Geocode)
				r.Get("/reverse", geocodeHandler.Reverse)
			})

			r.With(standardRateLimit).Get("/allocations", allocationHandler.ListAllocations)
			r.With(locationRateLimit).Post("/locations", locationHandler.PostLocation)

			// Admin endpoints - for internal operations
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(adminRoles...))
				r.Use(standardRateLimit)
				r.Delete("/geocode-cache", geocodeHandler.ClearCache)
			})
		})
	})

	return r
}
