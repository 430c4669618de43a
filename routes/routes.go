package routes

import (
	"net/http"

	"github.com/achouhan93/ClusterTalk/app"
	"github.com/achouhan93/ClusterTalk/handlers"
	"github.com/achouhan93/ClusterTalk/middleware"
	"github.com/achouhan93/ClusterTalk/utils"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	cfg := deps.Config
	logger := deps.Logger

	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Metrics(deps.Metrics))
	r.Use(chimw.Recoverer)
	if cfg.Server.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
	}

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoints
	checks := make(map[string]handlers.Checker)
	for name, check := range deps.ReadinessChecks() {
		checks[name] = handlers.Checker(check)
	}
	health := handlers.NewHealthHandler(checks, logger)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	// A typed nil recorder must not reach the handlers as a non-nil interface.
	var recorder handlers.QueryRecorder
	var stats handlers.StatsReporter
	if deps.Recorder != nil {
		recorder = deps.Recorder
		stats = deps.Recorder
	}

	ask := handlers.NewAskHandler(deps.Processor, recorder, logger)
	r.Group(func(r chi.Router) {
		if deps.Authenticator != nil {
			r.Use(deps.Authenticator.Authenticate)
		}
		if deps.RateLimiter != nil {
			r.Use(middleware.NewRateLimitMiddleware(deps.RateLimiter, deps.Metrics, logger).Limit)
		}
		r.Post("/ask", ask.HandleAsk)
		r.Post("/api/v1/ask", ask.HandleAsk)
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		status := handlers.NewStatusHandler(cfg, deps.Profile, deps.ProviderRegistry, stats, logger)
		r.Get("/status", status.HandleStatus)

		if deps.Catalog != nil {
			catalog := handlers.NewCatalogHandler(deps.Catalog, logger)
			r.Get("/documents", catalog.HandleDocuments)
			r.Get("/clusters", catalog.HandleClusters)
		}

		// Query logs (require admin role)
		if deps.QueryLogs != nil && deps.Authenticator != nil {
			queries := handlers.NewQueryLogHandler(deps.QueryLogs, logger)
			r.Route("/queries", func(r chi.Router) {
				r.Use(deps.Authenticator.Authenticate)
				r.Use(deps.Authenticator.RequireRole("admin"))
				r.Get("/", queries.HandleList)
				r.Get("/{requestID}", queries.HandleGet)
			})
		}
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}
