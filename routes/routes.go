package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/contentpilot/ai-gateway/app"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Liveness and readiness probes
	r.Get("/healthz", deps.Handlers.Health.HandleHealth)
	r.Get("/readyz", deps.Handlers.Health.HandleReadiness)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Content generation (requires authentication)
		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Post("/generate", deps.Handlers.Generate.HandleGenerate)
		})

		// Provider catalog, health, and usage reporting
		r.Route("/providers", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)

			r.Get("/", deps.Handlers.Providers.HandleListProviders)
			r.Get("/health", deps.Handlers.Health.HandleListHealth)
			r.Get("/{id}", deps.Handlers.Providers.HandleGetProvider)
			r.Get("/{id}/health", deps.Handlers.Health.HandleGetHealth)
			r.Get("/{id}/usage", deps.Handlers.Usage.HandleAggregate)
			r.Get("/{id}/usage/records", deps.Handlers.Usage.HandleListRecords)

			// Operator actions (require admin role)
			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireRole("admin"))

				r.Patch("/{id}", deps.Handlers.Providers.HandleUpdateProvider)
				r.Post("/{id}/usage/reset", deps.Handlers.Providers.HandleResetUsage)
				r.Put("/{id}/maintenance", deps.Handlers.Health.HandleSetMaintenance)
				r.Delete("/{id}/maintenance", deps.Handlers.Health.HandleClearMaintenance)
			})
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
