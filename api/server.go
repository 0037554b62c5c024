/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests, origins from config

ROUTE GROUPS:
  /health               Liveness
  /metrics              Prometheus metrics
  /api/habits/*         Habits, instances, completions, stats
  /api/agenda/*         Pending / done views
  /api/expand           Spec preview
  /api/admin/*          Refresh
  /api/scenarios/*      Demo scenarios (reset the store)

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Habit routes
		r.Route("/habits", func(r chi.Router) {
			r.Get("/", h.ListHabits)
			r.Post("/", h.CreateHabit)
			r.Post("/import", h.ImportICS)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetHabit)
				r.Delete("/", h.DeleteHabit)
				r.Put("/spec", h.UpdateSpec)
				r.Put("/active", h.SetActive)

				r.Post("/materialize", h.Materialize)
				r.Get("/instances", h.ListInstances)
				r.Get("/instances.ics", h.ExportInstances)

				r.Get("/completions", h.History)
				r.Post("/check", h.CheckAt)
				r.Put("/completions/{key}", h.Check)
				r.Patch("/completions/{key}", h.SetQuantity)
				r.Delete("/completions/{key}", h.Uncheck)

				r.Get("/stats", h.Stats)
			})
		})

		// Agenda routes
		r.Route("/agenda", func(r chi.Router) {
			r.Get("/", h.Range)
			r.Get("/{day}", h.Day)
		})

		r.Post("/expand", h.Expand)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/refresh", h.RefreshStatus)
			r.Post("/refresh", h.Refresh)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetStore)
		})
	})

	return r
}
