/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/censuses/*          Census data and editing sessions
  /api/service-area/*      Serviceable zips and remote lookup
  /api/scenarios/*         Demo scenarios
  /metrics                 Prometheus metrics

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Handle("/metrics", promhttp.HandlerFor(h.Registry, promhttp.HandlerOpts{}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Census routes
		r.Route("/censuses", func(r chi.Router) {
			r.Get("/", h.ListCensuses)
			r.Post("/", h.CreateCensus)
			r.Get("/{id}", h.GetCensus)
			r.Delete("/{id}", h.DeleteCensus)
			r.Get("/{id}/members", h.ListMembers)

			// Editing session routes
			r.Route("/{id}/session", func(r chi.Router) {
				r.Post("/", h.OpenSession)
				r.Get("/", h.GetSession)
				r.Delete("/", h.CloseSession)
				r.Post("/employees", h.AddEmployee)
				r.Post("/employees/{mid}/dependents", h.AddDependent)
				r.Post("/employees/{mid}/select", h.SelectHousehold)
				r.Put("/members/{mid}", h.UpdateMember)
				r.Delete("/members/{mid}", h.DeleteMember)
				r.Delete("/members", h.DeleteAllMembers)
				r.Post("/import", h.ImportRows)
				r.Post("/save", h.Save)
				r.Get("/changes", h.PendingChanges)
				r.Get("/out-of-area", h.OutOfAreaMembers)
				r.Put("/page", h.SetPage)
			})
		})

		// Service-area routes
		r.Route("/service-area", func(r chi.Router) {
			r.Post("/", h.AddServiceArea)
			r.Post("/lookup", h.LookupServiceArea)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
