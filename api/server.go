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
  4. CORS:       Cross-origin requests for the store-config UI

ROUTE GROUPS:
  /api/stores/*       Store correlation management
  /api/items/*        Item rows, derived state, scan events
  /api/batch/*        Batch-refresh preserve/restore hooks
  /api/analytics/*    Unified per-store analytics
  /api/audit/*        Correlation audit history

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public;
  the service is expected to sit behind the internal gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Store correlation routes
		r.Route("/stores", func(r chi.Router) {
			r.Get("/", h.ListStores)
			r.Post("/", h.UpsertStore)
			r.Get("/resolve", h.ResolveStore)
			r.Post("/{code}/deactivate", h.DeactivateStore)
		})

		// Item routes
		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Get("/{id}", h.GetItem)
			r.Get("/{id}/state", h.GetItemState)
			r.Get("/{id}/events", h.ListEvents)
			r.Post("/{id}/events", h.AppendEvent)
		})

		// Batch refresh routes
		r.Route("/batch", func(r chi.Router) {
			r.Post("/preserve", h.PreserveBatch)
			r.Post("/items", h.UpsertBatchItem)
			r.Post("/restore", h.RestoreBatch)
		})

		// Analytics routes
		r.Get("/analytics/{code}", h.GetAnalytics)

		// Audit routes
		r.Get("/audit/{entityID}", h.GetAuditHistory)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
