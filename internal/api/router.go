package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iconidentify/canvasgrab/internal/api/handler"
	mw "github.com/iconidentify/canvasgrab/internal/api/middleware"
)

// Handlers groups the HTTP handlers mounted by NewRouter.
type Handlers struct {
	Extension *handler.ExtensionHandler
	Settings  *handler.SettingsHandler
	Events    *handler.EventHandler
	Jobs      *handler.JobHandler
	Health    *handler.HealthHandler
}

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(h Handlers, apiKey string) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CleanPath) // Normalize paths (e.g., //ready -> /ready)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// CORS for browser extension
	r.Use(mw.CORS)

	// Health endpoints (no auth)
	r.Get("/health", h.Health.Live)
	r.Get("/ready", h.Health.Ready)

	// API v1 (authenticated)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(apiKey))

		// The event stream is long-lived and stays outside the request timeout.
		r.Get("/events/stream", h.Events.Stream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(5 * time.Minute))

			// System stats
			r.Get("/stats", h.Health.Stats)

			// Extension bridge
			r.Post("/extension/messages", h.Extension.Message)
			r.Post("/extension/network", h.Extension.Network)
			r.Post("/extension/credentials", h.Extension.SyncCredentials)
			r.Get("/extension/credentials/status", h.Extension.CredentialsStatus)
			r.Post("/extension/credentials/clear", h.Extension.ClearCredentials)

			// Settings
			r.Get("/settings", h.Settings.Get)
			r.Put("/settings", h.Settings.Update)

			// Events
			r.Get("/events", h.Events.List)
			r.Get("/events/recent", h.Events.Recent)
			r.Get("/events/stats", h.Events.Stats)
			r.Get("/events/categories", h.Events.Categories)
			r.Get("/events/severities", h.Events.Severities)

			// Download jobs
			r.Get("/jobs/{jobID}", h.Jobs.Get)
		})
	})

	return r
}
