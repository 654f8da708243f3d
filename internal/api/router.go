package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
// Every endpoint is read-only.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Route("/integrations", func(r chi.Router) {
			r.Get("/", s.handleListIntegrations)
			r.Get("/{name}/devices", s.handleIntegrationDevices)
		})

		r.Get("/devices", s.handleListDevices)
		r.Get("/audit", s.handleAudit)

		// WebSocket live reading feed
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
