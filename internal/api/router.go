package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/kost-rfid-core/internal/auth"
)

// healthCheckTimeout bounds each component check on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.rateLimitMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health and metrics (no auth required for basic monitoring)
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/connection", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleGetConnection)
				r.With(s.requirePermission(auth.PermConnectionManage)).Post("/connect", s.handleConnect)
				r.With(s.requirePermission(auth.PermConnectionManage)).Post("/disconnect", s.handleDisconnect)
			})

			r.With(s.requirePermission(auth.PermMessagePublish)).Post("/publish", s.handlePublish)

			r.Route("/devices", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleListDevices)
				r.With(s.requirePermission(auth.PermDeviceRead)).Get("/commands/last", s.handleLastCommandResponse)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleGetDevice)
					r.With(s.requirePermission(auth.PermDeviceRead)).Get("/history", s.handleDeviceHistory)
					r.With(s.requirePermission(auth.PermDeviceCommand)).Post("/commands", s.handleDeviceCommand)
				})
			})

			r.Route("/scan", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermCardScan))
				r.Post("/", s.handleStartScan)
				r.Get("/", s.handleGetScan)
				r.Delete("/", s.handleStopScan)
			})

			r.With(s.requirePermission(auth.PermCardManage)).Post("/cards", s.handleCreateCard)

			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAudit)

			// WebSocket (token via Authorization header or ?token=)
			r.With(s.requirePermission(auth.PermDeviceRead)).Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status with a per-component
// breakdown. A failing component makes the status "degraded" but the
// response stays 200 so the process is not restarted for a broker outage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(s.checks))
	status := "ok"
	for name, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := c.HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
