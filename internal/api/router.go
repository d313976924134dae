package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// healthCheckTimeout bounds each dependency probe in /health.
const healthCheckTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(s.recoverPanics)
	r.Use(s.cors)
	r.Use(limitBody)
	r.Use(s.metrics.Middleware)

	r.Route("/api/v1", func(r chi.Router) {
		// No auth required
		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", s.metrics.Handler())

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)

			r.Get("/floors", s.handleListFloors)
			r.Get("/floors/{id}/areas", s.handleFloorAreas)

			r.Route("/areas", func(r chi.Router) {
				r.Get("/unassigned", s.handleUnassignedAreas)
				r.Get("/{id}/entities", s.handleAreaEntities)
				r.Get("/{id}/devices", s.handleAreaDevices)
			})

			r.Route("/entities", func(r chi.Router) {
				r.Get("/unassigned", s.handleUnassignedEntities)
				r.Get("/{id}", s.handleGetEntity)
			})

			r.Post("/registry/sync", s.handleRegistrySync)
			r.Post("/cron/validate", s.handleValidateCron)

			r.Route("/users/{uid}", func(r chi.Router) {
				r.Get("/schedules", s.handleListSchedules)
				r.Post("/schedules", s.handleCreateSchedule)
				r.Patch("/schedules/{id}/toggle", s.handleToggleSchedule)
				r.Delete("/schedules/{id}", s.handleDeleteSchedule)

				r.Get("/notifications", s.handleListNotifications)
				r.Post("/notifications", s.handleUpdateNotification)
				r.Post("/mutes", s.handleMute)
				r.Post("/callbacks", s.handleCallback)
			})

			r.Route("/vacuums/{id}", func(r chi.Router) {
				r.Get("/", s.handleVacuum)
				r.Get("/rooms", s.handleVacuumRooms)
				r.Put("/segments", s.handleSaveSegments)
				r.Post("/clean", s.handleCleanSegment)
				r.Post("/commands/{command}", s.handleVacuumCommand)
				r.Post("/routines/{button}", s.handlePressRoutine)
			})

			// WebSocket (token via header or access_token query parameter)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth runs every registered dependency check. Any failure turns
// the response into 503 with per-check detail.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"registry": "ok",
	}
	healthy := true

	if !s.registry.Synced() {
		checks["registry"] = "not synced"
		healthy = false
	}

	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
		"clients": s.hub.ClientCount(),
	})
}
