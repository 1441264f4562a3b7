package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the database ping in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.corsHandler())
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/v1/health", http.StatusTemporaryRedirect)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
		r.Get("/ws", s.handleWebSocket)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/{id}", s.handleGetDevice)

			r.Group(func(r chi.Router) {
				r.Use(s.adminOnly)
				r.Post("/", s.handleCreateDevice)
				r.Put("/{id}", s.handleUpdateDevice)
				r.Delete("/{id}", s.handleDeleteDevice)
			})
		})

		r.Route("/keys", func(r chi.Router) {
			r.Use(s.adminOnly)
			// Revoke also needs the device headers; the key manager checks them.
			r.Put("/", s.handleRevokeKey)
			r.Post("/{device_id}", s.handleIssueKey)
			r.Put("/refresh/{device_id}", s.handleRefreshKey)
		})

		r.Route("/data", func(r chi.Router) {
			r.Post("/", s.handleIngest)
			r.Get("/{id}", s.handleGetRecord)
			r.Get("/device/{device_id}", s.handleListRecords)
		})

		r.With(s.adminOnly).Get("/audit", s.handleListAuditLogs)
	})

	return r
}

// handleHealth reports overall status from the database, and the state of
// the optional MQTT and InfluxDB connections for information.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status, code, dbState := "ok", http.StatusOK, "ok"
	if err := s.db.HealthCheck(ctx); err != nil {
		s.logger.Error("database health check failed", "error", err)
		status, code, dbState = "degraded", http.StatusServiceUnavailable, "error"
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"components": map[string]string{
			"database": dbState,
			"mqtt":     connectionState(s.mqtt),
			"influxdb": connectionState(s.influx),
		},
		"websocket_clients": s.hub.ClientCount(),
	})
}

func connectionState(c ConnectionReporter) string {
	switch {
	case c == nil:
		return "disabled"
	case c.IsConnected():
		return "connected"
	default:
		return "disconnected"
	}
}
