package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tagsakay/tagsakay-core/internal/auth"
)

// healthCheckTimeout bounds each dependency check in GET /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints
		r.Route("/auth", func(r chi.Router) {
			r.With(s.rateLimitMiddleware(s.policies.auth, false)).Post("/login", s.handleLogin)

			r.Group(func(r chi.Router) {
				r.Use(s.userAuthMiddleware)
				r.Post("/logout", s.handleLogout)
				r.Get("/me", s.handleMe)
			})
		})

		r.Route("/rfid", func(r chi.Router) {
			// Scanner endpoints
			r.Group(func(r chi.Router) {
				r.Use(s.rateLimitMiddleware(s.policies.api, true))
				r.Use(s.deviceAuthMiddleware)
				r.Post("/scan", s.handleScan)
				r.Post("/batch-scan", s.handleBatchScan)
			})

			// Dashboard endpoints
			r.Group(func(r chi.Router) {
				r.Use(s.rateLimitMiddleware(s.policies.api, false))
				r.Use(s.userAuthMiddleware)

				r.Get("/scans/recent", s.handleRecentScans)

				r.Group(func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermTagManage))
					r.Get("/unregistered/recent", s.handleUnregisteredTags)
					r.Get("/tags", s.handleListTags)
					r.Post("/tags", s.handleCreateTag)
					r.Get("/tags/{tagId}", s.handleGetTag)
					r.Patch("/tags/{tagId}", s.handleUpdateTag)
					r.With(s.requirePermission(auth.PermAdminManage)).Delete("/tags/{tagId}", s.handleDeleteTag)
				})
			})
		})

		r.Route("/devices", func(r chi.Router) {
			// Scanner endpoints
			r.Group(func(r chi.Router) {
				r.Use(s.rateLimitMiddleware(s.policies.api, true))
				r.Use(s.deviceAuthMiddleware)
				r.Post("/{deviceId}/heartbeat", s.handleHeartbeat)
				r.Get("/{deviceId}/commands", s.handleDeviceCommands)
			})

			// Dashboard endpoints
			r.Group(func(r chi.Router) {
				r.Use(s.userAuthMiddleware)
				r.Use(s.requirePermission(auth.PermDeviceManage))

				r.With(s.rateLimitMiddleware(s.policies.deviceRegister, false)).Post("/", s.handleRegisterDevice)
				r.Get("/", s.handleListDevices)
				r.Get("/stats", s.handleDeviceStats)
				r.Get("/{deviceId}", s.handleGetDevice)
				r.Put("/{deviceId}/mode", s.handleSetDeviceMode)
				r.Patch("/{deviceId}/active", s.handleSetDeviceActive)
				r.Post("/{deviceId}/rotate-key", s.handleRotateDeviceKey)
			})
		})

		// Protected dashboard routes
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware(s.policies.api, false))
			r.Use(s.userAuthMiddleware)

			r.Route("/apikeys", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermAPIKeyManage))
				r.Get("/", s.handleListAPIKeys)
				r.Post("/", s.handleCreateAPIKey)
				r.With(s.requirePermission(auth.PermAdminManage)).Delete("/{id}", s.handleRevokeAPIKey)
			})

			r.Route("/users", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermUserManage))
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)
				r.Get("/{id}", s.handleGetUser)
				r.Patch("/{id}", s.handleUpdateUser)
				r.With(s.requirePermission(auth.PermAdminManage)).Delete("/{id}", s.handleDeleteUser)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermSecurityView))
				r.Get("/security/events", s.handleListSecurityEvents)
				r.Get("/metrics", s.handleMetrics)
			})
		})
	})

	return r
}

// handleHealth reports the server and dependency status. The database is
// required; MQTT and InfluxDB are reported but only degrade the status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"database": dependencyStatus(r.Context(), s.db),
		"mqtt":     dependencyStatus(r.Context(), s.mqtt),
		"influxdb": dependencyStatus(r.Context(), s.influx),
	}

	status, code := "ok", http.StatusOK
	switch {
	case checks["database"] != "ok":
		status, code = "unhealthy", http.StatusServiceUnavailable
	case checks["mqtt"] == "error" || checks["influxdb"] == "error":
		status = "degraded"
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}

// dependencyStatus runs one dependency health check: "ok", "error", or "disabled"
// when the dependency is not configured.
func dependencyStatus(ctx context.Context, hc HealthChecker) string {
	if hc == nil {
		return "disabled"
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := hc.HealthCheck(ctx); err != nil {
		return "error"
	}
	return "ok"
}
