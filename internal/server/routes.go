package server

import (
	"context"
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/threadgate/threadgate/internal/appid"
	"github.com/threadgate/threadgate/internal/core"
	"github.com/threadgate/threadgate/internal/observability"
	"github.com/threadgate/threadgate/internal/server/handlers"
	servermw "github.com/threadgate/threadgate/internal/server/middleware"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)

	// Metrics endpoint
	s.router.Get("/metrics", s.metrics.ServeHTTP)

	s.registerAdmissionRoutes()

	// Admin signal endpoint (optional, requires THREADGATE_ADMIN_TOKEN)
	s.registerAdminEndpoint()
}

// registerAdmissionRoutes mounts the /v1 API. Admission and usage calls are
// counted per end-user identity by the gate itself; the remaining routes are
// throttled per client IP.
func (s *Server) registerAdmissionRoutes() {
	if s.deps.Gate == nil {
		return
	}
	adm := &handlers.Admission{
		Gate:   s.deps.Gate,
		Quotas: s.deps.Quotas,
		Limits: s.deps.Limiter,
	}

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/admission", adm.Admit)
		r.Post("/usage", adm.RecordUsage)

		if s.deps.Limiter != nil {
			r.With(servermw.RateLimit(s.deps.Limiter, core.ClassAPI)).
				Get("/limits/{class}", adm.LimitStatus)
		}
		if s.deps.Quotas != nil {
			r.With(servermw.RateLimit(s.deps.Limiter, core.ClassAdmin)).
				Get("/accounts/{id}/quota", adm.Quota)
		}
	})
}

// registerAdminEndpoint optionally registers the admin signal endpoint
func (s *Server) registerAdminEndpoint() {
	envPrefix := "THREADGATE_"
	if identity, err := appid.Get(context.Background()); err == nil && identity.EnvPrefix != "" {
		envPrefix = identity.EnvPrefix
	}

	adminToken := os.Getenv(envPrefix + "ADMIN_TOKEN")
	logger := observability.Logger()

	if adminToken == "" {
		logger.Debug("Admin signal endpoint disabled (no " + envPrefix + "ADMIN_TOKEN set)")
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10,  // 10 requests per minute
		RateBurst: 5,   // burst size
		Manager:   nil, // use default global manager
	})

	s.router.Post("/admin/signal", handler.ServeHTTP)

	logger.Info("Admin signal endpoint enabled",
		zap.String("path", "/admin/signal"),
		zap.String("auth", "bearer token"),
		zap.String("rate_limit", "10/min, burst 5"))
	logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
}
