package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/llmgate/llmgate/internal/observability"
	"github.com/llmgate/llmgate/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Get("/health", s.health.HealthHandler)
	s.router.Get("/health/live", s.health.LivenessHandler)
	s.router.Get("/health/ready", s.health.ReadinessHandler)
	s.router.Get("/health/startup", s.health.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)

	// Metrics lives in this package to reach HandleError
	s.router.Get("/metrics", MetricsHandler)

	if s.chain != nil {
		chainHandler := handlers.NewChainHandler(s.chain)
		s.router.Route("/v1", func(r chi.Router) {
			r.Post("/invoke", chainHandler.Invoke)
			r.Get("/endpoints", chainHandler.Endpoints)
		})
	}

	s.registerAdminEndpoint()
}

// registerAdminEndpoint registers POST /admin/signal when an admin token is set
func (s *Server) registerAdminEndpoint() {
	logger := observability.ServerLogger

	if s.adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no admin token configured)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.adminToken,
		RateLimit: 10, // per minute
		RateBurst: 5,
		Manager:   nil,
	})

	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
