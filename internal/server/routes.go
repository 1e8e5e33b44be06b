package server

import (
	"net/http"
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/quillpress/quillpress/internal/config"
	"github.com/quillpress/quillpress/internal/core/engine"
	"github.com/quillpress/quillpress/internal/observability"
	"github.com/quillpress/quillpress/internal/server/handlers"
	servermw "github.com/quillpress/quillpress/internal/server/middleware"
)

// AdminTokenEnv supplies the admin bearer token when Options.AdminToken is
// empty.
const AdminTokenEnv = config.EnvPrefix + "_ADMIN_TOKEN"

// Requests per minute and burst allowed on /admin/signal.
const (
	adminSignalRatePerMinute = 10
	adminSignalBurst         = 5
)

func (s *Server) registerRoutes() {
	s.router.Route("/health", func(r chi.Router) {
		r.Get("/", handlers.HealthHandler)
		r.Get("/live", handlers.LivenessHandler)
		r.Get("/ready", handlers.ReadinessHandler)
		r.Get("/startup", handlers.StartupHandler)
	})
	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", metricsHandler(s.opts.Metrics.Port))

	if api := s.opts.API; api != nil {
		s.router.Route("/v1/ratelimit", func(r chi.Router) {
			r.Get("/policies", api.ListPolicies)
			r.Post("/{scope}", api.Evaluate)
		})
	}

	s.registerAdminEndpoint()
}

func (s *Server) adminToken() string {
	if s.opts.AdminToken != "" {
		return s.opts.AdminToken
	}
	return os.Getenv(AdminTokenEnv)
}

// registerAdminEndpoint mounts POST /admin/signal, which lets an operator
// trigger reload or shutdown over HTTP. It stays unmounted without a token.
// With a limiter configured, callers are also held to AdminSignalPolicy so
// repeated token guesses from one address end up blocked.
func (s *Server) registerAdminEndpoint() {
	logger := observability.ServerLogger
	token := s.adminToken()
	if token == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled", zap.String("token_env", AdminTokenEnv))
		}
		return
	}

	var handler http.Handler = signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: token,
		RateLimit: adminSignalRatePerMinute,
		RateBurst: adminSignalBurst,
	})
	if api := s.opts.API; api != nil && api.Limiter != nil {
		handler = servermw.RateLimit(api.Limiter, engine.AdminSignalPolicy)(handler)
	}
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.Int("rate_per_minute", adminSignalRatePerMinute),
			zap.Int("burst", adminSignalBurst))
		logger.Warn("Admin endpoint enabled; keep this listener off the public internet")
	}
}
