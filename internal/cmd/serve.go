package cmd

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quillpress/quillpress/internal/config"
	"github.com/quillpress/quillpress/internal/core/alert"
	"github.com/quillpress/quillpress/internal/core/engine"
	errwrap "github.com/quillpress/quillpress/internal/errors"
	"github.com/quillpress/quillpress/internal/metrics"
	"github.com/quillpress/quillpress/internal/observability"
	"github.com/quillpress/quillpress/internal/server"
	"github.com/quillpress/quillpress/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// signalHealthChecker implements HealthChecker for signal system
type signalHealthChecker struct{}

func (s signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil // Signal handlers are registered and ready
}

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// storeHealthChecker pings the rate limit backend. The limiter fails open
// when the store is down, so this is the only place an outage is visible
// to orchestration.
type storeHealthChecker struct {
	backend rateLimitBackend
}

func (s storeHealthChecker) CheckHealth(ctx context.Context) error {
	if err := s.backend.Ping(ctx); err != nil {
		return errwrap.WrapDatabaseError(ctx, err, "rate limit store unreachable")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the rate limit HTTP service with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read and validate config (policy changes apply on restart)

The server will cleanly shut down the HTTP server, close the store and flush logs on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load(ctx, serveOverrides(cmd))
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "config load failed")
		}

		namespace := config.AppName
		observability.InitServerLogger(config.AppName, observability.ServerLogOptions{
			Level:     cfg.Logging.Level,
			Profile:   cfg.Logging.Profile,
			Namespace: namespace,
		})
		logger := observability.ServerLogger

		metricsPort := cfg.Metrics.Port
		if metricsPort == 0 {
			metricsPort = 9090
		}

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, metricsPort, namespace); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
			}
		}

		policies, err := buildPolicies(cfg)
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "rate limit policies invalid")
		}

		backend, err := openBackend(ctx, cfg)
		if err != nil {
			logger.Error("Failed to open rate limit store",
				zap.String("driver", cfg.Store.Driver),
				zap.Error(err))
			return errwrap.WrapDatabaseError(ctx, err, "rate limit store unavailable")
		}

		sink := alert.NewThrottle(
			alert.MultiSink{alert.LogSink{Logger: logger}, alert.MetricsSink{}},
			cfg.RateLimit.Alerts.PerSecond,
			cfg.RateLimit.Alerts.Burst,
		)
		limiter := &engine.RateLimiter{
			Store:  backend,
			Alerts: sink,
			Logger: logger,
		}

		logger.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("store_driver", cfg.Store.Driver),
			zap.Int("policies", len(policies.All())),
			zap.Int("metrics_port", metricsPort))

		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("signal_handlers", signalHealthChecker{})
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
		hm.RegisterChecker("rate_limit_store", storeHealthChecker{backend: backend})

		srv := server.New(server.Options{
			Server:  cfg.Server,
			Metrics: cfg.Metrics,
			API: &handlers.RateLimitAPI{
				Limiter:      limiter,
				Policies:     policies,
				TrustedToken: cfg.RateLimit.TrustedToken,
			},
		})
		metrics.SetServerStartTime(time.Now().Unix())
		driver := strings.ToLower(cfg.Store.Driver)
		scopes := make([]string, 0, len(policies.All()))
		for _, p := range policies.All() {
			scopes = append(scopes, p.Scope)
		}
		metrics.SetServingConfig(driver, len(scopes))
		handlers.SetServiceInfo(driver, scopes)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		// Handler 1: Flush logger (executed last)
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		// Handler 2: Stop the Prometheus exporter
		signals.OnShutdown(func(ctx context.Context) error {
			if err := observability.ShutdownMetrics(); err != nil {
				logger.Warn("Metrics exporter stop returned error", zap.Error(err))
			}
			return nil
		})

		// Handler 3: Close the store once no requests are in flight
		signals.OnShutdown(func(ctx context.Context) error {
			if err := backend.Close(); err != nil {
				logger.Warn("Rate limit store close returned error", zap.Error(err))
			}
			return nil
		})

		// Handler 4: Shutdown HTTP server (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: re-reading config")

			reloaded, err := config.Load(ctx, serveOverrides(cmd))
			if err != nil {
				logger.Error("Failed to reload config", zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			if _, err := buildPolicies(reloaded); err != nil {
				logger.Error("Reloaded rate limit policies are invalid", zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			logger.Info("Configuration is valid; restart to apply policy changes")
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			logger.Info("Starting HTTP server...",
				zap.String("host", cfg.Server.Host),
				zap.Int("port", cfg.Server.Port))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(ctx); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(ctx, err, "server error")
		}

		return nil
	},
}

// serveOverrides turns explicitly set flags into config overrides so they
// win over the file and environment.
func serveOverrides(cmd *cobra.Command) map[string]any {
	server := map[string]any{}
	if cmd.Flags().Changed("host") {
		server["host"] = serverHost
	}
	if cmd.Flags().Changed("port") {
		server["port"] = serverPort
	}
	if len(server) == 0 {
		return nil
	}
	return map[string]any{"server": server}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")
}
