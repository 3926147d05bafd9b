package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/core/engine"
	errwrap "github.com/llmgate/llmgate/internal/errors"
	"github.com/llmgate/llmgate/internal/metrics"
	"github.com/llmgate/llmgate/internal/observability"
	"github.com/llmgate/llmgate/internal/server"
	"github.com/llmgate/llmgate/internal/server/handlers"
)

const windowGaugeInterval = 15 * time.Second

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	Long: `Start the HTTP gateway with graceful shutdown support.

Routes:
  POST /v1/invoke      Run a prompt through the failover chain
  GET  /v1/endpoints   Show the chain and current window usage
  GET  /health/*       Liveness, readiness and startup probes

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-validate config (restart to apply chain changes)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, serveOverrides(cmd)...)
		if err != nil {
			return err
		}

		observability.InitServerLogger(config.AppName, cfg.Logging.Level, cfg.Logging.Profile)
		logger := observability.ServerLogger

		health := handlers.NewHealthManager(versionInfo.Version)
		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
			health.RegisterChecker("telemetry", telemetryHealthChecker{})
		}

		gw, err := buildGateway(cfg, logger)
		if err != nil {
			return err
		}

		logger.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("endpoints", len(cfg.Chain)),
			zap.String("limiter_mode", cfg.Limiter.Mode),
			zap.String("limiter_backend", cfg.Limiter.Backend),
			zap.Bool("metrics_enabled", cfg.Metrics.Enabled),
			zap.Int("metrics_port", observability.GetMetricsPort()))

		handlers.SetAppName(config.AppName)
		handlers.SetGatewayInfo(handlers.GatewayInfo{
			Endpoints:      len(gw.chain.Endpoints()),
			LimiterMode:    cfg.Limiter.Mode,
			LimiterBackend: cfg.Limiter.Backend,
		})
		srv := server.New(cfg.Server.Host, cfg.Server.Port,
			server.WithHealthManager(health),
			server.WithChain(gw.chain),
			server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
			server.WithAdminToken(cfg.Server.AdminToken),
		)
		startedAt := time.Now()
		metrics.SetServerStartTime(startedAt.Unix())

		gaugeCtx, stopGauges := context.WithCancel(cmd.Context())
		defer stopGauges()
		go publishGauges(gaugeCtx, gw.chain, startedAt)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run LIFO: HTTP server, then Redis, then the logger.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			stopGauges()
			if err := gw.Close(); err != nil {
				logger.Warn("Closing window backend failed", zap.Error(err))
			}
			return nil
		})

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
			logger.Info("Received SIGHUP: re-validating configuration")

			reloaded, err := config.Load(ctx, cfgFile, serveOverrides(cmd)...)
			if err == nil {
				err = reloaded.Validate()
			}
			if err != nil {
				logger.Error("Configuration reload failed",
					zap.String("file", config.ConfigFileUsed(cfgFile)),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			logger.Info("Configuration is valid; restart to apply chain or limiter changes",
				zap.String("file", config.ConfigFileUsed(cfgFile)),
				zap.Int("endpoints", len(reloaded.Chain)))
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
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

// serveOverrides turns explicitly set flags into config overrides.
func serveOverrides(cmd *cobra.Command) []map[string]any {
	serverSettings := map[string]any{}
	if cmd.Flags().Changed("host") {
		serverSettings["host"] = serverHost
	}
	if cmd.Flags().Changed("port") {
		serverSettings["port"] = serverPort
	}
	if len(serverSettings) == 0 {
		return nil
	}
	return []map[string]any{{"server": serverSettings}}
}

// publishGauges refreshes uptime and the per-endpoint window gauges until ctx ends.
func publishGauges(ctx context.Context, chain *engine.Chain, startedAt time.Time) {
	ticker := time.NewTicker(windowGaugeInterval)
	defer ticker.Stop()

	for {
		metrics.SetServerUptime(int64(time.Since(startedAt).Seconds()))
		metrics.RecordWindowUsage(ctx, chain)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host (overrides server.host)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port (overrides server.port)")
}
