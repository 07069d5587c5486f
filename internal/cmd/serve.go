package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pcroast/pcroast/internal/ailink"
	"github.com/pcroast/pcroast/internal/ailink/prompt"
	"github.com/pcroast/pcroast/internal/audit"
	"github.com/pcroast/pcroast/internal/config"
	errwrap "github.com/pcroast/pcroast/internal/errors"
	"github.com/pcroast/pcroast/internal/metrics"
	"github.com/pcroast/pcroast/internal/observability"
	"github.com/pcroast/pcroast/internal/ratelimit"
	"github.com/pcroast/pcroast/internal/server"
)

var (
	serverPort int
	serverHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the gate server with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read the config file (changes apply on restart)

The server drains in-flight gate requests, stops the rate limit sweeper,
closes the store and flushes logs on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		cfg, err := loadConfig()
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "invalid configuration")
		}

		observability.InitServerLogger(BinaryName, observability.ServerLoggerOptions{
			Level: cfg.Logging.Level,
			StaticFields: map[string]any{
				"version": versionInfo.Version,
			},
		})
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(BinaryName, cfg.Metrics.Port); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
			}
			metrics.SetServerStartTime(time.Now())
		}

		limiterStore, closeStore, err := openLimiterStore(ctx, cfg)
		if err != nil {
			return errwrap.WrapDatabaseError(ctx, err, "rate limit store unavailable")
		}
		limiter := ratelimit.New(limiterStore, cfg.RateLimit.Max, cfg.RateLimit.Window)

		pool, err := ailink.NewPool(cfg.AILink, nil)
		if err != nil {
			_ = closeStore()
			return errwrap.WrapConfigInvalid(ctx, err, "invalid gate bindings")
		}
		for _, b := range pool.Describe() {
			fields := []zap.Field{
				zap.String("gate", b.Gate),
				zap.String("provider", b.Provider),
				zap.String("model", b.Model),
				zap.Duration("timeout", b.Timeout),
			}
			if b.HasKey {
				logger.Info("Gate bound", fields...)
			} else {
				logger.Warn("Gate has no API key; calls will fail until one is configured", fields...)
			}
		}

		roastPrompt, err := prompt.LoadFile(cfg.AILink.PromptFile)
		if err != nil {
			_ = closeStore()
			return errwrap.WrapConfigInvalid(ctx, err, "invalid prompt file")
		}

		srv, err := server.New(server.Options{
			Config:     cfg.Server,
			Messages:   cfg.Messages,
			Limiter:    limiter,
			Generators: pool.Generators(),
			Prompt:     roastPrompt,
			Audit:      audit.New(cfg.Audit.Path),
		})
		if err != nil {
			_ = closeStore()
			return errwrap.WrapInternal(ctx, err, "server setup failed")
		}

		logger.Info("Initializing server",
			zap.String("service", BinaryName),
			zap.String("version", versionInfo.Version),
			zap.String("addr", srv.Addr()),
			zap.String("audit_path", cfg.Audit.Path),
			zap.String("rate_limit_backend", cfg.RateLimit.Backend),
			zap.Int("rate_limit_max", cfg.RateLimit.Max),
			zap.Duration("rate_limit_window", cfg.RateLimit.Window),
			zap.Int("metrics_port", observability.GetMetricsPort()))

		sweepCtx, stopSweep := context.WithCancel(context.Background())
		go runSweeper(sweepCtx, limiter, cfg.RateLimit.SweepInterval)

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

		// Handler 2: Release the store and metrics exporter
		signals.OnShutdown(func(ctx context.Context) error {
			stopSweep()
			if err := closeStore(); err != nil {
				logger.Warn("Failed to close rate limit store", zap.Error(err))
			}
			if err := observability.StopMetrics(); err != nil {
				logger.Warn("Failed to stop metrics exporter", zap.Error(err))
			}
			return nil
		})

		// Handler 3: Shutdown HTTP server (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: attempting config reload")

			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); ok {
					logger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				logger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			// Bindings, limits and the log level are fixed for the process lifetime.
			logger.Info("Configuration re-read; restart to apply changes",
				zap.String("file", viper.ConfigFileUsed()))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 2)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
			stopSweep()
			_ = closeStore()
			return errwrap.WrapInternal(ctx, err, "server error")
		}

		return nil
	},
}

// openLimiterStore returns the backend for rate limit windows and a func that
// releases it.
func openLimiterStore(ctx context.Context, cfg *config.Config) (ratelimit.Store, func() error, error) {
	if cfg.RateLimit.Backend != config.BackendLibsql {
		return ratelimit.NewMemoryStore(), func() error { return nil }, nil
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return db, db.Close, nil
}

// runSweeper drops expired windows every interval until ctx is done.
func runSweeper(ctx context.Context, limiter *ratelimit.Limiter, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := limiter.Sweep(ctx)
			if err != nil {
				if logger := observability.Logger(); logger != nil {
					logger.Warn("Rate limit sweep failed", zap.Error(err))
				}
				continue
			}
			metrics.RecordSweep(removed)
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", config.DefaultHost, "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", config.DefaultPort, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
