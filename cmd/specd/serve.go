package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specd/internal/config"
	httpapi "github.com/fyrsmithlabs/specd/internal/http"
	"github.com/fyrsmithlabs/specd/internal/logging"
	"github.com/fyrsmithlabs/specd/internal/telemetry"
)

var serveAutoAdvance bool

func init() {
	serveCmd.Flags().BoolVar(&serveAutoAdvance, "auto-advance", false, "advance eligible specifications in the background (overrides server.auto_advance)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the specd API server",
	Long: `Run the HTTP API over the configured store.

With auto-advance, the coordinator also scans for eligible specifications
and advances them in the background, bounded by coordinator.max_concurrent
and paced by coordinator.rate_per_second.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("auto-advance") {
			cfg.Server.AutoAdvance = serveAutoAdvance
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return err
	}
	logCfg.Fields["version"] = version
	if tel.IsEnabled() {
		logCfg.Output.OTEL = true
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	e, err := newEngine(cfg, logger, tel.Tracer("github.com/fyrsmithlabs/specd/coordinator"))
	if err != nil {
		return err
	}
	defer e.Close()

	srv, err := httpapi.NewServer(httpapi.NewService(e.store, e.coord), logger,
		httpapi.Config{Addr: cfg.Server.Addr(), Version: version},
		httpapi.WithTelemetry(tel))
	if err != nil {
		return err
	}

	logger.Info(ctx, "specd starting",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("store.backend", cfg.Store.Backend),
		zap.Bool("auto_advance", cfg.Server.AutoAdvance),
		zap.Bool("nats", cfg.NATS.Enabled),
		zap.Bool("telemetry", tel.IsEnabled()),
		zap.Int("workers", len(cfg.Workers)),
		zap.Int("checks", len(cfg.Checks)),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	runDone := make(chan struct{})
	if cfg.Server.AutoAdvance {
		go func() {
			defer close(runDone)
			_ = e.coord.Run(runCtx)
		}()
	} else {
		close(runDone)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error(context.Background(), "http server failed", zap.Error(serveErr))
		}
	}

	// Stop the background loop before the store goes away. Run waits for
	// in-flight Advance calls.
	cancelRun()
	<-runDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn(context.Background(), "http shutdown incomplete", zap.Error(err))
	}
	logger.Info(context.Background(), "specd stopped")
	return serveErr
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "specd %s\n", version)
		return nil
	},
}
