package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/vigil/internal/app"
	"github.com/MrWong99/vigil/internal/config"
	"github.com/MrWong99/vigil/internal/observe"
)

func (c *cli) serveCmd() *cobra.Command {
	var (
		watchInterval   time.Duration
		shutdownTimeout time.Duration
		sampleRatio     float64
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detection API and websocket stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context(), cmd.OutOrStdout(), watchInterval, shutdownTimeout, sampleRatio)
		},
	}
	cmd.Flags().DurationVar(&watchInterval, "watch-interval", 2*time.Second, "how often the config file is polled for changes (0 disables reloads)")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 15*time.Second, "upper bound for graceful shutdown")
	cmd.Flags().Float64Var(&sampleRatio, "trace-sample-ratio", 0.1, "share of detection ticks and requests traced (1 traces all)")
	return cmd
}

func (c *cli) serve(ctx context.Context, out io.Writer, watchInterval, shutdownTimeout time.Duration, sampleRatio float64) error {
	cfg := c.cfg
	slog.Info("vigil starting",
		"config", c.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Setup(ctx, observe.Config{
		ServiceVersion: version,
		Backends:       backendNames(cfg),
		SampleRatio:    sampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backends ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	res := newResources()
	registerBuiltinProviders(reg, res)
	defer func() {
		if err := res.Close(); err != nil {
			slog.Warn("closing shared backends", "err", err)
		}
	}()

	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		slog.Warn("starting with degraded backends", "err", err)
	}

	printStartupSummary(out, cfg, providers)

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{
		app.WithLevelVar(c.level),
		app.WithMetrics(tel.Metrics),
		app.WithMetricsHandler(tel.Handler),
	}
	if watchInterval > 0 {
		opts = append(opts, app.WithConfigWatch(c.configPath, watchInterval))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	if runErr == nil {
		slog.Info("goodbye")
	}
	return runErr
}
