// Command vigil is the entry point for the vigil interview detection service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/vigil/internal/app"
	"github.com/MrWong99/vigil/internal/config"
)

// version is reported by --version and in telemetry.
const version = "0.3.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vigil: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// cli holds state shared by every subcommand.
type cli struct {
	configPath string
	cfg        *config.Config
	level      *slog.LevelVar
}

func newRootCmd() *cobra.Command {
	c := &cli{level: new(slog.LevelVar)}
	root := &cobra.Command{
		Use:           "vigil",
		Short:         "Interview monitoring detection service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd.ErrOrStderr())
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(c.serveCmd(), c.checkCmd(), c.replayCmd())
	return root
}

// load reads the configuration and installs the default logger.
func (c *cli) load(logOut io.Writer) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", c.configPath)
		}
		return err
	}
	c.cfg = cfg
	c.level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(newLogger(logOut, c.level))
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, ps *app.Providers) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║          vigil: startup summary       ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "Audio", cfg.Audio.Name, ps != nil && ps.Audio != nil)
	printProvider(w, "VAD", cfg.VAD.Name, ps != nil && ps.VAD != nil)
	printProvider(w, "Landmarker", cfg.Vision.Landmarker.Name, ps != nil && ps.Landmarker != nil)
	printProvider(w, "Emotion", cfg.Vision.Emotion.Name, ps != nil && ps.Emotion != nil)
	printProvider(w, "Gender", cfg.Vision.Gender.Name, ps != nil && ps.Gender != nil)
	printProvider(w, "Cascade", cfg.Vision.Cascade.Name, ps != nil && ps.Cascade != nil)
	fmt.Fprintf(w, "║  Fallbacks       : %-19d ║\n", len(cfg.Vision.EmotionFallbacks))
	if cfg.Server.ListenAddr != "" {
		fmt.Fprintf(w, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

// backendNames lists the configured backends as kind=name pairs.
func backendNames(cfg *config.Config) []string {
	entries := []struct{ kind, name string }{
		{"audio", cfg.Audio.Name},
		{"vad", cfg.VAD.Name},
		{"landmarker", cfg.Vision.Landmarker.Name},
		{"emotion", cfg.Vision.Emotion.Name},
		{"gender", cfg.Vision.Gender.Name},
		{"cascade", cfg.Vision.Cascade.Name},
	}
	for _, fb := range cfg.Vision.EmotionFallbacks {
		entries = append(entries, struct{ kind, name string }{"emotion_fallback", fb.Name})
	}
	var out []string
	for _, e := range entries {
		if e.name != "" {
			out = append(out, e.kind+"="+e.name)
		}
	}
	return out
}

func printProvider(w io.Writer, kind, name string, up bool) {
	value := name
	switch {
	case name == "":
		value = "(not configured)"
	case !up:
		value = name + " (down)"
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger writes text logs to w at the level held by lv, so config reloads
// can change verbosity without rebuilding the logger.
func newLogger(w io.Writer, lv *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv}))
}
