package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/vigil/internal/config"
)

func (c *cli) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the resolved calibration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := config.NewRegistry()
			registerBuiltinProviders(reg, newResources())
			if err := checkBackends(reg, c.cfg); err != nil {
				return err
			}
			return printCheck(cmd.OutOrStdout(), c.configPath, c.cfg)
		},
	}
}

// checkBackends fails on backend names no factory is registered for. serve
// would start degraded without them; check treats them as typos.
func checkBackends(reg *config.Registry, cfg *config.Config) error {
	missing := reg.Missing(cfg)
	if len(missing) == 0 {
		return nil
	}
	names := reg.Names()
	lines := make([]string, len(missing))
	for i, m := range missing {
		kind, _, _ := strings.Cut(m, "/")
		lines[i] = fmt.Sprintf("%s (known: %s)", m, strings.Join(names[kind], ", "))
	}
	return fmt.Errorf("unknown backends: %s", strings.Join(lines, "; "))
}

// resolved is the document printed by check: the settings as the service
// will use them, defaults included.
type resolved struct {
	Listen      string                   `yaml:"listen_addr"`
	Origins     []string                 `yaml:"allowed_origins"`
	Backends    map[string]string        `yaml:"backends"`
	Calibration config.CalibrationConfig `yaml:"calibration"`
}

func printCheck(w io.Writer, path string, cfg *config.Config) error {
	backends := map[string]string{
		"audio":      cfg.Audio.Name,
		"vad":        cfg.VAD.Name,
		"landmarker": cfg.Vision.Landmarker.Name,
		"emotion":    cfg.Vision.Emotion.Name,
		"gender":     cfg.Vision.Gender.Name,
		"cascade":    cfg.Vision.Cascade.Name,
	}
	for k, v := range backends {
		if v == "" {
			backends[k] = "(none)"
		}
	}

	fmt.Fprintf(w, "# %s is valid\n", path)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(resolved{
		Listen:      cfg.Server.ListenAddr,
		Origins:     cfg.Server.Origins(),
		Backends:    backends,
		Calibration: cfg.Calibration,
	}); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return enc.Close()
}
