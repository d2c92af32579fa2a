package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and validates the config file at path. Errors name the file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes one YAML document over [Default] and validates it.
// Unknown keys are errors, so a misspelt calibration field cannot silently
// keep its default. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem in cfg at once, joined. Backend names are
// not checked here; see [Registry.Missing].
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ReadLimit < 0 {
		errs = append(errs, fmt.Errorf("server.read_limit must be >= 0, got %d", cfg.Server.ReadLimit))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must be >= 0, got %s", cfg.Server.ShutdownTimeout))
	}
	for i, origin := range cfg.Server.AllowedOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.allowed_origins[%d] %q is not an absolute origin", i, origin))
		}
	}

	// Audio
	switch cfg.Audio.SampleRate {
	case 0, 8000, 16000, 32000, 48000:
	default:
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is invalid; valid values: 8000, 16000, 32000, 48000", cfg.Audio.SampleRate))
	}
	switch cfg.Audio.FrameMs {
	case 0, 10, 20, 30:
	default:
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is invalid; valid values: 10, 20, 30", cfg.Audio.FrameMs))
	}
	if cfg.Audio.Name == "wav" {
		if path, _ := cfg.Audio.Options["path"].(string); path == "" {
			errs = append(errs, errors.New("audio.options.path is required when audio.name is wav"))
		}
	}

	// Vision
	if cfg.Vision.Timeout < 0 {
		errs = append(errs, fmt.Errorf("vision.timeout must be >= 0, got %s", cfg.Vision.Timeout))
	}
	if cfg.Vision.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("vision.breaker.max_failures must be >= 0, got %d", cfg.Vision.Breaker.MaxFailures))
	}
	for i, fb := range cfg.Vision.EmotionFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("vision.emotion_fallbacks[%d].name is required", i))
		}
	}
	if len(cfg.Vision.EmotionFallbacks) > 0 && cfg.Vision.Emotion.Name == "" {
		errs = append(errs, errors.New("vision.emotion_fallbacks requires vision.emotion to be configured"))
	}

	// Degraded-mode warnings
	if cfg.Audio.Name != "" && cfg.VAD.Name == "" {
		slog.Warn("audio source is configured but no vad classifier; speech will never be detected")
	}
	if cfg.Vision.Landmarker.Name == "" {
		slog.Warn("vision.landmarker is empty; every frame will report zero faces")
	}
	if cfg.Vision.Cascade.Name == "" {
		slog.Warn("vision.cascade is empty; reference capture and identity checks are unavailable")
	}

	if err := cfg.Calibration.Resolve().Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
