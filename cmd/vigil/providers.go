package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/vigil/internal/config"
	"github.com/MrWong99/vigil/pkg/audio"
	"github.com/MrWong99/vigil/pkg/audio/malgo"
	"github.com/MrWong99/vigil/pkg/audio/portaudio"
	"github.com/MrWong99/vigil/pkg/audio/wavfile"
	"github.com/MrWong99/vigil/pkg/provider/vad"
	"github.com/MrWong99/vigil/pkg/provider/vad/energy"
	"github.com/MrWong99/vigil/pkg/provider/vad/silero"
	"github.com/MrWong99/vigil/pkg/provider/vad/webrtc"
	"github.com/MrWong99/vigil/pkg/provider/vision"
	"github.com/MrWong99/vigil/pkg/provider/vision/cv"
	"github.com/MrWong99/vigil/pkg/provider/vision/worker"
)

// builtinProviders maps backend kinds to the implementations that ship with
// vigil. Used for startup logging.
var builtinProviders = map[string][]string{
	"audio":      {"portaudio", "malgo", "wav"},
	"vad":        {"webrtc", "silero", "energy"},
	"landmarker": {"worker"},
	"emotion":    {"cv", "worker"},
	"gender":     {"cv", "worker"},
	"cascade":    {"cv", "worker"},
}

// ── Shared resources ──────────────────────────────────────────────────────────

// resources owns backend objects that outlive any single capability: worker
// processes shared by several capabilities and helper models that are not
// themselves registered providers.
type resources struct {
	mu      sync.Mutex
	workers map[string]*worker.Client
	extra   []io.Closer
}

func newResources() *resources {
	return &resources{workers: make(map[string]*worker.Client)}
}

// worker returns the client for entry's command, starting it on first use.
// Capabilities naming the same command and arguments share one process.
func (r *resources) worker(entry config.ProviderEntry) (*worker.Client, error) {
	command := optString(entry.Options, "command")
	if command == "" {
		return nil, errors.New("worker: options.command is required")
	}
	args := optStrings(entry.Options, "args")
	if entry.Model != "" && !slices.Contains(args, entry.Model) {
		args = append(args, entry.Model)
	}
	key := command + "\x00" + strings.Join(args, "\x00")

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.workers[key]; ok {
		return c, nil
	}
	c, err := worker.Start(command, args,
		worker.WithMaxWidth(optInt(entry.Options, "max_width", 0)),
		worker.WithQuality(optInt(entry.Options, "quality", 0)),
		worker.WithStartupTimeout(optDuration(entry.Options, "startup_timeout", 0)),
	)
	if err != nil {
		return nil, err
	}
	r.workers[key] = c
	return c, nil
}

func (r *resources) track(c io.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extra = append(r.extra, c)
}

// Close stops every worker process and helper model.
func (r *resources) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for key, c := range r.workers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.workers, key)
	}
	for _, c := range r.extra {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.extra = nil
	return errors.Join(errs...)
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in backend factories into reg.
// Objects that no provider owns are tracked in res.
func registerBuiltinProviders(reg *config.Registry, res *resources) {
	// ── Audio ─────────────────────────────────────────────────────────────────

	sourceConfig := func(c config.AudioConfig) audio.SourceConfig {
		return audio.SourceConfig{SampleRate: c.SampleRate, FrameMs: c.FrameMs}
	}
	reg.RegisterAudio("portaudio", func(c config.AudioConfig) (audio.Source, error) {
		return portaudio.Open(sourceConfig(c))
	})
	reg.RegisterAudio("malgo", func(c config.AudioConfig) (audio.Source, error) {
		return malgo.Open(sourceConfig(c))
	})
	reg.RegisterAudio("wav", func(c config.AudioConfig) (audio.Source, error) {
		path := optString(c.Options, "path")
		if path == "" {
			path = c.Model
		}
		return wavfile.Open(path, sourceConfig(c), wavfile.WithRealtime(optBool(c.Options, "realtime", true)))
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("webrtc", func(entry config.ProviderEntry, format vad.Config) (vad.Classifier, error) {
		switch format.FrameSizeMs {
		case 10, 20, 30:
		default:
			return nil, fmt.Errorf("%w: webrtc needs 10, 20 or 30 ms chunks, got %d ms", vad.ErrFrameSize, format.FrameSizeMs)
		}
		return webrtc.New(webrtc.WithMode(optInt(entry.Options, "mode", webrtc.DefaultMode)))
	})
	reg.RegisterVAD("silero", func(entry config.ProviderEntry, format vad.Config) (vad.Classifier, error) {
		return silero.New(silero.Config{
			ModelPath:  entry.Model,
			SampleRate: format.SampleRate,
			Threshold:  float32(optFloat(entry.Options, "threshold", 0.5)),
		})
	})
	reg.RegisterVAD("energy", func(entry config.ProviderEntry, _ vad.Config) (vad.Classifier, error) {
		return energy.New(optFloat(entry.Options, "threshold", energy.DefaultThreshold)), nil
	})

	// ── Vision: OpenCV ────────────────────────────────────────────────────────

	newCascade := func(path string, opts map[string]any) (*cv.Cascade, error) {
		var cascadeOpts []cv.CascadeOption
		if f := optFloat(opts, "scale_factor", 0); f > 0 {
			cascadeOpts = append(cascadeOpts, cv.WithScaleFactor(f))
		}
		if n := optInt(opts, "min_neighbors", 0); n > 0 {
			cascadeOpts = append(cascadeOpts, cv.WithMinNeighbors(n))
		}
		if s := optInt(opts, "min_size", 0); s > 0 {
			cascadeOpts = append(cascadeOpts, cv.WithMinSize(s))
		}
		return cv.NewCascade(path, cascadeOpts...)
	}

	reg.RegisterCascade("cv", func(entry config.ProviderEntry) (vision.FaceCascadeDetector, error) {
		return newCascade(entry.Model, entry.Options)
	})
	reg.RegisterEmotion("cv", func(entry config.ProviderEntry) (vision.EmotionClassifier, error) {
		return cv.NewEmotion(entry.Model)
	})
	reg.RegisterGender("cv", func(entry config.ProviderEntry) (vision.GenderClassifier, error) {
		var opts []cv.GenderOption
		if labels := optStrings(entry.Options, "labels"); len(labels) > 0 {
			opts = append(opts, cv.WithGenderLabels(labels...))
		}
		if path := optString(entry.Options, "cascade"); path != "" {
			faces, err := newCascade(path, entry.Options)
			if err != nil {
				return nil, err
			}
			res.track(faces)
			opts = append(opts, cv.WithFaceDetector(faces))
		}
		return cv.NewGender(optString(entry.Options, "prototxt"), entry.Model, opts...)
	})

	// ── Vision: model worker process ──────────────────────────────────────────

	reg.RegisterLandmarker("worker", func(entry config.ProviderEntry) (vision.FaceLandmarker, error) {
		c, err := res.worker(entry)
		if err != nil {
			return nil, err
		}
		return c.Landmarker(), nil
	})
	reg.RegisterEmotion("worker", func(entry config.ProviderEntry) (vision.EmotionClassifier, error) {
		c, err := res.worker(entry)
		if err != nil {
			return nil, err
		}
		return c.Emotion(), nil
	})
	reg.RegisterGender("worker", func(entry config.ProviderEntry) (vision.GenderClassifier, error) {
		c, err := res.worker(entry)
		if err != nil {
			return nil, err
		}
		return c.Gender(), nil
	})
	reg.RegisterCascade("worker", func(entry config.ProviderEntry) (vision.FaceCascadeDetector, error) {
		c, err := res.worker(entry)
		if err != nil {
			return nil, err
		}
		return c.Cascade(), nil
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optStrings extracts a list of strings. YAML sequences decode as []any, so
// non-string elements are skipped. A single string is returned as a list of
// one.
func optStrings(opts map[string]any, key string) []string {
	switch v := opts[key].(type) {
	case string:
		return []string{v}
	case []string:
		return slices.Clone(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// optFloat extracts a number, accepting YAML integers too. Returns def when
// the key is absent or not numeric.
func optFloat(opts map[string]any, key string, def float64) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// optInt extracts an integer. Whole floats are accepted.
func optInt(opts map[string]any, key string, def int) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return def
}

// optDuration parses a Go duration string such as "90s". Returns def when the
// key is absent or malformed.
func optDuration(opts map[string]any, key string, def time.Duration) time.Duration {
	if s, ok := opts[key].(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return def
}

func optBool(opts map[string]any, key string, def bool) bool {
	if b, ok := opts[key].(bool); ok {
		return b
	}
	return def
}
