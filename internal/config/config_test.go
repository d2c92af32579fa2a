package config_test

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/vigil/internal/config"
	"github.com/MrWong99/vigil/internal/detector"
	"github.com/MrWong99/vigil/pkg/audio"
	audiomock "github.com/MrWong99/vigil/pkg/audio/mock"
	"github.com/MrWong99/vigil/pkg/provider/vad"
	vadmock "github.com/MrWong99/vigil/pkg/provider/vad/mock"
	"github.com/MrWong99/vigil/pkg/provider/vision"
	visionmock "github.com/MrWong99/vigil/pkg/provider/vision/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8001"
  log_level: debug
  allowed_origins:
    - https://interview.example.com
  read_limit: 4194304
  shutdown_timeout: 5s

audio:
  name: portaudio
  sample_rate: 16000
  frame_ms: 30

vad:
  name: webrtc
  options:
    mode: 3

vision:
  landmarker:
    name: worker
    options:
      command: ["python3", "landmark_worker.py"]
  emotion:
    name: worker
  emotion_fallbacks:
    - name: cv
      model: models/emotion-ferplus-8.onnx
  gender:
    name: cv
    model: models/gender_net.caffemodel
  cascade:
    name: cv
    model: models/haarcascade_frontalface_default.xml
  breaker:
    max_failures: 3
    reset_timeout: 10s
  timeout: 1500ms

calibration:
  mood_interval: 10
  speech_threshold: 0.35
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":8001" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Server.ReadLimit != 4<<20 {
		t.Errorf("read_limit = %d", cfg.Server.ReadLimit)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("shutdown_timeout = %s", cfg.Server.ShutdownTimeout)
	}
	if got := cfg.Server.Origins(); len(got) != 1 || got[0] != "https://interview.example.com" {
		t.Errorf("origins = %v", got)
	}

	if cfg.Audio.Name != "portaudio" || cfg.Audio.SampleRate != 16000 || cfg.Audio.FrameMs != 30 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.VAD.Name != "webrtc" {
		t.Errorf("vad.name = %q", cfg.VAD.Name)
	}
	if mode, ok := cfg.VAD.Options["mode"].(int); !ok || mode != 3 {
		t.Errorf("vad.options.mode = %v", cfg.VAD.Options["mode"])
	}

	if cfg.Vision.Landmarker.Name != "worker" {
		t.Errorf("landmarker = %q", cfg.Vision.Landmarker.Name)
	}
	if len(cfg.Vision.EmotionFallbacks) != 1 || cfg.Vision.EmotionFallbacks[0].Model != "models/emotion-ferplus-8.onnx" {
		t.Errorf("emotion_fallbacks = %+v", cfg.Vision.EmotionFallbacks)
	}
	if cfg.Vision.Breaker.MaxFailures != 3 || cfg.Vision.Breaker.ResetTimeout != 10*time.Second {
		t.Errorf("breaker = %+v", cfg.Vision.Breaker)
	}
	if cfg.Vision.Timeout != 1500*time.Millisecond {
		t.Errorf("timeout = %s", cfg.Vision.Timeout)
	}
}

func TestLoadFromReader_CalibrationKeepsDefaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	got := cfg.Calibration.Resolve()
	want := detector.DefaultCalibration()
	want.MoodInterval = 10
	want.SpeechThreshold = 0.35
	if got != want {
		t.Errorf("calibration = %+v\nwant %+v", got, want)
	}
}

func TestLoadFromReader_EmptyDocument(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "")

	if cfg.Server.ListenAddr != ":8000" {
		t.Errorf("listen_addr = %q, want :8000", cfg.Server.ListenAddr)
	}
	if got := cfg.Server.Origins(); len(got) != len(config.DefaultAllowedOrigins) {
		t.Errorf("origins = %v, want defaults", got)
	}
	if cfg.Calibration.Resolve() != detector.DefaultCalibration() {
		t.Error("empty document should resolve to the default calibration")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":1\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestCalibrationConfig_RoundTrip(t *testing.T) {
	t.Parallel()
	cal := detector.DefaultCalibration()
	cal.IdentitySize = 64
	if got := config.FromCalibration(cal).Resolve(); got != cal {
		t.Errorf("round trip = %+v, want %+v", got, cal)
	}
}

// ── registry ─────────────────────────────────────────────────────────────────

func TestRegistry_CreateRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	src := &audiomock.Source{}
	cls := &vadmock.Classifier{}
	lm := &visionmock.Landmarker{}
	emo := &visionmock.EmotionClassifier{}
	gen := &visionmock.GenderClassifier{}
	cas := &visionmock.CascadeDetector{}

	var gotFormat vad.Config
	reg.RegisterAudio("mock", func(config.AudioConfig) (audio.Source, error) { return src, nil })
	reg.RegisterVAD("mock", func(_ config.ProviderEntry, f vad.Config) (vad.Classifier, error) {
		gotFormat = f
		return cls, nil
	})
	reg.RegisterLandmarker("mock", func(config.ProviderEntry) (vision.FaceLandmarker, error) { return lm, nil })
	reg.RegisterEmotion("mock", func(config.ProviderEntry) (vision.EmotionClassifier, error) { return emo, nil })
	reg.RegisterGender("mock", func(config.ProviderEntry) (vision.GenderClassifier, error) { return gen, nil })
	reg.RegisterCascade("mock", func(config.ProviderEntry) (vision.FaceCascadeDetector, error) { return cas, nil })

	entry := config.ProviderEntry{Name: "mock"}
	if got, err := reg.CreateAudio(config.AudioConfig{ProviderEntry: entry}); err != nil || got != src {
		t.Errorf("CreateAudio = %v, %v", got, err)
	}
	format := vad.Config{SampleRate: 16000, FrameSizeMs: 20}
	if got, err := reg.CreateVAD(entry, format); err != nil || got != cls {
		t.Errorf("CreateVAD = %v, %v", got, err)
	}
	if gotFormat != format {
		t.Errorf("vad factory format = %+v, want %+v", gotFormat, format)
	}
	if got, err := reg.CreateLandmarker(entry); err != nil || got != lm {
		t.Errorf("CreateLandmarker = %v, %v", got, err)
	}
	if got, err := reg.CreateEmotion(entry); err != nil || got != emo {
		t.Errorf("CreateEmotion = %v, %v", got, err)
	}
	if got, err := reg.CreateGender(entry); err != nil || got != gen {
		t.Errorf("CreateGender = %v, %v", got, err)
	}
	if got, err := reg.CreateCascade(entry); err != nil || got != cas {
		t.Errorf("CreateCascade = %v, %v", got, err)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nope"}

	tests := []struct {
		name string
		call func() error
	}{
		{"audio", func() error { _, err := reg.CreateAudio(config.AudioConfig{ProviderEntry: entry}); return err }},
		{"vad", func() error { _, err := reg.CreateVAD(entry, vad.Config{}); return err }},
		{"landmarker", func() error { _, err := reg.CreateLandmarker(entry); return err }},
		{"emotion", func() error { _, err := reg.CreateEmotion(entry); return err }},
		{"gender", func() error { _, err := reg.CreateGender(entry); return err }},
		{"cascade", func() error { _, err := reg.CreateCascade(entry); return err }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.call()
			if !errors.Is(err, config.ErrProviderNotRegistered) {
				t.Errorf("err = %v, want ErrProviderNotRegistered", err)
			}
			if err != nil && !strings.Contains(err.Error(), tc.name) {
				t.Errorf("error %q should name the kind %q", err, tc.name)
			}
		})
	}
}

func TestRegistry_FactoryErrorPropagates(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("model missing")
	reg.RegisterCascade("cv", func(config.ProviderEntry) (vision.FaceCascadeDetector, error) { return nil, boom })

	if _, err := reg.CreateCascade(config.ProviderEntry{Name: "cv"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestRegistry_Missing(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterVAD("energy", func(config.ProviderEntry, vad.Config) (vad.Classifier, error) { return nil, nil })
	reg.RegisterEmotion("cv", func(config.ProviderEntry) (vision.EmotionClassifier, error) { return nil, nil })
	reg.RegisterEmotion("worker", func(config.ProviderEntry) (vision.EmotionClassifier, error) { return nil, nil })

	cfg := config.Default()
	cfg.Audio.Name = "portaudio"
	cfg.VAD.Name = "energy"
	cfg.Vision.Emotion.Name = "worker"
	cfg.Vision.EmotionFallbacks = []config.ProviderEntry{{Name: "cv"}, {Name: "onnx"}}
	cfg.Vision.Cascade.Name = "haar"

	want := []string{"audio/portaudio", "emotion/onnx", "cascade/haar"}
	if got := reg.Missing(cfg); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("Missing = %v, want %v", got, want)
	}

	names := reg.Names()
	if got := strings.Join(names["emotion"], ","); got != "cv,worker" {
		t.Errorf("emotion names = %q, want sorted cv,worker", got)
	}
	if len(names["landmarker"]) != 0 || len(names) != 6 {
		t.Errorf("names = %v", names)
	}

	if got := config.NewRegistry().Missing(config.Default()); len(got) != 0 {
		t.Errorf("default config needs %v, want nothing", got)
	}
}

func TestLogLevel_Slog(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := tc.in.Slog(); got != tc.want {
			t.Errorf("LogLevel(%q).Slog() = %v, want %v", tc.in, got, tc.want)
		}
	}
}
