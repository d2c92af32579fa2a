package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/vigil/internal/config"
	"github.com/MrWong99/vigil/pkg/provider/vad"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeWAV writes 16 kHz mono PCM: silence, a loud square wave, silence.
func writeWAV(t *testing.T, silence, loud int) string {
	t.Helper()
	const rate = 16000
	samples := make([]int, 0, 2*silence+loud)
	samples = append(samples, make([]int, silence)...)
	for i := range loud {
		v := 12000
		if (i/20)%2 == 1 {
			v = -12000
		}
		samples = append(samples, v)
	}
	samples = append(samples, make([]int, silence)...)

	path := filepath.Join(t.TempDir(), "speech.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// ── check ────────────────────────────────────────────────────────────────────

func TestCheck_PrintsResolvedCalibration(t *testing.T) {
	path := writeFile(t, "vigil.yaml", `
server:
  listen_addr: ":9000"
calibration:
  mood_window: 5
  speech_threshold: 0.4
`)
	out, err := execute(t, "check", "--config", path)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	for _, want := range []string{
		"is valid",
		":9000",
		"mood_window: 5",
		"speech_threshold: 0.4",
		"mood_interval: 15",
		"http://localhost:5173",
		"landmarker: (none)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCheck_MissingConfig(t *testing.T) {
	_, err := execute(t, "check", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestCheck_InvalidConfig(t *testing.T) {
	path := writeFile(t, "bad.yaml", `
calibration:
  mood_window: 0
`)
	if _, err := execute(t, "check", "--config", path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestCheck_UnknownBackend(t *testing.T) {
	path := writeFile(t, "typo.yaml", `
vad:
  name: webrtcc
vision:
  emotion:
    name: cv
  emotion_fallbacks:
    - name: onnx
`)
	_, err := execute(t, "check", "--config", path)
	if err == nil {
		t.Fatal("expected unknown backend error")
	}
	for _, want := range []string{
		"vad/webrtcc (known: energy, silero, webrtc)",
		"emotion/onnx (known: cv, worker)",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("err = %v, want it to mention %q", err, want)
		}
	}
}

// ── replay ───────────────────────────────────────────────────────────────────

func TestReplay_PrintsSpeechTimeline(t *testing.T) {
	cfgPath := writeFile(t, "vigil.yaml", "vad:\n  name: energy\n")
	wavPath := writeWAV(t, 8000, 16000)

	out, err := execute(t, "replay", "--config", cfgPath, "--wav", wavPath)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	start := strings.Index(out, "speech start")
	end := strings.Index(out, "speech end")
	if start < 0 || end < 0 || end < start {
		t.Fatalf("timeline missing start/end:\n%s", out)
	}
	if !strings.Contains(out, "chunks=100") {
		t.Errorf("expected 100 chunks of 20 ms:\n%s", out)
	}
	if !strings.Contains(out, "speech_chunks=50") {
		t.Errorf("expected 50 loud chunks:\n%s", out)
	}
}

func TestReplay_SilenceHasNoSpeech(t *testing.T) {
	cfgPath := writeFile(t, "vigil.yaml", "")
	wavPath := writeWAV(t, 4000, 0)

	out, err := execute(t, "replay", "--config", cfgPath, "--wav", wavPath)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if strings.Contains(out, "speech start") {
		t.Errorf("unexpected speech in silence:\n%s", out)
	}
	if !strings.Contains(out, "vad=energy") {
		t.Errorf("empty vad should default to energy:\n%s", out)
	}
}

func TestReplay_RequiresWav(t *testing.T) {
	cfgPath := writeFile(t, "vigil.yaml", "")
	if _, err := execute(t, "replay", "--config", cfgPath); err == nil {
		t.Fatal("expected missing --wav error")
	}
}

// ── Provider wiring ──────────────────────────────────────────────────────────

func TestRegisterBuiltinProviders(t *testing.T) {
	reg := config.NewRegistry()
	res := newResources()
	t.Cleanup(func() { res.Close() })
	registerBuiltinProviders(reg, res)

	format := vad.Config{SampleRate: 16000, FrameSizeMs: 20}

	t.Run("energy vad", func(t *testing.T) {
		cls, err := reg.CreateVAD(config.ProviderEntry{Name: "energy", Options: map[string]any{"threshold": 0.2}}, format)
		if err != nil {
			t.Fatalf("CreateVAD: %v", err)
		}
		defer cls.Close()
		quiet := make([]byte, format.FrameBytes())
		if speech, err := cls.IsSpeech(quiet, 16000); err != nil || speech {
			t.Errorf("IsSpeech(silence) = %v, %v", speech, err)
		}
	})

	t.Run("webrtc rejects frame size", func(t *testing.T) {
		_, err := reg.CreateVAD(config.ProviderEntry{Name: "webrtc"}, vad.Config{SampleRate: 16000, FrameSizeMs: 40})
		if !errors.Is(err, vad.ErrFrameSize) {
			t.Errorf("err = %v, want ErrFrameSize", err)
		}
	})

	t.Run("wav missing file", func(t *testing.T) {
		_, err := reg.CreateAudio(config.AudioConfig{ProviderEntry: config.ProviderEntry{
			Name:    "wav",
			Options: map[string]any{"path": filepath.Join(t.TempDir(), "none.wav")},
		}})
		if err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("worker needs command", func(t *testing.T) {
		if _, err := reg.CreateLandmarker(config.ProviderEntry{Name: "worker"}); err == nil {
			t.Error("expected error without options.command")
		}
	})

	t.Run("cv needs model", func(t *testing.T) {
		if _, err := reg.CreateEmotion(config.ProviderEntry{Name: "cv"}); err == nil {
			t.Error("expected error without model")
		}
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := reg.CreateGender(config.ProviderEntry{Name: "nope"})
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("err = %v, want ErrProviderNotRegistered", err)
		}
	})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func TestOptHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{
		"s":      "text",
		"i":      7,
		"f":      0.25,
		"whole":  3.0,
		"b":      false,
		"list":   []any{"a", 1, "b"},
		"single": "x",
		"dur":    "90s",
		"badDur": "soon",
	}

	if got := optString(opts, "s"); got != "text" {
		t.Errorf("optString = %q", got)
	}
	if got := optString(opts, "i"); got != "" {
		t.Errorf("optString(non-string) = %q", got)
	}
	if got := optString(nil, "s"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}

	intTests := []struct {
		key  string
		want int
	}{
		{"i", 7},
		{"whole", 3},
		{"f", -1},
		{"missing", -1},
	}
	for _, tt := range intTests {
		if got := optInt(opts, tt.key, -1); got != tt.want {
			t.Errorf("optInt(%q) = %d, want %d", tt.key, got, tt.want)
		}
	}

	if got := optFloat(opts, "i", 0); got != 7 {
		t.Errorf("optFloat(int) = %v", got)
	}
	if got := optFloat(opts, "s", 1.5); got != 1.5 {
		t.Errorf("optFloat(default) = %v", got)
	}

	if got := optBool(opts, "b", true); got {
		t.Error("optBool = true, want false")
	}
	if got := optBool(opts, "missing", true); !got {
		t.Error("optBool default not applied")
	}

	if got := optDuration(opts, "dur", time.Second); got != 90*time.Second {
		t.Errorf("optDuration = %v", got)
	}
	if got := optDuration(opts, "badDur", time.Second); got != time.Second {
		t.Errorf("optDuration(malformed) = %v, want default", got)
	}

	if got := optStrings(opts, "list"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("optStrings(list) = %v", got)
	}
	if got := optStrings(opts, "single"); len(got) != 1 || got[0] != "x" {
		t.Errorf("optStrings(single) = %v", got)
	}
}

func TestPrintStartupSummary(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.VAD.Name = "webrtc"
	var buf bytes.Buffer
	printStartupSummary(&buf, cfg, nil)
	out := buf.String()
	if !strings.Contains(out, "webrtc (down)") {
		t.Errorf("summary should mark the missing VAD down:\n%s", out)
	}
	if !strings.Contains(out, "(not configured)") {
		t.Errorf("summary should list unconfigured backends:\n%s", out)
	}
}

func TestBackendNames(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Audio.Name = "portaudio"
	cfg.Vision.Landmarker.Name = "worker"
	cfg.Vision.EmotionFallbacks = []config.ProviderEntry{{Name: "mock"}}

	got := strings.Join(backendNames(cfg), ",")
	if want := "audio=portaudio,landmarker=worker,emotion_fallback=mock"; got != want {
		t.Errorf("backendNames = %q, want %q", got, want)
	}
	if got := backendNames(&config.Config{}); len(got) != 0 {
		t.Errorf("backendNames(empty) = %v", got)
	}
}
