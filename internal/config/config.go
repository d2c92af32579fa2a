// Package config provides the configuration schema, loader, and provider registry
// for the vigil detection service.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/vigil/internal/detector"
)

// LogLevel controls log verbosity for the vigil server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to the slog level. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DefaultAllowedOrigins are the browser origins accepted when
// server.allowed_origins is left empty.
var DefaultAllowedOrigins = []string{
	"http://localhost:5173",
	"http://127.0.0.1:5173",
	"http://localhost:3000",
}

// Config is the root configuration structure for vigil.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Audio       AudioConfig       `yaml:"audio"`
	VAD         ProviderEntry     `yaml:"vad"`
	Vision      VisionConfig      `yaml:"vision"`
	Calibration CalibrationConfig `yaml:"calibration"`
}

// Default returns a config with every default applied and no providers
// selected.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8000",
			LogLevel:   LogInfo,
		},
		Calibration: DefaultCalibrationConfig(),
	}
}

// ServerConfig holds network and logging settings for the vigil server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists the browser origins permitted by CORS and by the
	// websocket origin check. Empty means [DefaultAllowedOrigins].
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ReadLimit caps the size in bytes of one websocket message. Zero means
	// 8 MiB, enough for a full-resolution JPEG frame in base64.
	ReadLimit int64 `yaml:"read_limit"`

	// ShutdownTimeout bounds graceful shutdown. Zero means 10 seconds.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Origins returns the configured origins or the defaults.
func (s ServerConfig) Origins() []string {
	if len(s.AllowedOrigins) == 0 {
		return DefaultAllowedOrigins
	}
	return s.AllowedOrigins
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "webrtc", "cv").
	Name string `yaml:"name"`

	// Model is a path to the model file the backend loads, if any.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// AudioConfig selects the microphone source and its capture format.
type AudioConfig struct {
	ProviderEntry `yaml:",inline"`

	// SampleRate is the capture rate in Hz. Zero means 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameMs is the chunk length in milliseconds. Zero means 20.
	FrameMs int `yaml:"frame_ms"`
}

// VisionConfig selects a backend for each vision capability. An entry with
// an empty name leaves that capability unconfigured.
type VisionConfig struct {
	Landmarker ProviderEntry `yaml:"landmarker"`
	Emotion    ProviderEntry `yaml:"emotion"`

	// EmotionFallbacks are tried in order when the primary emotion backend
	// fails or its breaker is open.
	EmotionFallbacks []ProviderEntry `yaml:"emotion_fallbacks"`

	Gender  ProviderEntry `yaml:"gender"`
	Cascade ProviderEntry `yaml:"cascade"`

	// Breaker tunes the circuit breakers wrapped around every backend.
	Breaker BreakerConfig `yaml:"breaker"`

	// Timeout bounds each analyzer call. Zero means 2 seconds.
	Timeout time.Duration `yaml:"timeout"`
}

// BreakerConfig mirrors resilience.CircuitBreakerConfig. Zero values fall
// back to the breaker defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// CalibrationConfig is the YAML form of [detector.Calibration]. Unset keys
// keep the values [LoadFromReader] seeds from [DefaultCalibrationConfig].
// The field list must stay identical to detector.Calibration.
type CalibrationConfig struct {
	MoodInterval          int     `yaml:"mood_interval"`
	MoodWindow            int     `yaml:"mood_window"`
	NeutralSuppression    float64 `yaml:"neutral_suppression"`
	SpeechThreshold       float64 `yaml:"speech_threshold"`
	SpeechWindow          int     `yaml:"speech_window"`
	LipSyncThreshold      float64 `yaml:"lipsync_threshold"`
	BgVoiceThreshold      float64 `yaml:"bg_voice_threshold"`
	VerificationThreshold float64 `yaml:"verification_threshold"`
	EyeSampleInterval     int     `yaml:"eye_sample_interval"`
	EyeMovementThreshold  float64 `yaml:"eye_movement_threshold"`
	GenderMinConfidence   float64 `yaml:"gender_min_confidence"`
	MoodCropPadding       int     `yaml:"mood_crop_padding"`
	MoodMinCrop           int     `yaml:"mood_min_crop"`
	IdentitySize          int     `yaml:"identity_size"`
}

// DefaultCalibrationConfig returns the stock tuning in YAML form.
func DefaultCalibrationConfig() CalibrationConfig {
	return FromCalibration(detector.DefaultCalibration())
}

// FromCalibration converts a detector calibration to its YAML form.
func FromCalibration(c detector.Calibration) CalibrationConfig {
	return CalibrationConfig(c)
}

// Resolve returns the detector calibration described by c.
func (c CalibrationConfig) Resolve() detector.Calibration {
	return detector.Calibration(c)
}
