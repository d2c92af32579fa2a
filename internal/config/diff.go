package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; everything else is
// listed in RestartRequired so the caller can warn about it.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	CalibrationChanged bool
	NewCalibration     CalibrationConfig

	OriginsChanged bool
	NewOrigins     []string

	// RestartRequired names the changed sections that only take effect
	// after a restart (e.g. "server.listen_addr", "vision").
	RestartRequired []string
}

// Changed reports whether any hot-reloadable field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.CalibrationChanged || d.OriginsChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Calibration != new.Calibration {
		d.CalibrationChanged = true
		d.NewCalibration = new.Calibration
	}
	// The speech window sizes a ring buffer allocated at startup.
	if old.Calibration.SpeechWindow != new.Calibration.SpeechWindow {
		d.RestartRequired = append(d.RestartRequired, "calibration.speech_window")
	}

	if !slices.Equal(old.Server.Origins(), new.Server.Origins()) {
		d.OriginsChanged = true
		d.NewOrigins = slices.Clone(new.Server.Origins())
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.ReadLimit != new.Server.ReadLimit {
		d.RestartRequired = append(d.RestartRequired, "server.read_limit")
	}
	if !reflect.DeepEqual(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !reflect.DeepEqual(old.VAD, new.VAD) {
		d.RestartRequired = append(d.RestartRequired, "vad")
	}
	if !reflect.DeepEqual(old.Vision, new.Vision) {
		d.RestartRequired = append(d.RestartRequired, "vision")
	}

	return d
}
