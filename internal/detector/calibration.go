package detector

import (
	"errors"
	"fmt"
)

// Calibration holds the heuristic constants the detector applies. All of
// them can be changed at runtime through [Detector.SetCalibration].
type Calibration struct {
	// MoodInterval is the number of processed frames between emotion analyses.
	MoodInterval int

	// MoodWindow is the number of emotion labels the majority vote runs over.
	MoodWindow int

	// NeutralSuppression drops the "neutral" score when it is at or above
	// this percentage, so a weaker non-neutral emotion can win.
	NeutralSuppression float64

	// SpeechThreshold is the speech ratio above which speech is reported.
	SpeechThreshold float64

	// SpeechWindow is the number of audio chunk decisions in the speech ratio.
	// Read only at startup.
	SpeechWindow int

	// LipSyncThreshold is the mouth ratio above which speech counts as lip-synced.
	LipSyncThreshold float64

	// BgVoiceThreshold is the mouth ratio below which speech is attributed to
	// someone off camera.
	BgVoiceThreshold float64

	// VerificationThreshold is the histogram correlation above which the
	// current face matches the reference.
	VerificationThreshold float64

	// EyeSampleInterval is the number of frames with a face between eye
	// displacement checks.
	EyeSampleInterval int

	// EyeMovementThreshold is the normalised horizontal displacement that
	// counts as one eye movement.
	EyeMovementThreshold float64

	// GenderMinConfidence is the minimum confidence for a gender label to be
	// accepted.
	GenderMinConfidence float64

	// MoodCropPadding is the pixel padding around the landmark box of the
	// emotion crop.
	MoodCropPadding int

	// MoodMinCrop is the minimum width and height in pixels of the emotion crop.
	MoodMinCrop int

	// IdentitySize is the side length in pixels both identity crops are
	// resized to before comparison.
	IdentitySize int
}

// DefaultCalibration returns the stock tuning.
func DefaultCalibration() Calibration {
	return Calibration{
		MoodInterval:          15,
		MoodWindow:            9,
		NeutralSuppression:    95.0,
		SpeechThreshold:       0.3,
		SpeechWindow:          10,
		LipSyncThreshold:      0.035,
		BgVoiceThreshold:      0.02,
		VerificationThreshold: 0.7,
		EyeSampleInterval:     10,
		EyeMovementThreshold:  0.015,
		GenderMinConfidence:   0.4,
		MoodCropPadding:       40,
		MoodMinCrop:           30,
		IdentitySize:          100,
	}
}

// Validate reports every out-of-range value.
func (c Calibration) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("calibration.%s must be > 0, got %d", name, v))
		}
	}
	unit := func(name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("calibration.%s must be within [0, 1], got %g", name, v))
		}
	}

	positive("mood_interval", c.MoodInterval)
	positive("mood_window", c.MoodWindow)
	positive("speech_window", c.SpeechWindow)
	positive("eye_sample_interval", c.EyeSampleInterval)
	positive("mood_min_crop", c.MoodMinCrop)
	positive("identity_size", c.IdentitySize)
	if c.MoodCropPadding < 0 {
		errs = append(errs, fmt.Errorf("calibration.mood_crop_padding must be >= 0, got %d", c.MoodCropPadding))
	}
	if c.NeutralSuppression < 0 || c.NeutralSuppression > 100 {
		errs = append(errs, fmt.Errorf("calibration.neutral_suppression must be within [0, 100], got %g", c.NeutralSuppression))
	}
	unit("speech_threshold", c.SpeechThreshold)
	unit("lipsync_threshold", c.LipSyncThreshold)
	unit("bg_voice_threshold", c.BgVoiceThreshold)
	unit("eye_movement_threshold", c.EyeMovementThreshold)
	unit("gender_min_confidence", c.GenderMinConfidence)
	if c.VerificationThreshold < -1 || c.VerificationThreshold > 1 {
		errs = append(errs, fmt.Errorf("calibration.verification_threshold must be within [-1, 1], got %g", c.VerificationThreshold))
	}
	if c.BgVoiceThreshold > c.LipSyncThreshold {
		errs = append(errs, fmt.Errorf("calibration.bg_voice_threshold (%g) must not exceed lipsync_threshold (%g)", c.BgVoiceThreshold, c.LipSyncThreshold))
	}
	return errors.Join(errs...)
}
