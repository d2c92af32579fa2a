package detector

import (
	"math"

	"github.com/MrWong99/vigil/pkg/provider/vision"
)

// LipSync is the outcome of the lip-sync heuristic for one frame.
type LipSync struct {
	// Synced is true when speech coincides with a visibly open mouth.
	Synced bool

	// BgVoice is true when speech is heard but the subject's mouth is closed
	// or no face is visible.
	BgVoice bool

	// MouthRatio is the lip gap relative to face height; 0 without a face.
	MouthRatio float64
}

// MouthRatio returns max(0, lip gap / max(1, face height)) in pixel units for
// an image imgHeight pixels tall.
func MouthRatio(face vision.Face, imgHeight int) float64 {
	h := float64(imgHeight)
	gap := (face.LowerLip.Y - face.UpperLip.Y) * h
	faceH := math.Abs(face.Chin.Y*h - face.Forehead.Y*h)
	return math.Max(0, gap/math.Max(1, faceH))
}

// DecideLipSync applies the decision table. face is nil when no face was found.
func DecideLipSync(face *vision.Face, imgHeight int, speech bool, cal Calibration) LipSync {
	if face == nil {
		return LipSync{BgVoice: speech}
	}
	ratio := MouthRatio(*face, imgHeight)
	if !speech {
		return LipSync{MouthRatio: ratio}
	}
	return LipSync{
		Synced:     ratio > cal.LipSyncThreshold,
		BgVoice:    ratio < cal.BgVoiceThreshold,
		MouthRatio: ratio,
	}
}
