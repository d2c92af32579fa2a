package detector

import "github.com/MrWong99/vigil/pkg/provider/vision"

// UnknownGender is reported until a confident detection arrives, and always
// when no gender classifier is configured.
const UnknownGender = "Unknown"

// PickGender returns the label of the most confident detection if it reaches
// minConfidence.
func PickGender(dets []vision.GenderDetection, minConfidence float64) (string, bool) {
	if len(dets) == 0 {
		return "", false
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	if best.Confidence < minConfidence {
		return "", false
	}
	return best.Label, true
}
