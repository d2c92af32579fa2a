package detector

import (
	"math"

	"github.com/MrWong99/vigil/pkg/provider/vision"
)

// Face alert texts.
const (
	AlertFaceTransition = "Face transition detected!"
	AlertMultiplePeople = "Multiple people detected!"
	alertMultipleSuffix = " | Multiple people!"
	AlertWaitingForFeed = "Waiting for video feed"
)

// EyeTracker counts horizontal gaze movements from the first face's eye
// corner and derives the per-tick face alert.
type EyeTracker struct {
	frames    int
	prevX     float64
	hasPrev   bool
	movements int

	// lastMeshFaces is the mesh face count of the most recent frame that had
	// any mesh faces.
	lastMeshFaces int
}

// Observe processes one frame's landmarks and returns the face alert for
// this tick. detected is the face detector count; faces are the mesh fits.
func (e *EyeTracker) Observe(detected int, faces []vision.Face, cal Calibration) string {
	var alert string
	if len(faces) > 0 {
		e.frames++
		x := faces[0].EyeCorner.X
		if e.hasPrev && e.frames%cal.EyeSampleInterval == 0 {
			if math.Abs(x-e.prevX) > cal.EyeMovementThreshold {
				e.movements++
			}
		}
		e.prevX, e.hasPrev = x, true

		if e.lastMeshFaces != 0 && len(faces) != e.lastMeshFaces {
			alert = AlertFaceTransition
		}
		e.lastMeshFaces = len(faces)
	}

	if detected > 1 {
		if alert != "" {
			alert += alertMultipleSuffix
		} else {
			alert = AlertMultiplePeople
		}
	}
	return alert
}

// Movements returns the movement count of the current session.
func (e *EyeTracker) Movements() int { return e.movements }

// ResetMovements zeroes the movement count. The sampling phase and previous
// position carry over.
func (e *EyeTracker) ResetMovements() { e.movements = 0 }
