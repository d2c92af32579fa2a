// Package vision defines the analyzer capabilities the detection core consumes
// from computer-vision backends.
//
// Four narrow interfaces cover everything the core needs:
//
//   - [FaceLandmarker]: face count plus a dense landmark mesh per face.
//   - [EmotionClassifier]: per-label emotion percentages for a face crop.
//   - [GenderClassifier]: labelled detections with confidences.
//   - [FaceCascadeDetector]: face bounding boxes used only for identity checks.
//
// Backends live in sub-packages (vision/cv for OpenCV, vision/worker for an
// external model process, vision/mock for tests). The core never depends on
// their internals, only on the structured outputs declared here.
//
// Implementations must be safe for concurrent use; the detection tick calls
// independent capabilities in parallel.
package vision

import (
	"context"
	"errors"
	"image"
)

// ErrNotReady is wrapped by backend errors that report a temporary lack of
// capacity, such as models still loading, rather than a failed analysis.
var ErrNotReady = errors.New("vision: backend not ready")

// Point is a landmark position normalised to the image size: X and Y are in
// [0, 1] relative to width and height respectively.
type Point struct {
	X float64
	Y float64
}

// Face is the landmark set for one detected face. Points holds the full mesh
// in the backend's native order; the named fields are the canonical points the
// core reads directly, resolved by the backend from its own index scheme.
type Face struct {
	Points []Point

	// EyeCorner is the outer corner of the subject's right eye.
	EyeCorner Point

	// UpperLip and LowerLip are the inner lip midpoints.
	UpperLip Point
	LowerLip Point

	// Chin and Forehead bound the face vertically.
	Chin     Point
	Forehead Point
}

// Bounds returns the smallest normalised rectangle containing every mesh
// point. ok is false when the face carries no points.
func (f Face) Bounds() (min, max Point, ok bool) {
	if len(f.Points) == 0 {
		return Point{}, Point{}, false
	}
	min, max = f.Points[0], f.Points[0]
	for _, p := range f.Points[1:] {
		if p.X < min.X {
			min.X = p.X
		}
		if p.Y < min.Y {
			min.Y = p.Y
		}
		if p.X > max.X {
			max.X = p.X
		}
		if p.Y > max.Y {
			max.Y = p.Y
		}
	}
	return min, max, true
}

// FaceLandmarks is the result of a [FaceLandmarker] call.
//
// FaceCount comes from the backend's face detector and may differ from
// len(Faces), which counts faces the mesh model could fit.
type FaceLandmarks struct {
	FaceCount int
	Faces     []Face
}

// EmotionScores maps emotion labels (e.g. "happy", "neutral") to percentage
// scores in [0, 100]. Dominant is the backend's own top label, used when the
// caller filters every score away.
type EmotionScores struct {
	Scores   map[string]float64
	Dominant string
}

// GenderDetection is one labelled detection from a [GenderClassifier].
type GenderDetection struct {
	Label      string
	Confidence float64
}

// FaceLandmarker detects faces and fits a landmark mesh to each.
type FaceLandmarker interface {
	Detect(ctx context.Context, img image.Image) (FaceLandmarks, error)
}

// EmotionClassifier scores the emotions visible in a face crop.
type EmotionClassifier interface {
	Analyze(ctx context.Context, crop image.Image) (EmotionScores, error)
}

// GenderClassifier returns every gender detection found in img. An empty
// slice means nothing was detected.
type GenderClassifier interface {
	Detect(ctx context.Context, img image.Image) ([]GenderDetection, error)
}

// FaceCascadeDetector returns face bounding boxes in img's pixel coordinates,
// ordered as the underlying detector reports them.
type FaceCascadeDetector interface {
	Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error)
}
