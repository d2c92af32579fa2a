package worker

import (
	"context"
	"image"
	"math"

	"github.com/MrWong99/vigil/pkg/provider/vision"
)

var (
	_ vision.FaceLandmarker      = Landmarker{}
	_ vision.EmotionClassifier   = Emotion{}
	_ vision.GenderClassifier    = Gender{}
	_ vision.FaceCascadeDetector = Cascade{}
)

// Landmarker returns the face mesh capability.
func (c *Client) Landmarker() Landmarker { return Landmarker{c} }

// Emotion returns the emotion capability.
func (c *Client) Emotion() Emotion { return Emotion{c} }

// Gender returns the gender capability.
func (c *Client) Gender() Gender { return Gender{c} }

// Cascade returns the face box capability.
func (c *Client) Cascade() Cascade { return Cascade{c} }

// Landmarker implements [vision.FaceLandmarker].
type Landmarker struct{ c *Client }

// Detect asks the process for the face mesh. Faces whose mesh is too short to
// carry the canonical points are dropped from Faces but still counted.
func (l Landmarker) Detect(ctx context.Context, img image.Image) (vision.FaceLandmarks, error) {
	resp, _, err := l.c.send(ctx, OpLandmarks, img)
	if err != nil {
		return vision.FaceLandmarks{}, err
	}
	out := vision.FaceLandmarks{FaceCount: resp.FaceCount}
	for _, mesh := range resp.Faces {
		if f, ok := faceFromMesh(mesh); ok {
			out.Faces = append(out.Faces, f)
		}
	}
	if out.FaceCount < len(out.Faces) {
		out.FaceCount = len(out.Faces)
	}
	return out, nil
}

func faceFromMesh(mesh [][2]float64) (vision.Face, bool) {
	if len(mesh) <= idxChin {
		return vision.Face{}, false
	}
	pts := make([]vision.Point, len(mesh))
	for i, p := range mesh {
		pts[i] = vision.Point{X: p[0], Y: p[1]}
	}
	return vision.Face{
		Points:    pts,
		EyeCorner: pts[idxEyeCorner],
		UpperLip:  pts[idxUpperLip],
		LowerLip:  pts[idxLowerLip],
		Chin:      pts[idxChin],
		Forehead:  pts[idxForehead],
	}, true
}

// Emotion implements [vision.EmotionClassifier].
type Emotion struct{ c *Client }

// Analyze scores the emotions in crop.
func (e Emotion) Analyze(ctx context.Context, crop image.Image) (vision.EmotionScores, error) {
	resp, _, err := e.c.send(ctx, OpEmotion, crop)
	if err != nil {
		return vision.EmotionScores{}, err
	}
	return vision.EmotionScores{Scores: resp.Emotions, Dominant: resp.Dominant}, nil
}

// Gender implements [vision.GenderClassifier].
type Gender struct{ c *Client }

// Detect returns every gender detection in img.
func (g Gender) Detect(ctx context.Context, img image.Image) ([]vision.GenderDetection, error) {
	resp, _, err := g.c.send(ctx, OpGender, img)
	if err != nil {
		return nil, err
	}
	out := make([]vision.GenderDetection, 0, len(resp.Genders))
	for _, d := range resp.Genders {
		out = append(out, vision.GenderDetection{Label: d.Label, Confidence: d.Confidence})
	}
	return out, nil
}

// Cascade implements [vision.FaceCascadeDetector].
type Cascade struct{ c *Client }

// Detect returns face boxes in img's pixel coordinates.
func (cd Cascade) Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	resp, scale, err := cd.c.send(ctx, OpFaces, img)
	if err != nil {
		return nil, err
	}
	origin := img.Bounds().Min
	out := make([]image.Rectangle, 0, len(resp.Boxes))
	for _, b := range resp.Boxes {
		x, y := scaled(b[0], scale), scaled(b[1], scale)
		w, h := scaled(b[2], scale), scaled(b[3], scale)
		out = append(out, image.Rect(x, y, x+w, y+h).Add(origin))
	}
	return out, nil
}

func scaled(v int, scale float64) int {
	return int(math.Round(float64(v) * scale))
}
