package cv

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/MrWong99/vigil/pkg/provider/vision"
)

var _ vision.GenderClassifier = (*Gender)(nil)

// genderInput and genderMean describe the input expected by the Levi-Hassner
// gender_net Caffe model.
var (
	genderInput = image.Pt(227, 227)
	genderMean  = gocv.NewScalar(78.4263377603, 87.7689143744, 114.895847746, 0)
)

// GenderOption configures a [Gender].
type GenderOption func(*Gender)

// WithGenderLabels overrides the output labels, in network output order.
// Default "Male", "Female".
func WithGenderLabels(labels ...string) GenderOption {
	return func(g *Gender) {
		if len(labels) > 0 {
			g.labels = labels
		}
	}
}

// WithFaceDetector classifies each face found by faces instead of the whole
// image.
func WithFaceDetector(faces vision.FaceCascadeDetector) GenderOption {
	return func(g *Gender) { g.faces = faces }
}

// Gender classifies faces with a Caffe model.
type Gender struct {
	labels []string
	faces  vision.FaceCascadeDetector

	mu  sync.Mutex
	net gocv.Net
}

// NewGender loads the Caffe network from its prototxt and weights.
func NewGender(prototxt, weights string, opts ...GenderOption) (*Gender, error) {
	if prototxt == "" || weights == "" {
		return nil, errors.New("cv: gender prototxt and weights must not be empty")
	}
	net := gocv.ReadNetFromCaffe(prototxt, weights)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("cv: load gender model %q", weights)
	}
	g := &Gender{labels: []string{"Male", "Female"}, net: net}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Detect returns one detection per face. Without a face detector the whole
// image is treated as one face.
func (g *Gender) Detect(ctx context.Context, img image.Image) ([]vision.GenderDetection, error) {
	regions := []image.Rectangle{img.Bounds()}
	if g.faces != nil {
		boxes, err := g.faces.Detect(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("cv: gender face detection: %w", err)
		}
		regions = boxes
	}

	out := make([]vision.GenderDetection, 0, len(regions))
	for _, r := range regions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		crop, ok := vision.Crop(img, r)
		if !ok {
			continue
		}
		det, ok, err := g.classify(crop)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, det)
		}
	}
	return out, nil
}

func (g *Gender) classify(crop image.Image) (vision.GenderDetection, bool, error) {
	bgr, err := bgrMat(crop)
	if err != nil {
		return vision.GenderDetection{}, false, err
	}
	defer bgr.Close()

	blob := gocv.BlobFromImage(bgr, 1.0, genderInput, genderMean, false, false)
	defer blob.Close()

	g.mu.Lock()
	probs, err := forward(&g.net, blob)
	g.mu.Unlock()
	if err != nil {
		return vision.GenderDetection{}, false, err
	}
	label, conf, ok := topLabel(probs, g.labels)
	return vision.GenderDetection{Label: label, Confidence: conf}, ok, nil
}

// Close releases the network. It does not close the face detector.
func (g *Gender) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.net.Close()
}
