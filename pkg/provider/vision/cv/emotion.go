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

var _ vision.EmotionClassifier = (*Emotion)(nil)

// ferPlusInput is the side length of the FER+ network's grayscale input.
const ferPlusInput = 64

// Emotion scores face crops with the FER+ ONNX model
// (emotion-ferplus-8.onnx).
type Emotion struct {
	mu  sync.Mutex
	net gocv.Net
}

// NewEmotion loads the ONNX model at path.
func NewEmotion(path string) (*Emotion, error) {
	if path == "" {
		return nil, errors.New("cv: emotion model path must not be empty")
	}
	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("cv: load emotion model %q", path)
	}
	return &Emotion{net: net}, nil
}

// Analyze returns percentage scores for each emotion label in crop.
func (e *Emotion) Analyze(ctx context.Context, crop image.Image) (vision.EmotionScores, error) {
	if err := ctx.Err(); err != nil {
		return vision.EmotionScores{}, err
	}
	gray, err := grayMat(crop)
	if err != nil {
		return vision.EmotionScores{}, err
	}
	defer gray.Close()

	// FER+ takes raw 0-255 intensities.
	blob := gocv.BlobFromImage(gray, 1.0, image.Pt(ferPlusInput, ferPlusInput), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	e.mu.Lock()
	logits, err := forward(&e.net, blob)
	e.mu.Unlock()
	if err != nil {
		return vision.EmotionScores{}, err
	}
	scores, dominant := emotionPercentages(logits)
	return vision.EmotionScores{Scores: scores, Dominant: dominant}, nil
}

// Close releases the network.
func (e *Emotion) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.net.Close()
}
