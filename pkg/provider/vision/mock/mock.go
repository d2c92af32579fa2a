// Package mock provides test doubles for the vision package interfaces.
//
// Each mock returns its exported Result/Err fields from every call and records
// the images it was given, so tests can both script analyzer behaviour and
// assert on what the detection core asked for.
//
// Example:
//
//	lm := &mock.Landmarker{Result: vision.FaceLandmarks{FaceCount: 1, Faces: []vision.Face{face}}}
//	emo := &mock.EmotionClassifier{Result: vision.EmotionScores{Scores: map[string]float64{"happy": 80}}}
package mock

import (
	"context"
	"image"
	"sync"

	"github.com/MrWong99/vigil/pkg/provider/vision"
)

// Landmarker is a mock implementation of vision.FaceLandmarker.
type Landmarker struct {
	mu sync.Mutex

	// Result is returned by every Detect call.
	Result vision.FaceLandmarks

	// Err, if non-nil, is returned by every Detect call.
	Err error

	// Calls records the image passed to each Detect call in order.
	Calls []image.Image
}

// Detect records the call and returns Result, Err.
func (l *Landmarker) Detect(_ context.Context, img image.Image) (vision.FaceLandmarks, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Calls = append(l.Calls, img)
	return l.Result, l.Err
}

// Set replaces the scripted result. Thread-safe.
func (l *Landmarker) Set(res vision.FaceLandmarks, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Result, l.Err = res, err
}

// CallCount returns the number of Detect calls. Thread-safe.
func (l *Landmarker) CallCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Calls)
}

var _ vision.FaceLandmarker = (*Landmarker)(nil)

// EmotionClassifier is a mock implementation of vision.EmotionClassifier.
type EmotionClassifier struct {
	mu sync.Mutex

	Result vision.EmotionScores
	Err    error

	// Calls records every crop passed to Analyze in order.
	Calls []image.Image
}

// Analyze records the call and returns Result, Err.
func (e *EmotionClassifier) Analyze(_ context.Context, crop image.Image) (vision.EmotionScores, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = append(e.Calls, crop)
	return e.Result, e.Err
}

// Set replaces the scripted result. Thread-safe.
func (e *EmotionClassifier) Set(res vision.EmotionScores, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Result, e.Err = res, err
}

// CallCount returns the number of Analyze calls. Thread-safe.
func (e *EmotionClassifier) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}

var _ vision.EmotionClassifier = (*EmotionClassifier)(nil)

// GenderClassifier is a mock implementation of vision.GenderClassifier.
type GenderClassifier struct {
	mu sync.Mutex

	Result []vision.GenderDetection
	Err    error

	CallCount int
}

// Detect records the call and returns Result, Err.
func (g *GenderClassifier) Detect(_ context.Context, _ image.Image) ([]vision.GenderDetection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CallCount++
	return g.Result, g.Err
}

// Set replaces the scripted result. Thread-safe.
func (g *GenderClassifier) Set(res []vision.GenderDetection, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Result, g.Err = res, err
}

var _ vision.GenderClassifier = (*GenderClassifier)(nil)

// CascadeDetector is a mock implementation of vision.FaceCascadeDetector.
type CascadeDetector struct {
	mu sync.Mutex

	Result []image.Rectangle
	Err    error

	Calls []image.Image
}

// Detect records the call and returns Result, Err.
func (c *CascadeDetector) Detect(_ context.Context, img image.Image) ([]image.Rectangle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, img)
	return c.Result, c.Err
}

// Set replaces the scripted result. Thread-safe.
func (c *CascadeDetector) Set(res []image.Rectangle, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Result, c.Err = res, err
}

var _ vision.FaceCascadeDetector = (*CascadeDetector)(nil)
