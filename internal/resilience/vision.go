package resilience

import (
	"context"
	"errors"
	"image"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/vigil/pkg/provider/vision"
)

// EmotionBackendKey names the emotion backend that answered on the analyzer
// span.
const EmotionBackendKey = attribute.Key("emotion.backend")

// analyzerFailure counts an error against a vision backend unless the backend
// only reported that it is not ready yet.
func analyzerFailure(err error) bool {
	return CountsAgainstBackend(err) && !errors.Is(err, vision.ErrNotReady)
}

// visionBreaker applies the vision failure classification unless cfg sets its
// own.
func visionBreaker(cfg CircuitBreakerConfig) CircuitBreakerConfig {
	if cfg.IsFailure == nil {
		cfg.IsFailure = analyzerFailure
	}
	return cfg
}

// LandmarkerBreaker implements [vision.FaceLandmarker] behind a circuit breaker.
type LandmarkerBreaker struct {
	inner   vision.FaceLandmarker
	breaker *CircuitBreaker
}

var _ vision.FaceLandmarker = (*LandmarkerBreaker)(nil)

// NewLandmarkerBreaker wraps inner with a breaker configured by cfg.
func NewLandmarkerBreaker(inner vision.FaceLandmarker, cfg CircuitBreakerConfig) *LandmarkerBreaker {
	return &LandmarkerBreaker{inner: inner, breaker: NewCircuitBreaker(visionBreaker(cfg))}
}

// Detect forwards to the wrapped landmarker unless the breaker is open.
func (l *LandmarkerBreaker) Detect(ctx context.Context, img image.Image) (vision.FaceLandmarks, error) {
	var out vision.FaceLandmarks
	err := l.breaker.Execute(func() error {
		var err error
		out, err = l.inner.Detect(ctx, img)
		return err
	})
	return out, err
}

// Breaker returns the breaker guarding the landmarker.
func (l *LandmarkerBreaker) Breaker() *CircuitBreaker { return l.breaker }

// EmotionFallback implements [vision.EmotionClassifier] with failover across
// several backends, each behind its own breaker.
type EmotionFallback struct {
	group *FallbackGroup[vision.EmotionClassifier]
}

var _ vision.EmotionClassifier = (*EmotionFallback)(nil)

// NewEmotionFallback creates an empty [EmotionFallback]. Every backend added
// gets a breaker configured by cfg.
func NewEmotionFallback(cfg CircuitBreakerConfig) *EmotionFallback {
	return &EmotionFallback{group: NewFallbackGroup[vision.EmotionClassifier](visionBreaker(cfg))}
}

// Add registers an emotion backend, tried after those already added.
func (e *EmotionFallback) Add(name string, c vision.EmotionClassifier) {
	e.group.Add(name, c)
}

// Analyze returns the scores of the first backend that succeeds and records
// its name on the current span.
func (e *EmotionFallback) Analyze(ctx context.Context, crop image.Image) (vision.EmotionScores, error) {
	scores, backend, err := Run(ctx, e.group, func(ctx context.Context, c vision.EmotionClassifier) (vision.EmotionScores, error) {
		return c.Analyze(ctx, crop)
	})
	if err == nil {
		trace.SpanFromContext(ctx).SetAttributes(EmotionBackendKey.String(backend))
	}
	return scores, err
}

// Breakers returns the breaker of every backend in preference order.
func (e *EmotionFallback) Breakers() []*CircuitBreaker { return e.group.Breakers() }

// GenderBreaker implements [vision.GenderClassifier] behind a circuit breaker.
type GenderBreaker struct {
	inner   vision.GenderClassifier
	breaker *CircuitBreaker
}

var _ vision.GenderClassifier = (*GenderBreaker)(nil)

// NewGenderBreaker wraps inner with a breaker configured by cfg.
func NewGenderBreaker(inner vision.GenderClassifier, cfg CircuitBreakerConfig) *GenderBreaker {
	return &GenderBreaker{inner: inner, breaker: NewCircuitBreaker(visionBreaker(cfg))}
}

// Detect forwards to the wrapped classifier unless the breaker is open.
func (g *GenderBreaker) Detect(ctx context.Context, img image.Image) ([]vision.GenderDetection, error) {
	var out []vision.GenderDetection
	err := g.breaker.Execute(func() error {
		var err error
		out, err = g.inner.Detect(ctx, img)
		return err
	})
	return out, err
}

// Breaker returns the breaker guarding the classifier.
func (g *GenderBreaker) Breaker() *CircuitBreaker { return g.breaker }

// CascadeBreaker implements [vision.FaceCascadeDetector] behind a circuit
// breaker.
type CascadeBreaker struct {
	inner   vision.FaceCascadeDetector
	breaker *CircuitBreaker
}

var _ vision.FaceCascadeDetector = (*CascadeBreaker)(nil)

// NewCascadeBreaker wraps inner with a breaker configured by cfg.
func NewCascadeBreaker(inner vision.FaceCascadeDetector, cfg CircuitBreakerConfig) *CascadeBreaker {
	return &CascadeBreaker{inner: inner, breaker: NewCircuitBreaker(visionBreaker(cfg))}
}

// Detect forwards to the wrapped detector unless the breaker is open.
func (c *CascadeBreaker) Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	var out []image.Rectangle
	err := c.breaker.Execute(func() error {
		var err error
		out, err = c.inner.Detect(ctx, img)
		return err
	})
	return out, err
}

// Breaker returns the breaker guarding the detector.
func (c *CascadeBreaker) Breaker() *CircuitBreaker { return c.breaker }
