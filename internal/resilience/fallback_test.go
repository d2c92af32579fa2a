package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/vigil/pkg/provider/vision"
	visionmock "github.com/MrWong99/vigil/pkg/provider/vision/mock"
)

var (
	happy   = vision.EmotionScores{Scores: map[string]float64{"happy": 70, "neutral": 30}, Dominant: "happy"}
	neutral = vision.EmotionScores{Scores: map[string]float64{"neutral": 90, "sad": 10}, Dominant: "neutral"}
)

// emotionChain builds an EmotionFallback over mocks named worker, cv and
// onnx, in that order.
func emotionChain(cfg CircuitBreakerConfig, mocks ...*visionmock.EmotionClassifier) *EmotionFallback {
	fb := NewEmotionFallback(cfg)
	for i, m := range mocks {
		fb.Add([]string{"emotion/worker", "emotion/cv", "emotion/onnx"}[i], m)
	}
	return fb
}

// ── Fallthrough ─────────────────────────────────────────────────────────────

func TestEmotionFallback_Fallthrough(t *testing.T) {
	modelMissing := errors.New("model not loaded")

	tests := []struct {
		name      string
		primary   *visionmock.EmotionClassifier
		secondary *visionmock.EmotionClassifier
		want      string
		wantCalls [2]int
	}{
		{
			name:      "primary answers",
			primary:   &visionmock.EmotionClassifier{Result: neutral},
			secondary: &visionmock.EmotionClassifier{Result: happy},
			want:      "neutral",
			wantCalls: [2]int{1, 0},
		},
		{
			name:      "primary fails",
			primary:   &visionmock.EmotionClassifier{Err: modelMissing},
			secondary: &visionmock.EmotionClassifier{Result: happy},
			want:      "happy",
			wantCalls: [2]int{1, 1},
		},
		{
			name:      "primary warming up",
			primary:   &visionmock.EmotionClassifier{Err: fmt.Errorf("worker: warming up: %w", vision.ErrNotReady)},
			secondary: &visionmock.EmotionClassifier{Result: happy},
			want:      "happy",
			wantCalls: [2]int{1, 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fb := emotionChain(CircuitBreakerConfig{MaxFailures: 3}, tt.primary, tt.secondary)

			got, err := fb.Analyze(context.Background(), testFrame)
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if got.Dominant != tt.want || got.Scores[tt.want] == 0 {
				t.Errorf("scores = %+v, want dominant %s", got, tt.want)
			}
			if c := [2]int{tt.primary.CallCount(), tt.secondary.CallCount()}; c != tt.wantCalls {
				t.Errorf("calls = %v, want %v", c, tt.wantCalls)
			}
		})
	}
}

func TestEmotionFallback_OpenPrimaryIsSkipped(t *testing.T) {
	t.Parallel()
	primary := &visionmock.EmotionClassifier{Err: errors.New("worker exited")}
	secondary := &visionmock.EmotionClassifier{Result: happy}
	fb := emotionChain(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}, primary, secondary)

	for range 4 {
		if got, err := fb.Analyze(context.Background(), testFrame); err != nil || got.Dominant != "happy" {
			t.Fatalf("Analyze = %+v, %v", got, err)
		}
	}
	if primary.CallCount() != 1 {
		t.Errorf("primary called %d times behind an open breaker, want 1", primary.CallCount())
	}
	if st := fb.Breakers()[0].Status(); st.State != StateOpen || st.Name != "emotion/worker" {
		t.Errorf("primary breaker = %+v", st)
	}

	primary.Set(neutral, nil)
	fb.Breakers()[0].Reset()
	if got, _ := fb.Analyze(context.Background(), testFrame); got.Dominant != "neutral" {
		t.Errorf("after reset dominant = %q, want the primary's neutral", got.Dominant)
	}
}

func TestEmotionFallback_WarmUpKeepsBreakerClosed(t *testing.T) {
	t.Parallel()
	primary := &visionmock.EmotionClassifier{Err: fmt.Errorf("worker: warming up: %w", vision.ErrNotReady)}
	secondary := &visionmock.EmotionClassifier{Result: happy}
	fb := emotionChain(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}, primary, secondary)

	for range 5 {
		_, _ = fb.Analyze(context.Background(), testFrame)
	}
	if st := fb.Breakers()[0].State(); st != StateClosed {
		t.Fatalf("primary breaker = %v while warming up, want closed", st)
	}

	// Once loaded the primary serves the very next tick.
	primary.Set(neutral, nil)
	if got, _ := fb.Analyze(context.Background(), testFrame); got.Dominant != "neutral" {
		t.Errorf("dominant = %q, want neutral from the warmed primary", got.Dominant)
	}
}

func TestEmotionFallback_AllFail(t *testing.T) {
	t.Parallel()
	errWorker := errors.New("worker exited")
	errCV := errors.New("no face crop")
	fb := emotionChain(CircuitBreakerConfig{},
		&visionmock.EmotionClassifier{Err: errWorker},
		&visionmock.EmotionClassifier{Err: errCV},
	)

	got, err := fb.Analyze(context.Background(), testFrame)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errWorker) || !errors.Is(err, errCV) {
		t.Errorf("err = %v, want both backend errors", err)
	}
	if got.Scores != nil || got.Dominant != "" {
		t.Errorf("scores = %+v, want zero value", got)
	}
}

func TestEmotionFallback_ExpiredTickStopsFallthrough(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	primary := &visionmock.EmotionClassifier{Err: context.DeadlineExceeded}
	secondary := &visionmock.EmotionClassifier{Result: happy}
	fb := emotionChain(CircuitBreakerConfig{}, primary, secondary)

	<-ctx.Done()
	_, err := fb.Analyze(ctx, testFrame)
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping the deadline", err)
	}
	if primary.CallCount()+secondary.CallCount() != 0 {
		t.Errorf("backends called after the tick deadline: %d, %d", primary.CallCount(), secondary.CallCount())
	}
}

func TestEmotionFallback_RecordsServingBackend(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	fb := emotionChain(CircuitBreakerConfig{},
		&visionmock.EmotionClassifier{Err: errors.New("model not loaded")},
		&visionmock.EmotionClassifier{Result: happy},
	)
	ctx, span := tp.Tracer("test").Start(context.Background(), "analyzer.emotion")
	_, _ = fb.Analyze(ctx, testFrame)
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	var backend string
	for _, kv := range spans[0].Attributes {
		if kv.Key == EmotionBackendKey {
			backend = kv.Value.AsString()
		}
	}
	if backend != "emotion/cv" {
		t.Errorf("emotion.backend = %q, want emotion/cv", backend)
	}
}

// ── Group ───────────────────────────────────────────────────────────────────

func TestRun_ReportsBackendName(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup[vision.EmotionClassifier](CircuitBreakerConfig{})
	fg.Add("emotion/worker", &visionmock.EmotionClassifier{Err: errTest})
	fg.Add("emotion/cv", &visionmock.EmotionClassifier{Result: neutral})

	got, name, err := Run(context.Background(), fg, func(ctx context.Context, c vision.EmotionClassifier) (string, error) {
		s, err := c.Analyze(ctx, testFrame)
		return s.Dominant, err
	})
	if err != nil || got != "neutral" || name != "emotion/cv" {
		t.Errorf("Run = %q from %q, %v", got, name, err)
	}
	if fg.Len() != 2 || len(fg.Breakers()) != 2 {
		t.Errorf("Len = %d, Breakers = %d", fg.Len(), len(fg.Breakers()))
	}
}

func TestRun_EmptyGroup(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup[vision.EmotionClassifier](CircuitBreakerConfig{})
	_, name, err := Run(context.Background(), fg, func(context.Context, vision.EmotionClassifier) (int, error) {
		t.Error("fn called on an empty group")
		return 0, nil
	})
	if !errors.Is(err, ErrAllFailed) || name != "" {
		t.Errorf("Run = %q, %v", name, err)
	}
}
