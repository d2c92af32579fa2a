package detector_test

import (
	"encoding/json"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/MrWong99/vigil/internal/detector"
)

func TestCorrelation(t *testing.T) {
	t.Parallel()
	a := detector.Histogram(gradient(64, 64, 0), 100)
	if got := detector.Correlation(a, a); math.Abs(got-1) > 1e-9 {
		t.Errorf("self correlation = %v, want 1", got)
	}

	var flat [256]float64
	for i := range flat {
		flat[i] = 0.5
	}
	if got := detector.Correlation(flat, flat); got != 1 {
		t.Errorf("flat correlation = %v, want 1", got)
	}

	b := detector.Histogram(solidGray(64, 64, 128), 100)
	if got := detector.Correlation(a, b); got > 0.7 {
		t.Errorf("gradient vs uniform gray correlation = %v, want <= 0.7", got)
	}
}

func TestHistogram_UnitNorm(t *testing.T) {
	t.Parallel()
	h := detector.Histogram(gradient(30, 50, 7), 100)
	var sum float64
	for _, v := range h {
		sum += v * v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("squared norm = %v, want 1", sum)
	}
}

func TestIdentityVerifier_Observe(t *testing.T) {
	t.Parallel()
	cal := detector.DefaultCalibration()
	frame := gradient(200, 200, 0)
	box := image.Rect(50, 50, 150, 150)

	var v detector.IdentityVerifier
	if v.Status() != detector.VerificationNotSet {
		t.Fatalf("initial status = %v", v.Status())
	}

	// No faces: unchanged.
	v.Observe(frame, detector.Result[[]image.Rectangle]{}, cal)
	if v.Status() != detector.VerificationNotSet {
		t.Errorf("status after empty result = %v", v.Status())
	}

	// Face but no reference.
	v.Observe(frame, detector.Result[[]image.Rectangle]{Value: []image.Rectangle{box}}, cal)
	if v.Status() != detector.VerificationReferenceNotSet {
		t.Errorf("status = %v, want Reference Not Set", v.Status())
	}

	v.SetReference(frame.SubImage(box))
	if v.Status() != detector.VerificationReferenceSet {
		t.Errorf("status = %v, want Reference Set", v.Status())
	}

	v.Observe(frame, detector.Result[[]image.Rectangle]{Value: []image.Rectangle{box}}, cal)
	if v.Status() != detector.VerificationMatch {
		t.Errorf("status = %v (score %.3f), want MATCH", v.Status(), v.LastScore)
	}

	other := checker(200, 200, 10)
	v.Observe(other, detector.Result[[]image.Rectangle]{Value: []image.Rectangle{box}}, cal)
	if v.Status() != detector.VerificationNoMatch {
		t.Errorf("status = %v (score %.3f), want NOT MATCH", v.Status(), v.LastScore)
	}

	v.Observe(frame, detector.Result[[]image.Rectangle]{Err: errors.New("cascade crashed")}, cal)
	if v.Status() != detector.VerificationError {
		t.Errorf("status = %v, want Error", v.Status())
	}

	// Skipped leaves the status alone.
	v.Observe(frame, detector.Result[[]image.Rectangle]{Skipped: true}, cal)
	if v.Status() != detector.VerificationError {
		t.Errorf("status after skip = %v, want Error", v.Status())
	}
}

func TestVerificationStatus_Text(t *testing.T) {
	t.Parallel()
	tests := []struct {
		s    detector.VerificationStatus
		want string
	}{
		{detector.VerificationNotSet, "Not set"},
		{detector.VerificationReferenceNotSet, "Reference Not Set"},
		{detector.VerificationReferenceSet, "Reference Set"},
		{detector.VerificationMatch, "MATCH"},
		{detector.VerificationNoMatch, "NOT MATCH"},
		{detector.VerificationError, "Error"},
	}
	for _, tc := range tests {
		b, err := json.Marshal(tc.s)
		if err != nil {
			t.Fatalf("marshal %d: %v", tc.s, err)
		}
		if string(b) != `"`+tc.want+`"` {
			t.Errorf("json = %s, want %q", b, tc.want)
		}
		var back detector.VerificationStatus
		if err := json.Unmarshal(b, &back); err != nil || back != tc.s {
			t.Errorf("round trip %q = %v, %v", tc.want, back, err)
		}
	}
}
