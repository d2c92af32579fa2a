package detector_test

import (
	"testing"

	"github.com/MrWong99/vigil/internal/detector"
	"github.com/MrWong99/vigil/pkg/provider/vision"
)

func TestPickGender(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		dets   []vision.GenderDetection
		want   string
		wantOK bool
	}{
		{"none", nil, "", false},
		{"highest wins", []vision.GenderDetection{{Label: "male", Confidence: 0.5}, {Label: "female", Confidence: 0.8}}, "female", true},
		{"at threshold", []vision.GenderDetection{{Label: "male", Confidence: 0.4}}, "male", true},
		{"below threshold", []vision.GenderDetection{{Label: "male", Confidence: 0.39}}, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := detector.PickGender(tc.dets, 0.4)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("PickGender = %q, %v; want %q, %v", got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestCalibration_Validate(t *testing.T) {
	t.Parallel()
	if err := detector.DefaultCalibration().Validate(); err != nil {
		t.Fatalf("default calibration invalid: %v", err)
	}
	bad := detector.DefaultCalibration()
	bad.MoodInterval = 0
	bad.SpeechThreshold = 2
	bad.BgVoiceThreshold = 0.5
	if err := bad.Validate(); err == nil {
		t.Error("expected validation errors")
	}
}
