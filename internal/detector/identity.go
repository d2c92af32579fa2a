package detector

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/MrWong99/vigil/pkg/provider/vision"
)

var (
	// ErrNoFrame is returned by [Detector.CaptureReference] when no frame has
	// been received.
	ErrNoFrame = errors.New("detector: no frame available")

	// ErrNoFace is returned by [Detector.CaptureReference] when the current
	// frame contains no detectable face.
	ErrNoFace = errors.New("detector: no face detected")
)

// VerificationStatus is the identity check outcome.
type VerificationStatus int

const (
	VerificationNotSet VerificationStatus = iota
	VerificationReferenceNotSet
	VerificationReferenceSet
	VerificationMatch
	VerificationNoMatch
	VerificationError
)

var verificationText = [...]string{
	VerificationNotSet:          "Not set",
	VerificationReferenceNotSet: "Reference Not Set",
	VerificationReferenceSet:    "Reference Set",
	VerificationMatch:           "MATCH",
	VerificationNoMatch:         "NOT MATCH",
	VerificationError:           "Error",
}

// String returns the wire text of the status.
func (s VerificationStatus) String() string {
	if s < 0 || int(s) >= len(verificationText) {
		return fmt.Sprintf("VerificationStatus(%d)", int(s))
	}
	return verificationText[s]
}

// MarshalText encodes the status as its wire text.
func (s VerificationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a wire text.
func (s *VerificationStatus) UnmarshalText(b []byte) error {
	for i, t := range verificationText {
		if t == string(b) {
			*s = VerificationStatus(i)
			return nil
		}
	}
	return fmt.Errorf("detector: unknown verification status %q", b)
}

// Histogram returns the 256-bin luma histogram of img resized to size×size,
// scaled to unit L2 norm.
func Histogram(img image.Image, size int) [256]float64 {
	g := vision.Grayscale(img, size, size)
	var h [256]float64
	for _, p := range g.Pix {
		h[p]++
	}
	var norm float64
	for _, v := range h {
		norm += v * v
	}
	if norm = math.Sqrt(norm); norm > 0 {
		for i := range h {
			h[i] /= norm
		}
	}
	return h
}

// epsilon is the float64 machine epsilon.
const epsilon = 0x1p-52

// Correlation is the Pearson correlation of two histograms. Two flat
// histograms correlate perfectly.
func Correlation(a, b [256]float64) float64 {
	var ma, mb float64
	for i := range a {
		ma += a[i]
		mb += b[i]
	}
	ma /= float64(len(a))
	mb /= float64(len(b))

	var num, da, db float64
	for i := range a {
		x, y := a[i]-ma, b[i]-mb
		num += x * y
		da += x * x
		db += y * y
	}
	den := math.Sqrt(da * db)
	if den <= epsilon {
		return 1
	}
	return num / den
}

// IdentityVerifier compares the first cascade face of each frame against a
// captured reference crop.
type IdentityVerifier struct {
	status VerificationStatus

	ref      image.Image
	refHist  [256]float64
	histSize int

	// LastScore is the most recent correlation, for diagnostics.
	LastScore float64
}

// Status returns the current verification status.
func (v *IdentityVerifier) Status() VerificationStatus { return v.status }

// HasReference reports whether a reference crop is stored.
func (v *IdentityVerifier) HasReference() bool { return v.ref != nil }

// SetReference stores crop as the reference face.
func (v *IdentityVerifier) SetReference(crop image.Image) {
	v.ref = vision.CopyImage(crop)
	v.histSize = 0
	v.status = VerificationReferenceSet
}

// Observe updates the status from one frame's cascade result.
func (v *IdentityVerifier) Observe(img image.Image, boxes Result[[]image.Rectangle], cal Calibration) {
	if boxes.Skipped {
		return
	}
	if boxes.Err != nil {
		v.status = VerificationError
		return
	}
	if len(boxes.Value) == 0 {
		return
	}
	if v.ref == nil {
		v.status = VerificationReferenceNotSet
		return
	}
	cur, ok := vision.Crop(img, boxes.Value[0])
	if !ok {
		return
	}
	if v.histSize != cal.IdentitySize {
		v.refHist = Histogram(v.ref, cal.IdentitySize)
		v.histSize = cal.IdentitySize
	}
	v.LastScore = Correlation(v.refHist, Histogram(cur, cal.IdentitySize))
	if v.LastScore > cal.VerificationThreshold {
		v.status = VerificationMatch
	} else {
		v.status = VerificationNoMatch
	}
}
