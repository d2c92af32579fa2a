// Package cv implements vision capabilities on OpenCV through gocv: a Haar
// cascade face detector, a FER+ emotion network and a Caffe gender network.
//
// OpenCV 4 and its headers must be installed to build this package. Model files
// are loaded once at construction; every type is safe for concurrent use and
// serialises inference on an internal mutex.
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

var _ vision.FaceCascadeDetector = (*Cascade)(nil)

// CascadeOption configures a [Cascade].
type CascadeOption func(*Cascade)

// WithScaleFactor sets how much the image shrinks between detection scales.
// Default 1.1.
func WithScaleFactor(f float64) CascadeOption {
	return func(c *Cascade) {
		if f > 1 {
			c.scaleFactor = f
		}
	}
}

// WithMinNeighbors sets how many overlapping candidates a box needs to be
// reported. Default 5.
func WithMinNeighbors(n int) CascadeOption {
	return func(c *Cascade) {
		if n > 0 {
			c.minNeighbors = n
		}
	}
}

// WithMinSize drops boxes smaller than size pixels on either side. Default
// 30×30.
func WithMinSize(size int) CascadeOption {
	return func(c *Cascade) {
		if size > 0 {
			c.minSize = image.Pt(size, size)
		}
	}
}

// Cascade detects face boxes with an OpenCV Haar cascade, typically
// haarcascade_frontalface_default.xml.
type Cascade struct {
	scaleFactor  float64
	minNeighbors int
	minSize      image.Point

	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

// NewCascade loads the cascade XML at path.
func NewCascade(path string, opts ...CascadeOption) (*Cascade, error) {
	if path == "" {
		return nil, errors.New("cv: cascade path must not be empty")
	}
	cc := gocv.NewCascadeClassifier()
	if !cc.Load(path) {
		cc.Close()
		return nil, fmt.Errorf("cv: load cascade %q", path)
	}
	c := &Cascade{
		scaleFactor:  1.1,
		minNeighbors: 5,
		minSize:      image.Pt(30, 30),
		classifier:   cc,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Detect returns face boxes in img's pixel coordinates.
func (c *Cascade) Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gray, err := grayMat(img)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	c.mu.Lock()
	rects := c.classifier.DetectMultiScaleWithParams(gray, c.scaleFactor, c.minNeighbors, 0, c.minSize, image.Point{})
	c.mu.Unlock()

	origin := img.Bounds().Min
	for i := range rects {
		rects[i] = rects[i].Add(origin)
	}
	return rects, nil
}

// Close releases the classifier.
func (c *Cascade) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.classifier.Close()
}

// bgrMat converts img to an 8-bit BGR Mat. The caller closes it.
func bgrMat(img image.Image) (gocv.Mat, error) {
	if img.Bounds().Empty() {
		return gocv.Mat{}, vision.ErrEmptyImage
	}
	m, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("cv: convert image: %w", err)
	}
	return m, nil
}

// grayMat converts img to an 8-bit single channel Mat. The caller closes it.
func grayMat(img image.Image) (gocv.Mat, error) {
	bgr, err := bgrMat(img)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer bgr.Close()
	gray := gocv.NewMat()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)
	return gray, nil
}

// forward runs one blob through net and copies the first output row.
func forward(net *gocv.Net, blob gocv.Mat) ([]float32, error) {
	net.SetInput(blob, "")
	out := net.Forward("")
	defer out.Close()
	if out.Empty() {
		return nil, errors.New("cv: network produced no output")
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("cv: read output: %w", err)
	}
	return append([]float32(nil), data...), nil
}
