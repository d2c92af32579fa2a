package detector_test

import (
	"image"
	"image/color"

	"github.com/MrWong99/vigil/pkg/provider/vision"
)

// testFace returns a face whose mesh spans [0.3,0.7]² with the eye corner at
// eyeX and a lip gap of gap (normalised) on a face 0.4 tall.
func testFace(eyeX, gap float64) vision.Face {
	return vision.Face{
		Points: []vision.Point{
			{X: 0.3, Y: 0.3}, {X: 0.7, Y: 0.3},
			{X: 0.3, Y: 0.7}, {X: 0.7, Y: 0.7},
		},
		EyeCorner: vision.Point{X: eyeX, Y: 0.4},
		UpperLip:  vision.Point{X: 0.5, Y: 0.6},
		LowerLip:  vision.Point{X: 0.5, Y: 0.6 + gap},
		Forehead:  vision.Point{X: 0.5, Y: 0.3},
		Chin:      vision.Point{X: 0.5, Y: 0.7},
	}
}

func oneFace(f vision.Face) vision.FaceLandmarks {
	return vision.FaceLandmarks{FaceCount: 1, Faces: []vision.Face{f}}
}

// gradient returns a w×h image with a horizontal luma ramp shifted by offset.
func gradient(w, h, offset int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			v := uint8((x*255/max(w-1, 1) + offset) % 256)
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

// checker returns a w×h black/white checkerboard with cell-sized squares.
func checker(w, h, cell int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			c := color.RGBA{A: 255}
			if (x/cell+y/cell)%2 == 0 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func solidGray(w, h int, y uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = y
	}
	return img
}
