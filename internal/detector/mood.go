package detector

import (
	"image"
	"sort"

	"github.com/MrWong99/vigil/pkg/provider/vision"
)

// DefaultMood is the mood reported before any emotion has been classified.
const DefaultMood = "neutral"

// MoodSmoother is a majority-vote filter over per-frame emotion labels.
type MoodSmoother struct {
	frames  int
	window  []string
	current string
}

// NewMoodSmoother returns a smoother reporting [DefaultMood].
func NewMoodSmoother() *MoodSmoother {
	return &MoodSmoother{current: DefaultMood}
}

// Due counts one processed frame and reports whether this frame is due for
// emotion analysis.
func (m *MoodSmoother) Due(cal Calibration) bool {
	m.frames++
	return m.frames%cal.MoodInterval == 0
}

// Observe appends the label predicted from scores and recomputes the mood.
// Empty scores leave the window untouched. It reports whether the current
// mood changed.
func (m *MoodSmoother) Observe(scores vision.EmotionScores, cal Calibration) (changed bool) {
	label, ok := PredictEmotion(scores, cal.NeutralSuppression)
	if !ok {
		return false
	}
	m.window = append(m.window, label)
	if over := len(m.window) - cal.MoodWindow; over > 0 {
		m.window = append(m.window[:0:0], m.window[over:]...)
	}
	top := majority(m.window)
	if top == m.current {
		return false
	}
	m.current = top
	return true
}

// Current returns the smoothed mood.
func (m *MoodSmoother) Current() string { return m.current }

// Window returns a copy of the label window, oldest first.
func (m *MoodSmoother) Window() []string {
	return append([]string(nil), m.window...)
}

// PredictEmotion picks the label for one frame. A neutral score at or above
// suppress is ignored; the highest remaining score wins, ties going to the
// lexicographically smallest label. If nothing remains the backend's dominant
// label is used, or [DefaultMood]. ok is false when scores is empty.
func PredictEmotion(scores vision.EmotionScores, suppress float64) (label string, ok bool) {
	if len(scores.Scores) == 0 {
		return "", false
	}
	labels := make([]string, 0, len(scores.Scores))
	for l, v := range scores.Scores {
		if l == "neutral" && v >= suppress {
			continue
		}
		labels = append(labels, l)
	}
	if len(labels) == 0 {
		if scores.Dominant != "" {
			return scores.Dominant, true
		}
		return DefaultMood, true
	}
	sort.Strings(labels)
	best := labels[0]
	for _, l := range labels[1:] {
		if scores.Scores[l] > scores.Scores[best] {
			best = l
		}
	}
	return best, true
}

// majority returns the most frequent label, ties going to the label that
// appears first in the window.
func majority(window []string) string {
	counts := make(map[string]int, len(window))
	for _, l := range window {
		counts[l]++
	}
	best, bestN := "", 0
	for _, l := range window {
		if n := counts[l]; n > bestN {
			best, bestN = l, n
		}
	}
	return best
}

// MoodCrop returns the emotion crop rectangle for face in an image with the
// given bounds: the landmark box in pixels, padded and clamped to the image.
// ok is false when the face has no points or the crop is smaller than
// minSize in either dimension.
func MoodCrop(bounds image.Rectangle, face vision.Face, pad, minSize int) (image.Rectangle, bool) {
	lo, hi, ok := face.Bounds()
	if !ok {
		return image.Rectangle{}, false
	}
	w, h := bounds.Dx(), bounds.Dy()
	r := image.Rect(
		bounds.Min.X+int(lo.X*float64(w))-pad,
		bounds.Min.Y+int(lo.Y*float64(h))-pad,
		bounds.Min.X+int(hi.X*float64(w))+pad,
		bounds.Min.Y+int(hi.Y*float64(h))+pad,
	).Intersect(bounds)
	if r.Dx() < minSize || r.Dy() < minSize {
		return image.Rectangle{}, false
	}
	return r, true
}
