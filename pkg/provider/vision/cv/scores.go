package cv

import "math"

// ferPlusLabels is the output order of the FER+ network, already renamed to
// the labels the rest of the system uses. Contempt has no counterpart and is
// folded into disgust.
var ferPlusLabels = [...]string{
	"neutral",
	"happy",
	"surprise",
	"sad",
	"angry",
	"disgust",
	"fear",
	"disgust",
}

// softmax returns the normalised exponentials of logits.
func softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	peak := float64(logits[0])
	for _, v := range logits[1:] {
		peak = math.Max(peak, float64(v))
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(float64(v) - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// emotionPercentages maps FER+ logits to percentage scores per label and the
// dominant label. Extra outputs beyond the known labels are ignored.
func emotionPercentages(logits []float32) (map[string]float64, string) {
	probs := softmax(logits)
	scores := make(map[string]float64, len(ferPlusLabels))
	for i, p := range probs {
		if i >= len(ferPlusLabels) {
			break
		}
		scores[ferPlusLabels[i]] += p * 100
	}
	var dominant string
	best := -1.0
	for _, label := range ferPlusLabels {
		if s, ok := scores[label]; ok && s > best {
			dominant, best = label, s
		}
	}
	return scores, dominant
}

// topLabel returns the label with the highest probability. ok is false when
// probs is empty or shorter than labels.
func topLabel(probs []float32, labels []string) (string, float64, bool) {
	if len(probs) < len(labels) || len(labels) == 0 {
		return "", 0, false
	}
	best := 0
	for i := range labels {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return labels[best], float64(probs[best]), true
}
