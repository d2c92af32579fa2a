// Package energy implements a pure-Go vad.Classifier based on RMS signal
// energy. It needs no native libraries, which makes it the fallback on hosts
// without the WebRTC or ONNX runtimes, and the default in tests.
package energy

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/MrWong99/vigil/pkg/provider/vad"
)

// DefaultThreshold is the normalised RMS level (full scale = 1.0) at or above
// which a chunk counts as speech.
const DefaultThreshold = 0.015

// Compile-time assertion that Classifier satisfies vad.Classifier.
var _ vad.Classifier = (*Classifier)(nil)

// Classifier flags chunks whose RMS energy reaches a fixed threshold. Each
// chunk is judged on its own; smoothing happens in the speech window.
type Classifier struct {
	threshold float64
}

// New creates an energy classifier. A threshold <= 0 selects [DefaultThreshold].
func New(threshold float64) *Classifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Classifier{threshold: threshold}
}

// IsSpeech reports whether the chunk's RMS level reaches the threshold.
func (c *Classifier) IsSpeech(pcm []byte, _ int) (bool, error) {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return false, fmt.Errorf("%w: %d bytes", vad.ErrFrameSize, len(pcm))
	}
	return RMS(pcm) >= c.threshold, nil
}

// Close is a no-op.
func (c *Classifier) Close() error { return nil }

// RMS returns the root-mean-square level of 16-bit little-endian PCM,
// normalised so that a full-scale square wave yields 1.0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
