// Package silero implements vad.Classifier with the Silero neural VAD model
// via github.com/streamer45/silero-vad-go. The ONNX runtime is linked via CGO
// and the model file must be available on disk.
package silero

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/MrWong99/vigil/pkg/provider/vad"
	"github.com/streamer45/silero-vad-go/speech"
)

// windowSamples is the number of 16 kHz samples the model evaluates at once.
// Shorter chunks are accumulated until a full window is available.
const windowSamples = 512

// Compile-time assertion that Classifier satisfies vad.Classifier.
var _ vad.Classifier = (*Classifier)(nil)

// Config holds Silero-specific parameters.
type Config struct {
	// ModelPath is the path to silero_vad.onnx.
	ModelPath string

	// SampleRate must be 8000 or 16000.
	SampleRate int

	// Threshold is the speech probability threshold. Default: 0.5.
	Threshold float32
}

// Classifier accumulates chunks into model-sized windows. Between windows it
// reports the most recent decision, so every chunk gets an answer.
type Classifier struct {
	mu       sync.Mutex
	detector *speech.Detector
	buf      []float32
	last     bool
}

// New loads the Silero model.
func New(cfg Config) (*Classifier, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("silero vad: model path is required")
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.5
	}
	d, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            cfg.ModelPath,
		SampleRate:           cfg.SampleRate,
		Threshold:            cfg.Threshold,
		MinSilenceDurationMs: 0,
		SpeechPadMs:          0,
	})
	if err != nil {
		return nil, fmt.Errorf("silero vad: create detector: %w", err)
	}
	return &Classifier{detector: d, buf: make([]float32, 0, windowSamples*2)}, nil
}

// IsSpeech appends the chunk and, once a full window is buffered, runs the
// model on it.
func (c *Classifier) IsSpeech(pcm []byte, _ int) (bool, error) {
	if len(pcm)%2 != 0 {
		return false, fmt.Errorf("%w: %d bytes", vad.ErrFrameSize, len(pcm))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detector == nil {
		return false, fmt.Errorf("silero vad: classifier closed")
	}

	for i := 0; i+1 < len(pcm); i += 2 {
		c.buf = append(c.buf, float32(int16(binary.LittleEndian.Uint16(pcm[i:])))/32768.0)
	}
	if len(c.buf) < windowSamples {
		return c.last, nil
	}

	// Each window is judged on its own so that a segment started in an
	// earlier window does not hide ongoing speech.
	if err := c.detector.Reset(); err != nil {
		return false, fmt.Errorf("silero vad: reset: %w", err)
	}
	segments, err := c.detector.Detect(c.buf)
	c.buf = c.buf[:0]
	if err != nil {
		return false, fmt.Errorf("silero vad: detect: %w", err)
	}
	c.last = len(segments) > 0
	return c.last, nil
}

// Close releases the model.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detector == nil {
		return nil
	}
	err := c.detector.Destroy()
	c.detector = nil
	return err
}
