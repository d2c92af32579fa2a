// Package webrtc implements vad.Classifier on top of the WebRTC voice activity
// detector (github.com/visvasity/webrtcvad). The native library is linked via
// CGO.
package webrtc

import (
	"fmt"
	"sync"

	"github.com/MrWong99/vigil/pkg/provider/vad"
	"github.com/visvasity/webrtcvad"
)

// DefaultMode is the most aggressive WebRTC mode, which filters the most
// non-speech at the cost of occasionally missing quiet speech.
const DefaultMode = 3

// Compile-time assertion that Classifier satisfies vad.Classifier.
var _ vad.Classifier = (*Classifier)(nil)

// Classifier wraps a single WebRTC VAD instance.
type Classifier struct {
	mu  sync.Mutex
	vad *webrtcvad.VAD
}

// Option is a functional option for New.
type Option func(*options)

type options struct {
	mode int
}

// WithMode sets the aggressiveness mode in [0, 3]. Default: [DefaultMode].
func WithMode(mode int) Option {
	return func(o *options) { o.mode = mode }
}

// New creates a WebRTC VAD classifier.
func New(opts ...Option) (*Classifier, error) {
	o := options{mode: DefaultMode}
	for _, opt := range opts {
		opt(&o)
	}
	if o.mode < 0 || o.mode > 3 {
		return nil, fmt.Errorf("webrtc vad: mode %d out of range [0, 3]", o.mode)
	}

	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create: %w", err)
	}
	if err := v.SetMode(o.mode); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode %d: %w", o.mode, err)
	}
	return &Classifier{vad: v}, nil
}

// IsSpeech classifies a 10, 20 or 30 ms chunk of 16-bit mono PCM.
func (c *Classifier) IsSpeech(pcm []byte, sampleRate int) (bool, error) {
	if !validFrame(len(pcm), sampleRate) {
		return false, fmt.Errorf("%w: %d bytes at %d Hz", vad.ErrFrameSize, len(pcm), sampleRate)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vad == nil {
		return false, fmt.Errorf("webrtc vad: classifier closed")
	}
	return c.vad.Process(sampleRate, pcm)
}

// Close drops the detector; later IsSpeech calls return an error.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vad = nil
	return nil
}

// validFrame reports whether n bytes of 16-bit PCM form a 10, 20 or 30 ms
// chunk at sampleRate.
func validFrame(n, sampleRate int) bool {
	switch sampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return false
	}
	for _, ms := range []int{10, 20, 30} {
		if n == sampleRate*ms/1000*2 {
			return true
		}
	}
	return false
}
