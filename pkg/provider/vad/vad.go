// Package vad defines the Classifier interface for Voice Activity Detection
// backends.
//
// A Classifier wraps a frame-level speech detector (WebRTC VAD, Silero, or a
// plain energy threshold) and answers one question per audio chunk: does this
// chunk contain speech? Smoothing over time is the caller's concern; the
// speech worker keeps its own rolling window over these binary decisions.
//
// IsSpeech is synchronous and must return quickly: it is called once per
// captured chunk from the audio loop. A Classifier is owned by a single audio
// loop and need not be safe for concurrent use unless documented otherwise.
package vad

import "errors"

// ErrFrameSize is returned when a chunk's length does not match what the
// backend can process at the given sample rate.
var ErrFrameSize = errors.New("vad: unsupported frame size")

// Config holds the parameters shared by all VAD backends.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// chunks passed to IsSpeech. WebRTC VAD accepts 8000, 16000, 32000, 48000.
	SampleRate int

	// FrameSizeMs is the chunk duration in milliseconds. WebRTC VAD accepts
	// 10, 20 or 30 ms chunks.
	FrameSizeMs int
}

// FrameBytes returns the byte length of one 16-bit mono chunk for cfg.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// Classifier decides whether a chunk of 16-bit little-endian mono PCM contains
// speech.
type Classifier interface {
	// IsSpeech classifies one chunk recorded at sampleRate Hz. Returns an error
	// if the chunk cannot be processed (wrong size, engine failure).
	IsSpeech(pcm []byte, sampleRate int) (bool, error)

	// Close releases backend resources. Calling Close more than once is safe.
	Close() error
}
