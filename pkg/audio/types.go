package audio

import (
	"errors"
	"time"
)

// ErrClosed is returned by [Source.Read] after the source has been closed.
var ErrClosed = errors.New("audio: source closed")

// AudioFrame is one chunk of captured audio. Sources deliver fixed-duration
// chunks (20 ms by default) of 16-bit little-endian PCM.
type AudioFrame struct {
	// Data holds the PCM samples.
	Data []byte

	// SampleRate in Hz (16000 for the speech pipeline).
	SampleRate int

	// Channels is 1 for every frame a Source hands to the speech worker.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Source is a blocking producer of mono PCM chunks, typically a microphone.
//
// Read blocks until one full chunk is available and returns it. Any error is
// terminal for the source: the speech worker stops reading after the first
// one. Close releases the device; a Read blocked in another goroutine returns
// an error afterwards. Close must be safe to call more than once.
type Source interface {
	Read() (AudioFrame, error)
	Close() error
}

// SourceConfig holds the capture parameters shared by all Source backends.
type SourceConfig struct {
	// SampleRate is the rate delivered to the caller. Default: 16000.
	SampleRate int

	// FrameMs is the chunk duration in milliseconds. Default: 20.
	FrameMs int
}

// WithDefaults fills zero fields with the speech pipeline defaults.
func (c SourceConfig) WithDefaults() SourceConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FrameMs <= 0 {
		c.FrameMs = 20
	}
	return c
}

// FrameSamples is the number of mono samples in one chunk.
func (c SourceConfig) FrameSamples() int {
	return c.SampleRate * c.FrameMs / 1000
}
