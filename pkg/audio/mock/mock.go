// Package mock provides an in-memory [audio.Source] for unit tests.
//
// Source replays the scripted Frames in order, then returns Err (or
// [audio.ErrClosed] when Err is nil and the source was closed, or io.EOF when
// the script is exhausted). Every Read is counted so tests can assert on how
// far the consumer got.
//
// Typical usage:
//
//	src := &mock.Source{Frames: []audio.AudioFrame{silence, speech}}
//	w := speech.NewWorker(src, cls, speech.DefaultConfig())
package mock

import (
	"io"
	"sync"
	"time"

	"github.com/MrWong99/vigil/pkg/audio"
)

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Frames are returned by successive Read calls.
	Frames []audio.AudioFrame

	// Err, if non-nil, is returned once Frames is exhausted. Defaults to io.EOF.
	Err error

	// Delay, if positive, is slept before each Read returns.
	Delay time.Duration

	// CloseErr is returned by Close.
	CloseErr error

	// ReadCallCount records how many times Read was called.
	ReadCallCount int

	// CloseCallCount records how many times Close was called.
	CloseCallCount int

	closed bool
}

// Read implements [audio.Source].
func (s *Source) Read() (audio.AudioFrame, error) {
	s.mu.Lock()
	delay := s.Delay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.ReadCallCount
	s.ReadCallCount++
	if s.closed {
		return audio.AudioFrame{}, audio.ErrClosed
	}
	if idx < len(s.Frames) {
		return s.Frames[idx], nil
	}
	if s.Err != nil {
		return audio.AudioFrame{}, s.Err
	}
	return audio.AudioFrame{}, io.EOF
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	s.closed = true
	return s.CloseErr
}

// Reads returns ReadCallCount. Thread-safe.
func (s *Source) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ReadCallCount
}

var _ audio.Source = (*Source)(nil)
