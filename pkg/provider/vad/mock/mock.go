// Package mock provides a test double for the vad.Classifier interface.
//
// Use Classifier to script speech decisions and inspect the chunks that were
// submitted for classification.
//
// Example:
//
//	cls := &mock.Classifier{Sequence: []bool{true, true, false}}
//	speech, _ := cls.IsSpeech(chunk, 16000) // true
package mock

import (
	"sync"

	"github.com/MrWong99/vigil/pkg/provider/vad"
)

// IsSpeechCall records a single invocation of Classifier.IsSpeech.
type IsSpeechCall struct {
	// PCM is a copy of the bytes passed to IsSpeech.
	PCM []byte

	// SampleRate is the rate passed to IsSpeech.
	SampleRate int
}

// Classifier is a mock implementation of vad.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Sequence, if non-empty, supplies the decision for each call in order.
	// Once exhausted, Result is returned.
	Sequence []bool

	// Result is returned when Sequence is exhausted.
	Result bool

	// Err, if non-nil, is returned by every IsSpeech call.
	Err error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// Calls records every call to IsSpeech in order.
	Calls []IsSpeechCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// IsSpeech records the call and returns the next scripted decision.
func (c *Classifier) IsSpeech(pcm []byte, sampleRate int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	idx := len(c.Calls)
	c.Calls = append(c.Calls, IsSpeechCall{PCM: cp, SampleRate: sampleRate})
	if c.Err != nil {
		return false, c.Err
	}
	if idx < len(c.Sequence) {
		return c.Sequence[idx], nil
	}
	return c.Result, nil
}

// Close records the call and returns CloseErr.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCallCount++
	return c.CloseErr
}

// CallCount returns the number of IsSpeech calls. Thread-safe.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Ensure Classifier implements vad.Classifier at compile time.
var _ vad.Classifier = (*Classifier)(nil)
