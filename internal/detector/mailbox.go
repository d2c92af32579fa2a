package detector

import (
	"image"
	"sync"
	"time"
)

// Frame is a decoded video frame and when it arrived.
type Frame struct {
	Image    image.Image
	Received time.Time

	// Seq increases by one for every frame put into the mailbox.
	Seq uint64
}

// Mailbox is a single-slot, latest-wins holder for the most recent frame.
// Put and Take are safe for concurrent use.
type Mailbox struct {
	mu    sync.Mutex
	cur   Frame
	has   bool
	taken bool
	seq   uint64
	drops uint64
}

// Put replaces the current frame unconditionally. dropped reports whether
// the replaced frame was never taken.
func (m *Mailbox) Put(img image.Image, at time.Time) (dropped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.has && !m.taken {
		m.drops++
		dropped = true
	}
	m.seq++
	m.cur = Frame{Image: img, Received: at, Seq: m.seq}
	m.has = true
	m.taken = false
	return dropped
}

// Take returns the current frame without removing it, so a tick without a
// new arrival re-processes the last frame. ok is false when the slot is empty.
func (m *Mailbox) Take() (Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.has {
		return Frame{}, false
	}
	m.taken = true
	return m.cur, true
}

// Clear empties the slot.
func (m *Mailbox) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cur = Frame{}
	m.has = false
	m.taken = false
}

// Drops returns the number of frames replaced before they were taken.
func (m *Mailbox) Drops() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops
}
