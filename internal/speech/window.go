package speech

// Window is a fixed-capacity rolling window of per-chunk speech decisions.
// Pushing into a full window evicts the oldest entry. Not safe for concurrent
// use; the worker owns its window.
type Window struct {
	buf   []bool
	next  int
	count int
	hits  int
}

// NewWindow returns an empty window holding at most size decisions. size < 1
// is treated as 1.
func NewWindow(size int) *Window {
	return &Window{buf: make([]bool, max(size, 1))}
}

// Push records one decision and returns the updated speech ratio.
func (w *Window) Push(speech bool) float64 {
	if w.count == len(w.buf) {
		if w.buf[w.next] {
			w.hits--
		}
	} else {
		w.count++
	}
	w.buf[w.next] = speech
	if speech {
		w.hits++
	}
	w.next = (w.next + 1) % len(w.buf)
	return w.Ratio()
}

// Ratio is the fraction of speech decisions currently in the window, or 0
// when the window is empty.
func (w *Window) Ratio() float64 {
	if w.count == 0 {
		return 0
	}
	return float64(w.hits) / float64(w.count)
}

// Len returns the number of decisions held.
func (w *Window) Len() int { return w.count }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }
