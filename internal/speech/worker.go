// Package speech runs the background voice-activity loop: it reads fixed
// chunks from an [audio.Source], classifies each with a [vad.Classifier],
// keeps a rolling window of decisions and publishes the resulting speech
// state through a latest-value channel.
//
// The worker runs for the lifetime of the process. Any read or classify
// error ends it; it then publishes a final silent state so consumers never
// report stale speech from a dead device.
package speech

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/vigil/internal/observe"
	"github.com/MrWong99/vigil/pkg/audio"
	"github.com/MrWong99/vigil/pkg/provider/vad"
)

// State is one published speech reading.
type State struct {
	// Detected is true when Confidence exceeds the threshold.
	Detected bool

	// Confidence is the speech ratio of the rolling window, in [0, 1].
	Confidence float64

	// Detections counts chunks that were published with Detected set since the
	// worker started. It survives the final silent state.
	Detections uint64

	// Running is false once the worker has stopped.
	Running bool
}

// Config holds the worker's tuning.
type Config struct {
	// Threshold is the speech ratio above which speech is reported. It is used
	// as given: zero reports speech as soon as one chunk in the window is
	// speech.
	Threshold float64

	// WindowSize is the number of chunk decisions averaged. Values below one
	// fall back to the default of 10.
	WindowSize int
}

// DefaultConfig returns the stock tuning: threshold 0.3 over 10 chunks.
func DefaultConfig() Config {
	return Config{Threshold: 0.3, WindowSize: 10}
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultConfig().WindowSize
	}
	return c
}

// Option configures a [Worker].
type Option func(*Worker)

// WithMetrics records the speech ratio on every chunk.
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// Worker is the audio VAD loop. Create with [NewWorker] and start with
// [Worker.Run] in its own goroutine.
type Worker struct {
	src     audio.Source
	cls     vad.Classifier
	window  *Window
	metrics *observe.Metrics

	threshold atomic.Uint64 // math.Float64bits
	running   atomic.Bool
	updates   chan State

	mu   sync.Mutex
	last State
}

// NewWorker creates a worker. src may be nil when no audio device could be
// opened; Run then returns immediately and speech stays silent.
func NewWorker(src audio.Source, cls vad.Classifier, cfg Config, opts ...Option) *Worker {
	cfg = cfg.withDefaults()
	w := &Worker{
		src:     src,
		cls:     cls,
		window:  NewWindow(cfg.WindowSize),
		updates: make(chan State, 1),
	}
	w.threshold.Store(math.Float64bits(cfg.Threshold))
	for _, o := range opts {
		o(w)
	}
	return w
}

// Updates returns the latest-value channel. At most one unread state is
// buffered; newer states replace it.
func (w *Worker) Updates() <-chan State { return w.updates }

// SetThreshold changes the detection threshold from the next chunk on.
func (w *Worker) SetThreshold(t float64) {
	w.threshold.Store(math.Float64bits(t))
}

// Threshold returns the current detection threshold.
func (w *Worker) Threshold() float64 {
	return math.Float64frombits(w.threshold.Load())
}

// Running reports whether the loop is active.
func (w *Worker) Running() bool { return w.running.Load() }

// Latest returns the most recently published state.
func (w *Worker) Latest() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Run reads and classifies chunks until ctx is cancelled, the source is
// closed or an error occurs. Cancelling ctx alone does not interrupt a
// blocked Read; close the source to unblock it.
//
// Returns nil on cancellation or a clean end of input, the terminal error
// otherwise.
func (w *Worker) Run(ctx context.Context) error {
	if w.src == nil || w.cls == nil {
		slog.Warn("speech worker: no audio source, speech detection disabled")
		return nil
	}
	w.running.Store(true)
	defer w.finish()

	slog.Info("speech worker started", "window", w.window.Cap(), "threshold", w.Threshold())
	for {
		if ctx.Err() != nil {
			return nil
		}
		frame, err := w.src.Read()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, audio.ErrClosed) {
				return nil
			}
			if errors.Is(err, io.EOF) {
				slog.Info("speech worker: end of audio input")
				return nil
			}
			slog.Error("speech worker: audio read failed, stopping", "err", err)
			return err
		}
		isSpeech, err := w.cls.IsSpeech(frame.Data, frame.SampleRate)
		if err != nil {
			slog.Error("speech worker: classification failed, stopping", "err", err)
			return err
		}
		w.observe(ctx, isSpeech)
	}
}

func (w *Worker) observe(ctx context.Context, isSpeech bool) {
	ratio := w.window.Push(isSpeech)
	w.mu.Lock()
	s := State{
		Detected:   ratio > w.Threshold(),
		Confidence: ratio,
		Detections: w.last.Detections,
		Running:    true,
	}
	if s.Detected {
		s.Detections++
	}
	w.last = s
	w.mu.Unlock()

	w.publish(s)
	if w.metrics != nil {
		w.metrics.SpeechConfidence.Record(ctx, ratio)
	}
}

// finish publishes the silent terminal state.
func (w *Worker) finish() {
	w.running.Store(false)
	w.mu.Lock()
	s := State{Detections: w.last.Detections}
	w.last = s
	w.mu.Unlock()
	w.publish(s)
	slog.Info("speech worker stopped")
}

// publish replaces any unread state with s. The worker is the only sender,
// so the send after draining cannot block.
func (w *Worker) publish(s State) {
	select {
	case <-w.updates:
	default:
	}
	w.updates <- s
}
