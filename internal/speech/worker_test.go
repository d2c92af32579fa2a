package speech_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/vigil/internal/speech"
	"github.com/MrWong99/vigil/pkg/audio"
	audiomock "github.com/MrWong99/vigil/pkg/audio/mock"
	vadmock "github.com/MrWong99/vigil/pkg/provider/vad/mock"
)

func chunks(n int) []audio.AudioFrame {
	frames := make([]audio.AudioFrame, n)
	for i := range frames {
		frames[i] = audio.AudioFrame{Data: make([]byte, 640), SampleRate: 16000, Channels: 1}
	}
	return frames
}

// drainAll collects states until the terminal (not running) one arrives.
func drainAll(t *testing.T, w *speech.Worker) speech.State {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-w.Updates():
			if !s.Running {
				return s
			}
		case <-timeout:
			t.Fatal("timed out waiting for terminal state")
		}
	}
}

func TestWorker_ThresholdBoundary(t *testing.T) {
	t.Parallel()

	// A full window of silence first, so the ratio climbs in steps of 0.1 and
	// peaks at the value under test.
	silence := make([]bool, 10)
	tests := []struct {
		name string
		seq  []bool
		want bool
	}{
		{"ratio 0.3 is not speech", append(append([]bool{}, silence...), true, true, true, false, false), false},
		{"ratio 0.4 is speech", append(append([]bool{}, silence...), true, true, true, true, false), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			src := &audiomock.Source{Frames: chunks(len(tc.seq))}
			cls := &vadmock.Classifier{Sequence: tc.seq}
			w := speech.NewWorker(src, cls, speech.DefaultConfig())

			if err := w.Run(context.Background()); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if cls.CallCount() != len(tc.seq) {
				t.Fatalf("classified %d chunks, want %d", cls.CallCount(), len(tc.seq))
			}
			// Run has returned, so the final silent state is buffered; the last
			// live reading is gone but Detections tells whether it was speech.
			final := drainAll(t, w)
			if got := final.Detections > 0; got != tc.want {
				t.Errorf("speech ever detected = %v, want %v", got, tc.want)
			}
			if final.Detected || final.Confidence != 0 {
				t.Errorf("final state should be silent, got %+v", final)
			}
		})
	}
}

func TestWorker_LatestReading(t *testing.T) {
	t.Parallel()
	src := &audiomock.Source{Frames: chunks(4)}
	cls := &vadmock.Classifier{Result: true}
	w := speech.NewWorker(src, cls, speech.DefaultConfig())

	// Consume live states as they arrive via Latest after Run.
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := w.Latest(); got.Running || got.Detections != 4 {
		t.Errorf("Latest = %+v, want stopped with 4 detections", got)
	}
	if w.Running() {
		t.Error("worker should not be running after Run returns")
	}
}

func TestWorker_ClassifierErrorStops(t *testing.T) {
	t.Parallel()
	boom := errors.New("bad frame")
	src := &audiomock.Source{Frames: chunks(5)}
	cls := &vadmock.Classifier{Err: boom}
	w := speech.NewWorker(src, cls, speech.DefaultConfig())

	if err := w.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Run err = %v, want %v", err, boom)
	}
	if src.Reads() != 1 {
		t.Errorf("reads = %d, want 1", src.Reads())
	}
	if s := drainAll(t, w); s.Detected {
		t.Errorf("expected silent state after failure, got %+v", s)
	}
}

func TestWorker_ReadErrorStops(t *testing.T) {
	t.Parallel()
	boom := errors.New("device unplugged")
	src := &audiomock.Source{Frames: chunks(2), Err: boom}
	w := speech.NewWorker(src, &vadmock.Classifier{}, speech.DefaultConfig())

	if err := w.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Run err = %v, want %v", err, boom)
	}
}

func TestWorker_NoSourceIsNoop(t *testing.T) {
	t.Parallel()
	w := speech.NewWorker(nil, nil, speech.DefaultConfig())
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	select {
	case s := <-w.Updates():
		t.Errorf("unexpected state %+v from disabled worker", s)
	default:
	}
}

func TestWorker_CloseUnblocks(t *testing.T) {
	t.Parallel()
	src := &audiomock.Source{Frames: chunks(1000), Delay: time.Millisecond}
	w := speech.NewWorker(src, &vadmock.Classifier{}, speech.DefaultConfig())

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	_ = src.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run after close: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after source close")
	}
}

func TestWorker_SetThreshold(t *testing.T) {
	t.Parallel()
	w := speech.NewWorker(nil, nil, speech.DefaultConfig())
	if w.Threshold() != 0.3 {
		t.Errorf("default threshold = %v, want 0.3", w.Threshold())
	}
	w.SetThreshold(0.5)
	if w.Threshold() != 0.5 {
		t.Errorf("threshold = %v, want 0.5", w.Threshold())
	}
}

func TestWorker_ZeroThresholdHonoured(t *testing.T) {
	t.Parallel()
	cfg := speech.Config{Threshold: 0, WindowSize: 10}

	started := speech.NewWorker(nil, nil, cfg)
	reloaded := speech.NewWorker(nil, nil, speech.DefaultConfig())
	reloaded.SetThreshold(0)
	if started.Threshold() != reloaded.Threshold() {
		t.Fatalf("startup threshold = %v, reloaded = %v", started.Threshold(), reloaded.Threshold())
	}

	// One speech chunk in ten gives ratio 0.1, which is above zero.
	seq := append(make([]bool, 9), true)
	src := &audiomock.Source{Frames: chunks(len(seq))}
	cls := &vadmock.Classifier{Sequence: seq}
	w := speech.NewWorker(src, cls, cfg)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final := drainAll(t, w); final.Detections == 0 {
		t.Error("zero threshold should report the single speech chunk")
	}
}

func TestWorker_WindowDefault(t *testing.T) {
	t.Parallel()
	// A zero window falls back to 10, so three speech chunks after nine
	// silent ones peak at ratio 0.3 and never exceed the threshold.
	seq := append(make([]bool, 9), true, true, true)
	src := &audiomock.Source{Frames: chunks(len(seq))}
	cls := &vadmock.Classifier{Sequence: seq}
	w := speech.NewWorker(src, cls, speech.Config{Threshold: 0.3})
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final := drainAll(t, w); final.Detections != 0 {
		t.Errorf("detections = %d, want 0", final.Detections)
	}
}
