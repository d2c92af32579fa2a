// Package malgo implements [audio.Source] on miniaudio via
// github.com/gen2brain/malgo. The device delivers samples through a callback;
// Source frames them and hands the frames out from Read.
package malgo

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/vigil/pkg/audio"
	"github.com/gen2brain/malgo"
)

// Compile-time assertion that Source satisfies audio.Source.
var _ audio.Source = (*Source)(nil)

// maxPending bounds buffered frames when the reader falls behind; the oldest
// frames are discarded first.
const maxPending = 50

// Source captures from the default input device.
type Source struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu      sync.Mutex
	cond    *sync.Cond
	framer  *audio.Framer
	format  audio.Format
	pending []audio.AudioFrame
	closed  bool
}

// Open initialises miniaudio and starts capture at the configured rate, mono,
// signed 16-bit.
func Open(cfg audio.SourceConfig) (*Source, error) {
	cfg = cfg.WithDefaults()
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}

	s := &Source{
		ctx:    mctx,
		framer: audio.NewFramer(cfg),
		format: audio.Format{SampleRate: cfg.SampleRate, Channels: 1},
	}
	s.cond = sync.NewCond(&s.mu)

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = 1
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.PeriodSizeInMilliseconds = uint32(cfg.FrameMs)

	device, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{Data: s.onData})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("malgo: init device: %w", err)
	}
	s.device = device
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("malgo: start device: %w", err)
	}
	return s, nil
}

func (s *Source) onData(_, input []byte, _ uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, s.framer.Push(input, s.format)...)
	if over := len(s.pending) - maxPending; over > 0 {
		s.pending = s.pending[over:]
	}
	s.cond.Broadcast()
}

// Read blocks until a full frame is available or the source is closed.
// Timestamps count captured audio, so frames dropped while the reader was
// behind show up as a gap.
func (s *Source) Read() (audio.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return audio.AudioFrame{}, audio.ErrClosed
	}
	frame := s.pending[0]
	s.pending = s.pending[1:]
	return frame, nil
}

// Close stops the device and releases the miniaudio context. Blocked readers
// return [audio.ErrClosed].
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	stopErr := s.device.Stop()
	s.device.Uninit()
	ctxErr := s.ctx.Uninit()
	s.ctx.Free()
	return errors.Join(stopErr, ctxErr)
}
