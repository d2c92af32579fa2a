// Package portaudio implements [audio.Source] on the default PortAudio input
// device using a blocking read stream.
//
// PortAudio is linked via CGO; the host needs libportaudio installed.
package portaudio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/vigil/pkg/audio"
	pa "github.com/gordonklaus/portaudio"
)

// Compile-time assertion that Source satisfies audio.Source.
var _ audio.Source = (*Source)(nil)

// Source reads fixed-size mono int16 chunks from the default input device.
type Source struct {
	mu      sync.Mutex
	stream  *pa.Stream
	buf     []int16
	rate    int
	started time.Time
	closed  bool
}

// Open initialises PortAudio, opens the default input device and starts the
// stream. The caller must Close the source to release the device and
// terminate PortAudio.
func Open(cfg audio.SourceConfig) (*Source, error) {
	cfg = cfg.WithDefaults()
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	buf := make([]int16, cfg.FrameSamples())
	stream, err := pa.OpenDefaultStream(1, 0, float64(cfg.SampleRate), len(buf), buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: open default stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}
	return &Source{stream: stream, buf: buf, rate: cfg.SampleRate, started: time.Now()}, nil
}

// Read blocks until one chunk has been captured. Input overflows are not
// treated as errors: the chunk is still returned.
func (s *Source) Read() (audio.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.AudioFrame{}, audio.ErrClosed
	}
	if err := s.stream.Read(); err != nil && !errors.Is(err, pa.InputOverflowed) {
		return audio.AudioFrame{}, fmt.Errorf("portaudio: read: %w", err)
	}
	data := make([]byte, len(s.buf)*2)
	for i, v := range s.buf {
		data[i*2] = byte(v)
		data[i*2+1] = byte(v >> 8)
	}
	return audio.AudioFrame{
		Data:       data,
		SampleRate: s.rate,
		Channels:   1,
		Timestamp:  time.Since(s.started),
	}, nil
}

// Close stops the stream and terminates PortAudio. A Read in progress
// finishes its current chunk first.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.stream.Stop(), s.stream.Close(), pa.Terminate())
}
