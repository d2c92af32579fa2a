// Package wavfile implements [audio.Source] over a WAV file decoded with
// github.com/go-audio/wav. It is used by the replay command and by demos that
// run without a microphone.
//
// The whole file is decoded up front and run through an [audio.Framer]. Read
// returns io.EOF after the last complete frame.
package wavfile

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/vigil/pkg/audio"
	"github.com/go-audio/wav"
)

// Compile-time assertion that Source satisfies audio.Source.
var _ audio.Source = (*Source)(nil)

// Option configures a [Source].
type Option func(*Source)

// WithRealtime paces Read to the chunk duration so the file plays back at
// capture speed. Without it, frames are returned as fast as they are read.
func WithRealtime(realtime bool) Option {
	return func(s *Source) { s.realtime = realtime }
}

// Source replays PCM frames decoded from a WAV file.
type Source struct {
	mu       sync.Mutex
	frames   []audio.AudioFrame
	next     int
	frameDur time.Duration
	realtime bool
	last     time.Time
	closed   bool
}

// Open decodes the WAV file at path.
func Open(path string, cfg audio.SourceConfig, opts ...Option) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: %w", err)
	}
	defer f.Close()
	return Decode(f, cfg, opts...)
}

// Decode reads a complete WAV stream from r.
func Decode(r io.ReadSeeker, cfg audio.SourceConfig, opts ...Option) (*Source, error) {
	cfg = cfg.WithDefaults()
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wavfile: not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavfile: read PCM: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 || buf.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("wavfile: missing format information")
	}

	shift := 0
	if bd := int(dec.BitDepth); bd > 16 {
		shift = bd - 16
	}
	pcm := make([]byte, len(buf.Data)*2)
	for i, v := range buf.Data {
		if dec.BitDepth == 8 {
			// 8-bit WAV is unsigned.
			v = (v - 128) << 8
		}
		s := int16(v >> shift)
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}

	in := audio.Format{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels}
	s := &Source{
		frames:   audio.NewFramer(cfg).Push(pcm, in),
		frameDur: time.Duration(cfg.FrameMs) * time.Millisecond,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Len returns the total number of frames in the file.
func (s *Source) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Read returns the next frame, or io.EOF once the file is exhausted.
func (s *Source) Read() (audio.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.AudioFrame{}, audio.ErrClosed
	}
	if s.next >= len(s.frames) {
		return audio.AudioFrame{}, io.EOF
	}
	if s.realtime && !s.last.IsZero() {
		if wait := s.frameDur - time.Since(s.last); wait > 0 {
			time.Sleep(wait)
		}
	}
	s.last = time.Now()
	f := s.frames[s.next]
	s.next++
	return f, nil
}

// Close marks the source closed.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
