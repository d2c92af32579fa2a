package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Format describes the layout of 16-bit little-endian PCM pushed into a
// [Framer].
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	switch {
	case f.Channels <= 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case f.Channels == 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// Framer turns PCM of any rate and channel layout into the fixed-length mono
// frames the voice activity detector consumes. Input may arrive in pieces of
// any size, even splitting a sample; Framer carries the remainder into the
// next push. Frames are timestamped by their position in the stream.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	cfg  SourceConfig
	size int

	in    Format
	carry []byte
	rs    resampler
	out   []byte
	seq   int
}

// NewFramer returns a Framer emitting frames of cfg.FrameMs at cfg.SampleRate.
func NewFramer(cfg SourceConfig) *Framer {
	cfg = cfg.WithDefaults()
	return &Framer{cfg: cfg, size: cfg.FrameSamples() * 2}
}

// Push converts pcm, laid out as in, and returns every frame it completes.
// Returned frames own their data. A change of input format drops any partial
// sample carried from the previous format.
func (f *Framer) Push(pcm []byte, in Format) []AudioFrame {
	in.Channels = max(in.Channels, 1)
	if in.SampleRate <= 0 {
		in.SampleRate = f.cfg.SampleRate
	}
	if in != f.in {
		target := Format{SampleRate: f.cfg.SampleRate, Channels: 1}
		if f.in != (Format{}) || in != target {
			slog.Info("audio framer: converting input", "from", in.String(), "to", target.String())
		}
		f.in = in
		f.carry = f.carry[:0]
		f.rs = resampler{step: float64(in.SampleRate) / float64(f.cfg.SampleRate)}
	}

	data := pcm
	if len(f.carry) > 0 {
		data = append(f.carry, pcm...)
	}
	stride := 2 * in.Channels
	whole := len(data) - len(data)%stride
	samples := f.rs.run(mixDown(data[:whole], in.Channels))
	f.carry = append(f.carry[:0], data[whole:]...)

	for _, s := range samples {
		f.out = binary.LittleEndian.AppendUint16(f.out, uint16(s))
	}

	var frames []AudioFrame
	off := 0
	for len(f.out)-off >= f.size {
		chunk := make([]byte, f.size)
		copy(chunk, f.out[off:])
		frames = append(frames, AudioFrame{
			Data:       chunk,
			SampleRate: f.cfg.SampleRate,
			Channels:   1,
			Timestamp:  time.Duration(f.seq*f.cfg.FrameMs) * time.Millisecond,
		})
		f.seq++
		off += f.size
	}
	if off > 0 {
		f.out = append(f.out[:0], f.out[off:]...)
	}
	return frames
}

// Pending returns the number of converted bytes still short of a full frame.
func (f *Framer) Pending() int { return len(f.out) }

// mixDown decodes interleaved int16 PCM and averages each frame's channels.
// pcm must hold whole frames.
func mixDown(pcm []byte, channels int) []int16 {
	stride := 2 * channels
	out := make([]int16, len(pcm)/stride)
	for i := range out {
		var sum int32
		for ch := range channels {
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[i*stride+ch*2:])))
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// resampler interpolates linearly between input samples. It keeps its phase
// and the last input sample across blocks, so a stream resampled in pieces
// matches the stream resampled at once.
type resampler struct {
	step  float64 // input samples per output sample
	phase float64 // position of the next output sample in the current block
	prev  int16
}

func (r *resampler) run(in []int16) []int16 {
	if r.step == 1 || len(in) == 0 {
		return in
	}
	at := func(i int) int16 {
		if i < 0 {
			return r.prev
		}
		return in[i]
	}

	last := float64(len(in) - 1)
	out := make([]int16, 0, int(float64(len(in))/r.step)+1)
	p := r.phase
	for ; p <= last; p += r.step {
		i := int(math.Floor(p))
		frac := p - float64(i)
		s0, s1 := at(i), at(i)
		if i+1 < len(in) {
			s1 = in[i+1]
		}
		out = append(out, int16(float64(s0)*(1-frac)+float64(s1)*frac))
	}
	r.phase = p - float64(len(in))
	r.prev = in[len(in)-1]
	return out
}
