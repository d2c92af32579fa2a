package wavfile_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/vigil/pkg/audio"
	"github.com/MrWong99/vigil/pkg/audio/wavfile"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeWAV encodes samples into a temporary WAV file and returns its path.
func writeWAV(t *testing.T, rate, channels int, samples []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{SampleRate: rate, NumChannels: channels},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

func TestOpen_ChunksMono16k(t *testing.T) {
	t.Parallel()
	// 50 ms of 16 kHz mono = 2 full 20 ms chunks plus a partial one.
	samples := make([]int, 800)
	for i := range samples {
		samples[i] = 1000
	}
	path := writeWAV(t, 16000, 1, samples)

	src, err := wavfile.Open(path, audio.SourceConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if src.Len() != 2 {
		t.Fatalf("Len = %d, want 2", src.Len())
	}

	for i := range 2 {
		f, err := src.Read()
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		if len(f.Data) != 640 || f.SampleRate != 16000 || f.Channels != 1 {
			t.Errorf("frame %d: %d bytes %dHz %dch", i, len(f.Data), f.SampleRate, f.Channels)
		}
		if f.Timestamp != time.Duration(i)*20*time.Millisecond {
			t.Errorf("frame %d timestamp = %v", i, f.Timestamp)
		}
	}
	if _, err := src.Read(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after last chunk, got %v", err)
	}
}

func TestOpen_StereoResampled(t *testing.T) {
	t.Parallel()
	// 40 ms of 48 kHz stereo → 2 chunks of 16 kHz mono.
	samples := make([]int, 1920*2)
	path := writeWAV(t, 48000, 2, samples)

	src, err := wavfile.Open(path, audio.SourceConfig{SampleRate: 16000, FrameMs: 20})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if src.Len() != 2 {
		t.Errorf("Len = %d, want 2", src.Len())
	}
}

func TestDecode_Invalid(t *testing.T) {
	t.Parallel()
	_, err := wavfile.Decode(bytes.NewReader([]byte("not a wav file at all")), audio.SourceConfig{})
	if err == nil {
		t.Fatal("expected error for invalid WAV")
	}
}

func TestClose_ReadFails(t *testing.T) {
	t.Parallel()
	path := writeWAV(t, 16000, 1, make([]int, 320))
	src, err := wavfile.Open(path, audio.SourceConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = src.Close()
	if _, err := src.Read(); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
