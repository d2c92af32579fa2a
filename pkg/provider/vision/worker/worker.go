// Package worker implements every vision capability over an external model
// process, typically a Python script hosting MediaPipe Face Mesh, an emotion
// network and a gender detector.
//
// The process reads requests on stdin and writes responses on stdout. Each
// message is a big-endian uint32 length followed by that many bytes of JSON:
//
//	request:  {"op": "ping"|"landmarks"|"emotion"|"gender"|"faces", "image": "<base64 JPEG>"}
//	response: {"error": "...", "face_count": 1, "faces": [[[x, y], ...]], ...}
//
// A started process must answer a ping once its models are loaded; until then
// every call fails fast with [ErrWarmingUp]. One request is in flight at a
// time. A request that outlives its context kills the process and a fresh one
// is started in the background under its own startup timeout.
package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/MrWong99/vigil/pkg/provider/vision"
)

// Operation names understood by the worker process.
const (
	OpPing      = "ping"
	OpLandmarks = "landmarks"
	OpEmotion   = "emotion"
	OpGender    = "gender"
	OpFaces     = "faces"
)

// MaxMessageSize bounds a single response body.
const MaxMessageSize = 16 << 20

// ErrClosed is returned after [Client.Close] or when the process died and
// cannot be restarted.
var ErrClosed = errors.New("worker: closed")

// ErrWarmingUp is returned while a process is starting and has not answered
// its ping yet. It wraps [vision.ErrNotReady].
var ErrWarmingUp = fmt.Errorf("worker: warming up: %w", vision.ErrNotReady)

// DefaultStartupTimeout bounds how long a fresh process may take to answer
// its first ping.
const DefaultStartupTimeout = 60 * time.Second

// restartBackoff delays the next start attempt after a process failed to
// start or to become ready.
var restartBackoff = time.Second

// Face mesh indices of the canonical points, in MediaPipe's 468-point
// topology.
const (
	idxEyeCorner = 33
	idxUpperLip  = 13
	idxLowerLip  = 14
	idxChin      = 152
	idxForehead  = 10
)

// Request is one message sent to the process.
type Request struct {
	Op    string `json:"op"`
	Image string `json:"image"`
}

// Response is one message read from the process. Only the fields of the
// requested op are populated.
type Response struct {
	Error string `json:"error,omitempty"`

	// landmarks
	FaceCount int            `json:"face_count"`
	Faces     [][][2]float64 `json:"faces,omitempty"`

	// emotion
	Emotions map[string]float64 `json:"emotions,omitempty"`
	Dominant string             `json:"dominant,omitempty"`

	// gender
	Genders []Detection `json:"genders,omitempty"`

	// faces: x, y, width, height in pixels of the sent image
	Boxes [][4]int `json:"boxes,omitempty"`
}

// Detection is one labelled gender detection.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type proc struct {
	in  io.WriteCloser
	out io.ReadCloser
	cmd *exec.Cmd
}

func (p *proc) close(kill bool) error {
	errIn := p.in.Close()
	if kill && p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	errOut := p.out.Close()
	if p.cmd != nil {
		// Exit status after a kill or closed stdin is expected.
		_ = p.cmd.Wait()
	}
	return errors.Join(errIn, errOut)
}

// Option configures a [Client].
type Option func(*Client)

// WithMaxWidth downscales frames wider than w before sending them. Zero sends
// frames at full size.
func WithMaxWidth(w int) Option {
	return func(c *Client) { c.maxWidth = w }
}

// WithQuality sets the JPEG quality used to encode frames. Default 85.
func WithQuality(q int) Option {
	return func(c *Client) {
		if q > 0 && q <= 100 {
			c.quality = q
		}
	}
}

// WithStartupTimeout sets how long a fresh process may take to answer its
// first ping. Default [DefaultStartupTimeout].
func WithStartupTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.startupTimeout = d
		}
	}
}

// Client owns one worker process. It is safe for concurrent use; calls are
// serialised on the process pipes.
type Client struct {
	maxWidth       int
	quality        int
	startupTimeout time.Duration
	spawn          func() (*proc, error)

	// life is cancelled by Close and aborts a pending startup handshake.
	life   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	p       *proc
	warming bool
	retryAt time.Time
	closed  bool
}

// Start launches name with args and returns a client talking to it. The
// process inherits the parent's stderr so its tracebacks reach the log.
func Start(name string, args []string, opts ...Option) (*Client, error) {
	spawn := func() (*proc, error) {
		cmd := exec.Command(name, args...)
		in, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("worker: stdin pipe: %w", err)
		}
		out, err := cmd.StdoutPipe()
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("worker: stdout pipe: %w", err)
		}
		cmd.Stderr = slogWriter{name: name}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("worker: start %s: %w", name, err)
		}
		slog.Info("vision worker started", "cmd", name, "pid", cmd.Process.Pid)
		return &proc{in: in, out: out, cmd: cmd}, nil
	}
	c := newClient(spawn, opts)
	p, err := spawn()
	if err != nil {
		c.cancel()
		return nil, err
	}
	c.mu.Lock()
	c.warming = true
	c.mu.Unlock()
	go c.warm(p)
	return c, nil
}

// NewClient talks to an already running peer over in and out. The client
// cannot restart it.
func NewClient(in io.WriteCloser, out io.ReadCloser, opts ...Option) *Client {
	c := newClient(nil, opts)
	c.p = &proc{in: in, out: out}
	return c
}

func newClient(spawn func() (*proc, error), opts []Option) *Client {
	c := &Client{quality: 85, startupTimeout: DefaultStartupTimeout, spawn: spawn}
	c.life, c.cancel = context.WithCancel(context.Background())
	for _, o := range opts {
		o(c)
	}
	return c
}

// restart starts a replacement process in the background. The caller holds
// c.mu.
func (c *Client) restart() {
	if c.spawn == nil || c.warming || c.closed {
		return
	}
	c.warming = true
	go func() {
		p, err := c.spawn()
		if err != nil {
			slog.Warn("vision worker restart failed", "err", err)
			c.mu.Lock()
			c.warming = false
			c.retryAt = time.Now().Add(restartBackoff)
			c.mu.Unlock()
			return
		}
		c.warm(p)
	}()
}

// warm waits for p to answer a ping and installs it as the current process.
func (c *Client) warm(p *proc) {
	ctx, cancel := context.WithTimeout(c.life, c.startupTimeout)
	defer cancel()
	err := ping(ctx, p)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.warming = false
	switch {
	case c.closed:
		_ = p.close(true)
	case err != nil:
		_ = p.close(true)
		c.retryAt = time.Now().Add(restartBackoff)
		slog.Warn("vision worker did not become ready, process killed", "err", err)
	default:
		c.p = p
		slog.Info("vision worker ready")
	}
}

// ping performs the startup handshake on p.
func ping(ctx context.Context, p *proc) error {
	body, err := json.Marshal(Request{Op: OpPing})
	if err != nil {
		return err
	}
	done := make(chan exchangeResult, 1)
	go func() {
		raw, err := exchange(p.in, p.out, body)
		done <- exchangeResult{raw, err}
	}()
	select {
	case res := <-done:
		if res.err != nil {
			return fmt.Errorf("ping: %w", res.err)
		}
		var resp Response
		if err := json.Unmarshal(res.raw, &resp); err != nil {
			return fmt.Errorf("ping: decode response: %w", err)
		}
		if resp.Error != "" {
			return fmt.Errorf("ping: %s", resp.Error)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ping: %w", ctx.Err())
	}
}

// Close stops the process.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	if c.p == nil {
		return nil
	}
	err := c.p.close(false)
	c.p = nil
	return err
}

// Do sends one request and waits for the response. A response carrying an
// error message is returned as an error; the process stays up. While a
// process is starting Do returns [ErrWarmingUp] without waiting.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("worker: encode request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Response{}, ErrClosed
	}
	if c.warming {
		return Response{}, ErrWarmingUp
	}
	if c.p == nil {
		if c.spawn == nil {
			return Response{}, ErrClosed
		}
		if time.Now().After(c.retryAt) {
			c.restart()
		}
		return Response{}, ErrWarmingUp
	}

	p := c.p
	done := make(chan exchangeResult, 1)
	go func() {
		raw, err := exchange(p.in, p.out, body)
		done <- exchangeResult{raw, err}
	}()

	var res exchangeResult
	select {
	case res = <-done:
	case <-ctx.Done():
		// The pipe is mid-message; only a fresh process can resync it.
		_ = p.close(true)
		c.p = nil
		c.restart()
		slog.Warn("vision worker timed out, process killed", "op", req.Op)
		return Response{}, fmt.Errorf("worker: %s: %w", req.Op, ctx.Err())
	}
	if res.err != nil {
		_ = p.close(true)
		c.p = nil
		c.restart()
		return Response{}, fmt.Errorf("worker: %s: %w", req.Op, res.err)
	}

	var resp Response
	if err := json.Unmarshal(res.raw, &resp); err != nil {
		return Response{}, fmt.Errorf("worker: %s: decode response: %w", req.Op, err)
	}
	if resp.Error != "" {
		return Response{}, fmt.Errorf("worker: %s: %s", req.Op, resp.Error)
	}
	return resp, nil
}

type exchangeResult struct {
	raw []byte
	err error
}

// exchange writes one length-prefixed message and reads one back.
func exchange(w io.Writer, r io.Reader, body []byte) ([]byte, error) {
	if err := binary.Write(w, binary.BigEndian, uint32(len(body))); err != nil {
		return nil, err
	}
	if _, err := w.Write(body); err != nil {
		return nil, err
	}

	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > MaxMessageSize {
		return nil, fmt.Errorf("response of %d bytes exceeds limit", n)
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// encode returns img as base64 JPEG and the factor that maps coordinates in
// the sent image back to img.
func (c *Client) encode(img image.Image) (string, float64, error) {
	b := img.Bounds()
	scale := 1.0
	if c.maxWidth > 0 && b.Dx() > c.maxWidth {
		h := b.Dy() * c.maxWidth / b.Dx()
		if h < 1 {
			h = 1
		}
		scale = float64(b.Dx()) / float64(c.maxWidth)
		img = vision.Resize(img, c.maxWidth, h)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return "", 0, fmt.Errorf("worker: encode frame: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), scale, nil
}

func (c *Client) send(ctx context.Context, op string, img image.Image) (Response, float64, error) {
	payload, scale, err := c.encode(img)
	if err != nil {
		return Response{}, 0, err
	}
	resp, err := c.Do(ctx, Request{Op: op, Image: payload})
	return resp, scale, err
}

// slogWriter forwards the process's stderr lines to the default logger.
type slogWriter struct{ name string }

func (w slogWriter) Write(p []byte) (int, error) {
	for line := range bytes.Lines(p) {
		if line = bytes.TrimSpace(line); len(line) > 0 {
			slog.Debug("vision worker", "cmd", w.name, "stderr", string(line))
		}
	}
	return len(p), nil
}
