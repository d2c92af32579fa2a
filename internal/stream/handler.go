// Package stream serves the bidirectional detection channel on /ws.
//
// Clients push video frames and session commands as JSON text messages; every
// frame is answered with exactly one detection snapshot. Malformed messages
// are answered with an error message and never close the connection.
package stream

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/MrWong99/vigil/internal/detector"
	"github.com/MrWong99/vigil/internal/observe"
	"github.com/MrWong99/vigil/pkg/provider/vision"
)

// DefaultReadLimit caps one websocket message when no limit is configured.
const DefaultReadLimit = 8 << 20

const writeTimeout = 5 * time.Second

// Core is the part of the detector the channel drives.
type Core interface {
	PutFrame(ctx context.Context, img image.Image)
	Tick(ctx context.Context) detector.Snapshot
	Start(ctx context.Context) detector.Session
	Stop(ctx context.Context) detector.Summary
}

// Handler upgrades requests to websocket connections and runs one read loop
// per connection.
type Handler struct {
	core      Core
	metrics   *observe.Metrics
	readLimit int64

	originHosts atomic.Pointer[[]string]
	conns       atomic.Int64
}

// Option configures a [Handler].
type Option func(*Handler)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithReadLimit caps the size of one client message in bytes.
func WithReadLimit(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.readLimit = n
		}
	}
}

// WithOrigins sets the browser origins allowed to connect.
func WithOrigins(origins []string) Option {
	return func(h *Handler) { h.SetOrigins(origins) }
}

// NewHandler returns a handler driving core.
func NewHandler(core Core, opts ...Option) *Handler {
	h := &Handler{core: core, readLimit: DefaultReadLimit}
	h.originHosts.Store(&[]string{})
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// SetOrigins replaces the allowed origins. Safe to call while serving.
// Requests without an Origin header and same-host requests are always allowed.
func (h *Handler) SetOrigins(origins []string) {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			slog.Warn("stream: ignoring malformed origin", "origin", o)
			continue
		}
		hosts = append(hosts, u.Host)
	}
	h.originHosts.Store(&hosts)
}

// Connections returns the number of open connections.
func (h *Handler) Connections() int {
	return int(h.conns.Load())
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: *h.originHosts.Load(),
	})
	if err != nil {
		// Accept has already written the HTTP error.
		observe.Logger(r.Context()).Warn("stream: upgrade rejected", "err", err, "origin", r.Header.Get("Origin"))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.readLimit)

	ctx := observe.WithConn(r.Context(), uuid.NewString())
	log := observe.Logger(ctx)

	total := h.conns.Add(1)
	h.metrics.ActiveConnections.Add(ctx, 1)
	log.Info("stream: connection opened", "connections", total)
	defer func() {
		remaining := h.conns.Add(-1)
		h.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)
		log.Info("stream: connection closed", "connections", remaining)
	}()

	if err := h.serve(ctx, conn, log); err != nil {
		log.Warn("stream: connection failed", "err", err)
		conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// serve runs the read loop. A nil return means the client went away.
func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, log *slog.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if closedByPeer(ctx, err) {
				return nil
			}
			return err
		}

		var reply any
		if typ != websocket.MessageText {
			reply = errorReply(unsupported("binary messages are not supported", ""))
		} else {
			reply = h.handle(ctx, data, log)
		}
		if reply == nil {
			continue
		}

		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err = wsjson.Write(wctx, conn, reply)
		cancel()
		if err != nil {
			if closedByPeer(ctx, err) {
				return nil
			}
			return err
		}
	}
}

func closedByPeer(ctx context.Context, err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return true
	}
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// handle dispatches one text message and returns the reply, or nil when the
// message expects none.
func (h *Handler) handle(ctx context.Context, data []byte, log *slog.Logger) any {
	msg, err := DecodeClientMessage(data)
	if err != nil {
		var de *DecodeError
		if !errors.As(err, &de) {
			de = badRequest(err.Error(), "")
		}
		log.Debug("stream: rejected message", "code", de.Code, "err", de)
		return errorReply(de)
	}

	switch m := msg.(type) {
	case ParticipantFrame:
		h.putImage(ctx, m.Image, log)
		return FrameReply{
			Snapshot:  h.core.Tick(ctx),
			RoomID:    m.RoomID,
			UserID:    m.UserID,
			SessionID: m.SessionID,
		}
	case LegacyFrame:
		h.putImage(ctx, m.Image, log)
		return h.core.Tick(ctx)
	case Command:
		switch m.Command {
		case CommandStartInterview:
			s := h.core.Start(ctx)
			log.Info("stream: interview started", "session_id", s.ID)
		case CommandStopInterview:
			sum := h.core.Stop(ctx)
			log.Info("stream: interview stopped", "eye_movements", sum.TotalEyeMovements, "final_mood", sum.FinalMood)
		}
		return nil
	}
	return nil
}

// putImage decodes and stores a frame. Undecodable payloads are logged and
// the tick runs on the previous frame.
func (h *Handler) putImage(ctx context.Context, payload string, log *slog.Logger) {
	if payload == "" {
		return
	}
	img, err := vision.DecodeImage(payload)
	if err != nil {
		log.Warn("stream: discarding undecodable frame", "err", err)
		return
	}
	h.core.PutFrame(ctx, img)
}
