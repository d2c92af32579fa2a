// Package server exposes the interview control API over HTTP and mounts the
// streaming channel, health endpoints and metrics on one mux.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/vigil/internal/detector"
	"github.com/MrWong99/vigil/internal/health"
	"github.com/MrWong99/vigil/internal/observe"
	"github.com/MrWong99/vigil/internal/stream"
)

// Detector is the detector surface the control API drives.
type Detector interface {
	stream.Core
	Snapshot(ctx context.Context) detector.Snapshot
	CaptureReference(ctx context.Context) error
	Active() bool
}

// Config wires the server's collaborators. Detector and Stream are required.
type Config struct {
	Detector Detector
	Stream   *stream.Handler

	// Health, when set, serves /healthz and /readyz.
	Health *health.Handler

	// MetricsHandler, when set, serves /metrics.
	MetricsHandler http.Handler

	Metrics *observe.Metrics

	// AudioInitialized and ModelLoaded feed the /health document. Nil means
	// false.
	AudioInitialized func() bool
	ModelLoaded      func() bool

	// Origins is the initial CORS allowlist.
	Origins []string

	Now func() time.Time
}

// Server is the HTTP front of the detection service.
type Server struct {
	cfg  Config
	cors *CORS
}

// New validates cfg and returns a server.
func New(cfg Config) (*Server, error) {
	if cfg.Detector == nil || cfg.Stream == nil {
		return nil, errors.New("server: detector and stream handler are required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Server{cfg: cfg, cors: NewCORS(cfg.Origins)}, nil
}

// SetOrigins replaces the CORS and websocket origin allowlists.
func (s *Server) SetOrigins(origins []string) {
	s.cors.SetOrigins(origins)
	s.cfg.Stream.SetOrigins(origins)
}

// Handler returns the root handler with CORS, panic recovery and request
// instrumentation applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /start_interview", s.startInterview)
	mux.HandleFunc("POST /stop_interview", s.stopInterview)
	mux.HandleFunc("POST /end_interview", s.stopInterview)
	mux.HandleFunc("POST /set_reference_face", s.setReferenceFace)
	mux.HandleFunc("GET /health", s.healthDoc)
	mux.HandleFunc("GET /stats", s.stats)
	mux.HandleFunc("GET /{$}", s.info)
	mux.Handle("GET /ws", s.cfg.Stream)
	if s.cfg.Health != nil {
		s.cfg.Health.Register(mux)
	}
	if s.cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.cfg.MetricsHandler)
	}

	var h http.Handler = mux
	h = observe.Middleware(s.cfg.Metrics)(h)
	h = s.cors.Wrap(h)
	h = recoverer(h)
	return h
}

// ─── Control endpoints ───────────────────────────────────────────────────────

type startResponse struct {
	Status          string  `json:"status"`
	Message         string  `json:"message"`
	RoomID          string  `json:"room_id"`
	SessionID       string  `json:"session_id"`
	Timestamp       float64 `json:"timestamp"`
	DetectionActive bool    `json:"detection_active"`
}

type stopResponse struct {
	Status     string           `json:"status"`
	Message    string           `json:"message"`
	Timestamp  float64          `json:"timestamp"`
	FinalStats detector.Summary `json:"final_stats"`
}

type statusResponse struct {
	Status    string  `json:"status"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

func (s *Server) startInterview(w http.ResponseWriter, r *http.Request) {
	sess := s.cfg.Detector.Start(r.Context())
	observe.Logger(r.Context()).Info("interview started", "session_id", sess.ID, "room_id", sess.RoomID)
	writeJSON(w, http.StatusOK, startResponse{
		Status:          "success",
		Message:         "Interview started successfully",
		RoomID:          sess.RoomID,
		SessionID:       sess.ID,
		Timestamp:       s.timestamp(),
		DetectionActive: true,
	})
}

func (s *Server) stopInterview(w http.ResponseWriter, r *http.Request) {
	sum := s.cfg.Detector.Stop(r.Context())
	observe.Logger(r.Context()).Info("interview stopped",
		"eye_movements", sum.TotalEyeMovements,
		"final_mood", sum.FinalMood,
		"face_alerts", sum.FaceAlertsDetected,
		"speech", sum.SpeechDetected,
	)
	writeJSON(w, http.StatusOK, stopResponse{
		Status:     "success",
		Message:    "Interview stopped successfully",
		Timestamp:  s.timestamp(),
		FinalStats: sum,
	})
}

func (s *Server) setReferenceFace(w http.ResponseWriter, r *http.Request) {
	err := s.cfg.Detector.CaptureReference(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, statusResponse{
			Status:    "success",
			Message:   "Reference face set successfully",
			Timestamp: s.timestamp(),
		})
	case errors.Is(err, detector.ErrNoFrame):
		writeJSON(w, http.StatusConflict, statusResponse{
			Status:    "error",
			Message:   "Failed to set reference face - no video frame received yet",
			Timestamp: s.timestamp(),
		})
	case errors.Is(err, detector.ErrNoFace):
		writeJSON(w, http.StatusConflict, statusResponse{
			Status:    "error",
			Message:   "Failed to set reference face - no face detected in current frame",
			Timestamp: s.timestamp(),
		})
	default:
		observe.Logger(r.Context()).Error("reference capture failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, statusResponse{
			Status:    "error",
			Message:   fmt.Sprintf("Error setting reference face: %v", err),
			Timestamp: s.timestamp(),
		})
	}
}

// ─── Read-only endpoints ─────────────────────────────────────────────────────

type healthResponse struct {
	Status            string  `json:"status"`
	Message           string  `json:"message"`
	InterviewActive   bool    `json:"interview_active"`
	ActiveConnections int     `json:"active_connections"`
	AudioInitialized  bool    `json:"audio_initialized"`
	ModelLoaded       bool    `json:"model_loaded"`
	Timestamp         float64 `json:"timestamp"`
}

func (s *Server) healthDoc(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:            "healthy",
		Message:           "Detection API is running",
		InterviewActive:   s.cfg.Detector.Active(),
		ActiveConnections: s.cfg.Stream.Connections(),
		AudioInitialized:  call(s.cfg.AudioInitialized),
		ModelLoaded:       call(s.cfg.ModelLoaded),
		Timestamp:         s.timestamp(),
	})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Detector.Snapshot(r.Context()))
}

type infoResponse struct {
	Message     string            `json:"message"`
	Description string            `json:"description"`
	Endpoints   map[string]string `json:"endpoints"`
	Features    []string          `json:"features"`
}

var serviceInfo = infoResponse{
	Message:     "vigil interview detection API",
	Description: "Real-time interview monitoring from fused video and audio signals",
	Endpoints: map[string]string{
		"start_interview":    "POST /start_interview",
		"stop_interview":     "POST /stop_interview",
		"end_interview":      "POST /end_interview",
		"set_reference_face": "POST /set_reference_face",
		"health":             "GET /health",
		"stats":              "GET /stats",
		"healthz":            "GET /healthz",
		"readyz":             "GET /readyz",
		"metrics":            "GET /metrics",
		"websocket":          "WS /ws",
	},
	Features: []string{
		"Face detection and counting",
		"Eye movement tracking",
		"Gender detection",
		"Emotion/mood analysis",
		"Speech detection",
		"Background voice detection",
		"Lip sync analysis",
		"Face verification",
		"Real-time WebSocket streaming",
	},
}

func (s *Server) info(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, serviceInfo)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (s *Server) timestamp() float64 {
	return float64(s.cfg.Now().UnixNano()) / 1e9
}

func call(fn func() bool) bool {
	return fn != nil && fn()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				observe.Logger(r.Context()).Error("panic in handler", "panic", v, "path", r.URL.Path)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
