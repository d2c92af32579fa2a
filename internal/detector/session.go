package detector

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the interview state.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionActive
)

// String returns "idle" or "active".
func (s SessionState) String() string {
	if s == SessionActive {
		return "active"
	}
	return "idle"
}

// Session identifies one interview run.
type Session struct {
	ID        string    `json:"session_id"`
	RoomID    string    `json:"room_id"`
	StartedAt time.Time `json:"started_at"`
}

// Summary is returned when a session stops.
type Summary struct {
	TotalEyeMovements  int    `json:"total_eye_movements"`
	FinalMood          string `json:"final_mood"`
	FaceAlertsDetected bool   `json:"face_alerts_detected"`
	SpeechDetected     bool   `json:"speech_detected"`
}

// sessionMachine tracks the interview state and the per-session summary
// trackers. Guarded by the detector's tick lock.
type sessionMachine struct {
	state   SessionState
	current Session

	alertFired bool

	// speechBase is the worker's detection count when the session started.
	speechBase uint64
}

func (m *sessionMachine) start(now time.Time, speechDetections uint64) Session {
	m.state = SessionActive
	m.current = Session{
		ID:        uuid.NewString(),
		RoomID:    "room_" + uuid.NewString()[:8],
		StartedAt: now,
	}
	m.alertFired = false
	m.speechBase = speechDetections
	return m.current
}

func (m *sessionMachine) stop() Session {
	s := m.current
	m.state = SessionIdle
	m.current = Session{}
	return s
}

func (m *sessionMachine) noteAlert(alert string) {
	if alert != "" && m.state == SessionActive {
		m.alertFired = true
	}
}

func (m *sessionMachine) speechSince(detections uint64) bool {
	return detections > m.speechBase
}
