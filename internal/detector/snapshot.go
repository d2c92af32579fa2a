package detector

import (
	"math"
	"time"
)

// Snapshot is the immutable detection record emitted once per tick.
type Snapshot struct {
	Faces            int                `json:"faces"`
	EyeMoves         int                `json:"eye_moves"`
	FaceAlert        string             `json:"face_alert"`
	Gender           string             `json:"gender"`
	Mood             string             `json:"mood"`
	BgVoice          bool               `json:"bg_voice"`
	LipSync          bool               `json:"lipsync"`
	Verification     VerificationStatus `json:"verification"`
	Speech           bool               `json:"speech"`
	SpeechConfidence float64            `json:"speech_confidence"`
	MouthRatio       float64            `json:"mouth_ratio"`
	InterviewActive  bool               `json:"interview_active"`
	Timestamp        float64            `json:"timestamp"`
}

// Time converts the timestamp back to a [time.Time].
func (s Snapshot) Time() time.Time {
	sec, frac := math.Modf(s.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// assemble builds a snapshot from the detector's state. hasFrame selects the
// waiting-for-feed form. The caller holds the tick lock.
func (d *Detector) assemble(hasFrame bool) Snapshot {
	s := Snapshot{
		Faces:            d.faces,
		EyeMoves:         d.eye.Movements(),
		FaceAlert:        d.alert,
		Gender:           d.gender,
		Mood:             d.mood.Current(),
		BgVoice:          d.lipsync.BgVoice,
		LipSync:          d.lipsync.Synced,
		Verification:     d.identity.Status(),
		Speech:           d.speech.Detected,
		SpeechConfidence: round(d.speech.Confidence, 3),
		MouthRatio:       round(d.lipsync.MouthRatio, 4),
		InterviewActive:  d.session.state == SessionActive,
		Timestamp:        unixSeconds(d.now()),
	}
	if !hasFrame {
		s.Faces = 0
		s.FaceAlert = AlertWaitingForFeed
		s.MouthRatio = 0
	}
	return s
}
