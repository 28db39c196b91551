package models

import "time"

// Mode is the engagement mode a session runs in.
type Mode string

const (
	ModeTraining Mode = "training"
	ModeLive     Mode = "live"
)

// Session is one training or live engagement window.
type Session struct {
	ID           string    `json:"id"`
	Mode         Mode      `json:"mode"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at,omitempty"`
	ModelVersion int       `json:"model_version,omitempty"`
}

// Open reports whether the session has not been closed yet.
func (s *Session) Open() bool {
	return s != nil && s.EndedAt.IsZero()
}

// Label classifies a training corpus example.
type Label string

const (
	LabelNormal    Label = "normal"
	LabelAnomalous Label = "anomalous"
	LabelUnknown   Label = "unknown"
)
