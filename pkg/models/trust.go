package models

import "time"

// TrustSample is one point in a session's trust history.
type TrustSample struct {
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
	Change    float64   `json:"change"`
	Reason    string    `json:"reason"`
	EventID   string    `json:"event_id,omitempty"`
}

// TrustState is the running trust value for one live session.
type TrustState struct {
	SessionID string        `json:"session_id"`
	Score     float64       `json:"score"`
	History   []TrustSample `json:"history"`
	Archived  bool          `json:"archived,omitempty"`
}
