package models

import "time"

// AnomalyRecord is the audit row for a flagged live event. Records are
// resolved by operator feedback but never deleted.
type AnomalyRecord struct {
	ID         string    `json:"id"`
	EventID    string    `json:"event_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Confidence float64   `json:"confidence"`
	Resolved   bool      `json:"resolved"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	RuleTags   []RuleTag `json:"rule_tags,omitempty"`

	// Vector is the feature vector the event was scored with, kept so a
	// feedback correction can be fed back into the corpus without
	// re-deriving window-dependent features.
	Vector []float64 `json:"vector,omitempty"`
}
