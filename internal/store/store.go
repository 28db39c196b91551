package store

import (
	"context"
	"errors"
	"time"

	"zerotrust/pkg/models"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// CorpusExample is one labeled training vector.
type CorpusExample struct {
	EventID   string           `json:"event_id"`
	EventType models.EventType `json:"event_type"`
	Vector    []float64        `json:"vector"`
	Label     models.Label     `json:"label"`
	CreatedAt time.Time        `json:"created_at"`
}

// AnomalyFilter narrows anomaly listings.
type AnomalyFilter struct {
	SessionID string
	Resolved  *bool
	Limit     int
}

// Store is the persistence collaborator. Implementations must give per-row
// atomicity; Event and AnomalyRecord writes are append-only except for the
// correction paths exposed here.
type Store interface {
	CreateEvent(ctx context.Context, ev *models.Event) error
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	// CorrectEvent rewrites the feedback-mutable fields of an event.
	CorrectEvent(ctx context.Context, id string, anomalyFlag bool, trustDelta float64) error
	CountEvents(ctx context.Context) (int, error)

	CreateSession(ctx context.Context, sess *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	CloseSession(ctx context.Context, id string, endedAt time.Time, modelVersion int) error
	// AcquireActive installs the active-session pointer if and only if no
	// pointer is currently installed.
	AcquireActive(ctx context.Context, sessionID string) (bool, error)
	// ActiveSession resolves the active pointer fresh from the store,
	// returning nil without error when the system is idle.
	ActiveSession(ctx context.Context) (*models.Session, error)
	ReleaseActive(ctx context.Context, sessionID string) error

	CreateAnomaly(ctx context.Context, rec *models.AnomalyRecord) error
	GetAnomaly(ctx context.Context, id string) (*models.AnomalyRecord, error)
	// ResolveAnomaly marks the record resolved if and only if it is still
	// unresolved, reporting whether this call made the transition.
	ResolveAnomaly(ctx context.Context, id, actor string, at time.Time) (bool, error)
	ListAnomalies(ctx context.Context, filter AnomalyFilter) ([]*models.AnomalyRecord, error)

	AppendCorpus(ctx context.Context, ex CorpusExample) error
	ListCorpus(ctx context.Context) ([]CorpusExample, error)
	// RelabelCorpus updates the label of the example derived from the given
	// event, reporting whether such an example existed.
	RelabelCorpus(ctx context.Context, eventID string, label models.Label) (bool, error)
	CountCorpus(ctx context.Context) (int, error)

	SaveTrustState(ctx context.Context, st *models.TrustState) error
	GetTrustState(ctx context.Context, sessionID string) (*models.TrustState, error)
	ArchiveTrustState(ctx context.Context, sessionID string) error

	// Reset hard-clears all rows and the active pointer.
	Reset(ctx context.Context) error

	Close() error
}
