package store

import (
	"context"
	"sync"
	"time"

	"zerotrust/pkg/models"
)

// MemoryStore is an in-process Store for tests and single-node runs without
// Redis.
type MemoryStore struct {
	mu         sync.RWMutex
	events     map[string]*models.Event
	eventOrder []string
	sessions   map[string]*models.Session
	active     string
	anomalies  map[string]*models.AnomalyRecord
	anomOrder  []string
	corpus     []CorpusExample
	trust      map[string]*models.TrustState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:    make(map[string]*models.Event),
		sessions:  make(map[string]*models.Session),
		anomalies: make(map[string]*models.AnomalyRecord),
		trust:     make(map[string]*models.TrustState),
	}
}

func (m *MemoryStore) CreateEvent(ctx context.Context, ev *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	m.events[ev.ID] = &cp
	m.eventOrder = append(m.eventOrder, ev.ID)
	return nil
}

func (m *MemoryStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (m *MemoryStore) CorrectEvent(ctx context.Context, id string, anomalyFlag bool, trustDelta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return ErrNotFound
	}
	ev.AnomalyFlag = anomalyFlag
	ev.TrustDelta = trustDelta
	return nil
}

func (m *MemoryStore) CountEvents(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events), nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, sess *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *MemoryStore) CloseSession(ctx context.Context, id string, endedAt time.Time, modelVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.EndedAt = endedAt
	if modelVersion > 0 {
		sess.ModelVersion = modelVersion
	}
	return nil
}

func (m *MemoryStore) AcquireActive(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != "" {
		return false, nil
	}
	m.active = sessionID
	return true, nil
}

func (m *MemoryStore) ActiveSession(ctx context.Context) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == "" {
		return nil, nil
	}
	sess, ok := m.sessions[m.active]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (m *MemoryStore) ReleaseActive(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == sessionID {
		m.active = ""
	}
	return nil
}

func (m *MemoryStore) CreateAnomaly(ctx context.Context, rec *models.AnomalyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.anomalies[rec.ID] = &cp
	m.anomOrder = append(m.anomOrder, rec.ID)
	return nil
}

func (m *MemoryStore) GetAnomaly(ctx context.Context, id string) (*models.AnomalyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.anomalies[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) ResolveAnomaly(ctx context.Context, id, actor string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.anomalies[id]
	if !ok {
		return false, ErrNotFound
	}
	if rec.Resolved {
		return false, nil
	}
	rec.Resolved = true
	rec.ResolvedBy = actor
	rec.ResolvedAt = at
	return true, nil
}

func (m *MemoryStore) ListAnomalies(ctx context.Context, filter AnomalyFilter) ([]*models.AnomalyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.AnomalyRecord, 0, len(m.anomOrder))
	// Newest first.
	for i := len(m.anomOrder) - 1; i >= 0; i-- {
		rec := m.anomalies[m.anomOrder[i]]
		if filter.SessionID != "" && rec.SessionID != filter.SessionID {
			continue
		}
		if filter.Resolved != nil && rec.Resolved != *filter.Resolved {
			continue
		}
		cp := *rec
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) AppendCorpus(ctx context.Context, ex CorpusExample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corpus = append(m.corpus, ex)
	return nil
}

func (m *MemoryStore) ListCorpus(ctx context.Context) ([]CorpusExample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CorpusExample, len(m.corpus))
	copy(out, m.corpus)
	return out, nil
}

func (m *MemoryStore) RelabelCorpus(ctx context.Context, eventID string, label models.Label) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for i := range m.corpus {
		if m.corpus[i].EventID == eventID {
			m.corpus[i].Label = label
			found = true
		}
	}
	return found, nil
}

func (m *MemoryStore) CountCorpus(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.corpus), nil
}

func (m *MemoryStore) SaveTrustState(ctx context.Context, st *models.TrustState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *st
	cp.History = append([]models.TrustSample(nil), st.History...)
	m.trust[st.SessionID] = &cp
	return nil
}

func (m *MemoryStore) GetTrustState(ctx context.Context, sessionID string) (*models.TrustState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.trust[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	cp.History = append([]models.TrustSample(nil), st.History...)
	return &cp, nil
}

func (m *MemoryStore) ArchiveTrustState(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.trust[sessionID]
	if !ok {
		return ErrNotFound
	}
	st.Archived = true
	return nil
}

func (m *MemoryStore) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make(map[string]*models.Event)
	m.eventOrder = nil
	m.sessions = make(map[string]*models.Session)
	m.active = ""
	m.anomalies = make(map[string]*models.AnomalyRecord)
	m.anomOrder = nil
	m.corpus = nil
	m.trust = make(map[string]*models.TrustState)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
