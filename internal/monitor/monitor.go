package monitor

import (
	"context"
	"fmt"

	"zerotrust/internal/feature"
	"zerotrust/internal/feedback"
	"zerotrust/internal/logger"
	"zerotrust/internal/pipeline"
	"zerotrust/internal/scorer"
	"zerotrust/internal/session"
	"zerotrust/internal/store"
	"zerotrust/internal/trust"
	"zerotrust/pkg/models"
)

// Monitor is the operator-facing surface of the engine. It composes the
// session manager, pipeline, trust engine and feedback loop behind one API.
type Monitor struct {
	sessions  *session.Manager
	pipeline  *pipeline.Pipeline
	scorer    *scorer.Scorer
	trust     *trust.Engine
	feedback  *feedback.Loop
	extractor *feature.Extractor
	store     store.Store
}

// New composes a monitor from its collaborators.
func New(sessions *session.Manager, pipe *pipeline.Pipeline, sc *scorer.Scorer, tr *trust.Engine, fb *feedback.Loop, ex *feature.Extractor, st store.Store) *Monitor {
	return &Monitor{
		sessions:  sessions,
		pipeline:  pipe,
		scorer:    sc,
		trust:     tr,
		feedback:  fb,
		extractor: ex,
		store:     st,
	}
}

// StartTraining begins collecting baseline behavior.
func (m *Monitor) StartTraining(ctx context.Context) (*models.Session, error) {
	return m.sessions.StartTraining(ctx)
}

// StopTraining ends collection and builds the model from the corpus.
func (m *Monitor) StopTraining(ctx context.Context) (*models.Session, error) {
	return m.sessions.StopTraining(ctx)
}

// StartLive begins scoring incoming events against the trained model.
func (m *Monitor) StartLive(ctx context.Context) (*models.Session, error) {
	return m.sessions.StartLive(ctx)
}

// StopLive ends live scoring and archives the session trust state.
func (m *Monitor) StopLive(ctx context.Context) (*models.Session, error) {
	return m.sessions.StopLive(ctx)
}

// Ingest processes one raw event under the current mode.
func (m *Monitor) Ingest(ctx context.Context, raw *pipeline.RawEvent) (*models.Event, error) {
	return m.pipeline.Ingest(ctx, raw)
}

// TrustScore returns the current trust value.
func (m *Monitor) TrustScore() float64 {
	return m.trust.Score()
}

// TrustHistory returns up to limit most recent trust samples.
func (m *Monitor) TrustHistory(limit int) []models.TrustSample {
	return m.trust.History(limit)
}

// Anomalies lists detected anomalies, newest first.
func (m *Monitor) Anomalies(ctx context.Context, filter store.AnomalyFilter) ([]*models.AnomalyRecord, error) {
	return m.store.ListAnomalies(ctx, filter)
}

// MarkNormal resolves an anomaly as confirmed normal behavior and returns
// the restored trust amount.
func (m *Monitor) MarkNormal(ctx context.Context, anomalyID, actor string) (float64, error) {
	return m.feedback.MarkNormal(ctx, anomalyID, actor)
}

// ResetAll drops every session, event, anomaly, corpus example and the
// trained model, returning the engine to first-run state.
func (m *Monitor) ResetAll(ctx context.Context) error {
	if err := m.sessions.ForceIdle(ctx); err != nil {
		return fmt.Errorf("release active session: %w", err)
	}
	if err := m.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	m.scorer.Invalidate()
	m.trust.Reset()
	m.extractor.Reset()
	logger.Infof("Engine reset to first-run state")
	return nil
}

// Status describes the current engine state.
type Status struct {
	Mode         string `json:"mode"`
	SessionID    string `json:"session_id,omitempty"`
	ModelState   string `json:"model_state"`
	ModelVersion int    `json:"model_version"`
}

// Status reports the active mode and model readiness.
func (m *Monitor) Status(ctx context.Context) (Status, error) {
	st := Status{
		Mode:         "idle",
		ModelState:   m.scorer.State().String(),
		ModelVersion: m.scorer.Version(),
	}
	active, err := m.sessions.Active(ctx)
	if err != nil {
		return st, err
	}
	if active != nil {
		st.Mode = string(active.Mode)
		st.SessionID = active.ID
	}
	return st, nil
}

// Stats summarizes stored volumes and the current trust value.
type Stats struct {
	Events              int     `json:"events"`
	CorpusSize          int     `json:"corpus_size"`
	Anomalies           int     `json:"anomalies"`
	UnresolvedAnomalies int     `json:"unresolved_anomalies"`
	TrustScore          float64 `json:"trust_score"`
	TrustMin            float64 `json:"trust_min"`
	TrustMax            float64 `json:"trust_max"`
	TrustAvg            float64 `json:"trust_avg"`
}

// Stats aggregates counters across the store.
func (m *Monitor) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	var err error

	if out.Events, err = m.store.CountEvents(ctx); err != nil {
		return out, err
	}
	if out.CorpusSize, err = m.store.CountCorpus(ctx); err != nil {
		return out, err
	}
	all, err := m.store.ListAnomalies(ctx, store.AnomalyFilter{})
	if err != nil {
		return out, err
	}
	out.Anomalies = len(all)
	for _, rec := range all {
		if !rec.Resolved {
			out.UnresolvedAnomalies++
		}
	}
	out.TrustScore = m.trust.Score()
	out.TrustMin, out.TrustMax, out.TrustAvg = m.trust.Summary()
	return out, nil
}
