package trust

import (
	"context"
	"errors"
	"sync"
	"time"

	"zerotrust/internal/logger"
	"zerotrust/internal/metrics"
	"zerotrust/internal/notify"
	"zerotrust/internal/store"
	"zerotrust/pkg/models"
)

// ErrNoSession is returned when trust arithmetic is requested outside an
// active live session.
var ErrNoSession = errors.New("no active trust session")

// Config controls trust arithmetic.
type Config struct {
	InitialScore      float64
	CriticalThreshold float64
	SeverityWeights   map[models.EventType]float64
}

// DefaultSeverityWeights weighs credential and privilege impacting types
// above routine activity.
func DefaultSeverityWeights() map[models.EventType]float64 {
	return map[models.EventType]float64{
		models.AuthFailure:       25,
		models.SudoCommand:       20,
		models.NetworkConnection: 15,
		models.FileChange:        10,
		models.ProcessStart:      10,
		models.Login:             5,
		models.Logout:            5,
		models.ProcessEnd:        5,
	}
}

// Engine maintains the bounded trust value for the current live session.
// All score mutation is serialized; the critical alert is edge-triggered on
// the downward crossing only.
type Engine struct {
	cfg      Config
	store    store.Store
	notifier notify.Broadcaster

	mu            sync.Mutex
	state         *models.TrustState
	belowCritical bool
	now           func() time.Time
}

// NewEngine creates a trust engine with no active session.
func NewEngine(cfg Config, st store.Store, notifier notify.Broadcaster) *Engine {
	if cfg.InitialScore <= 0 {
		cfg.InitialScore = 100
	}
	if cfg.CriticalThreshold <= 0 {
		cfg.CriticalThreshold = 20
	}
	if len(cfg.SeverityWeights) == 0 {
		cfg.SeverityWeights = DefaultSeverityWeights()
	}
	if notifier == nil {
		notifier = notify.NoopBroadcaster{}
	}
	return &Engine{
		cfg:      cfg,
		store:    st,
		notifier: notifier,
		now:      time.Now,
	}
}

// StartSession creates the TrustState for a new live session at full score.
func (e *Engine) StartSession(ctx context.Context, sessionID string) (*models.TrustState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := &models.TrustState{
		SessionID: sessionID,
		Score:     e.cfg.InitialScore,
		History: []models.TrustSample{{
			Timestamp: e.now(),
			Score:     e.cfg.InitialScore,
			Reason:    "session_start",
		}},
	}
	if err := e.store.SaveTrustState(ctx, st); err != nil {
		return nil, err
	}
	e.state = st
	e.belowCritical = false
	metrics.TrustScore.Set(st.Score)
	return st, nil
}

// Deduct applies a confidence-weighted deduction for an anomalous event and
// returns the deduction amount and whether the critical threshold was crossed
// by this deduction.
func (e *Engine) Deduct(ctx context.Context, ev *models.Event, confidence float64) (float64, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil || e.state.SessionID != ev.SessionID {
		return 0, false, ErrNoSession
	}

	weight, ok := e.cfg.SeverityWeights[ev.Type]
	if !ok {
		weight = 5
	}
	deduction := confidence * weight
	if deduction > weight {
		deduction = weight
	}
	if deduction < 0 {
		deduction = 0
	}

	newScore := clamp(e.state.Score - deduction)
	change := newScore - e.state.Score
	ev.TrustDelta = -deduction
	e.state.Score = newScore
	e.state.History = append(e.state.History, models.TrustSample{
		Timestamp: e.now(),
		Score:     newScore,
		Change:    change,
		Reason:    "anomaly_" + string(ev.Type),
		EventID:   ev.ID,
	})

	crossed := false
	if newScore < e.cfg.CriticalThreshold && !e.belowCritical {
		e.belowCritical = true
		crossed = true
		logger.Warnf("Trust score critical: %.2f < %.2f (session %s)", newScore, e.cfg.CriticalThreshold, ev.SessionID)
	}

	if err := e.store.SaveTrustState(ctx, e.state); err != nil {
		return deduction, crossed, err
	}
	metrics.TrustScore.Set(newScore)
	e.notifier.TrustUpdated(ev.SessionID, newScore, change)
	return deduction, crossed, nil
}

// Restore credits back a previously deducted amount after an operator marks
// the anomaly normal. The credit only applies to the session the deduction
// was taken from; resolving an anomaly from an earlier session restores 0.
func (e *Engine) Restore(ctx context.Context, sessionID, eventID string, amount float64) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		return 0, ErrNoSession
	}
	if e.state.SessionID != sessionID {
		return 0, nil
	}
	if amount <= 0 {
		return 0, nil
	}

	newScore := clamp(e.state.Score + amount)
	change := newScore - e.state.Score
	e.state.Score = newScore
	e.state.History = append(e.state.History, models.TrustSample{
		Timestamp: e.now(),
		Score:     newScore,
		Change:    change,
		Reason:    "operator_restore",
		EventID:   eventID,
	})

	if newScore >= e.cfg.CriticalThreshold {
		// Re-arm the critical alert for the next downward crossing.
		e.belowCritical = false
	}

	if err := e.store.SaveTrustState(ctx, e.state); err != nil {
		return amount, err
	}
	metrics.TrustScore.Set(newScore)
	e.notifier.TrustUpdated(e.state.SessionID, newScore, change)
	return amount, nil
}

// Score returns the current trust score, or the configured initial score
// when no live session is active.
func (e *Engine) Score() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return e.cfg.InitialScore
	}
	return e.state.Score
}

// History returns up to limit most recent samples, all when limit <= 0.
func (e *Engine) History(limit int) []models.TrustSample {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil
	}
	history := e.state.History
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]models.TrustSample, len(history))
	copy(out, history)
	return out
}

// Summary returns min, max and mean of the recorded score samples for the
// current session. Zeroes when no session is active.
func (e *Engine) Summary() (min, max, avg float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil || len(e.state.History) == 0 {
		return 0, 0, 0
	}
	min = e.state.History[0].Score
	max = min
	sum := 0.0
	for _, sample := range e.state.History {
		if sample.Score < min {
			min = sample.Score
		}
		if sample.Score > max {
			max = sample.Score
		}
		sum += sample.Score
	}
	return min, max, sum / float64(len(e.state.History))
}

// EndSession archives the trust state and detaches it from the engine.
func (e *Engine) EndSession(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil
	}
	sessionID := e.state.SessionID
	e.state = nil
	e.belowCritical = false
	metrics.TrustScore.Set(e.cfg.InitialScore)
	return e.store.ArchiveTrustState(ctx, sessionID)
}

// Reset drops any in-memory trust state without touching the store.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = nil
	e.belowCritical = false
	metrics.TrustScore.Set(e.cfg.InitialScore)
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
