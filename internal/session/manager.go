package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"zerotrust/internal/logger"
	"zerotrust/internal/scorer"
	"zerotrust/internal/store"
	"zerotrust/internal/trust"
	"zerotrust/pkg/models"
)

var (
	// ErrModeConflict means a session of the other mode is already running.
	ErrModeConflict = errors.New("session of another mode is active")
	// ErrAlreadyActive means a session of the requested mode is already running.
	ErrAlreadyActive = errors.New("session already active")
	// ErrModelNotReady means live mode was requested before a model was trained.
	ErrModelNotReady = errors.New("model not trained")
	// ErrNoActiveSession means a stop was requested while idle.
	ErrNoActiveSession = errors.New("no active session")
	// ErrTrainingIncomplete means the training session closed without enough
	// examples to build a model.
	ErrTrainingIncomplete = errors.New("training session ended with insufficient data")
)

// Manager owns session lifecycle transitions. Transitions take the write side
// of the engagement lock so that every in-flight ingestion observes either the
// old session or the new one, never a half-closed state.
type Manager struct {
	store    store.Store
	scorer   *scorer.Scorer
	trust    *trust.Engine
	notifier sessionNotifier

	mu         sync.Mutex
	engagement sync.RWMutex
}

type sessionNotifier interface {
	SessionChanged(sess *models.Session, status string)
}

type noopNotifier struct{}

func (noopNotifier) SessionChanged(*models.Session, string) {}

// NewManager wires a session manager over the given store and engines.
func NewManager(st store.Store, sc *scorer.Scorer, tr *trust.Engine, notifier sessionNotifier) *Manager {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Manager{store: st, scorer: sc, trust: tr, notifier: notifier}
}

// StartTraining opens a new training session. Fails if any session is active.
func (m *Manager) StartTraining(ctx context.Context) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.start(ctx, models.ModeTraining)
}

// StartLive opens a new live session. Requires a trained model and no active
// session of either mode.
func (m *Manager) StartLive(ctx context.Context) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.scorer.Trained() {
		return nil, ErrModelNotReady
	}
	sess, err := m.start(ctx, models.ModeLive)
	if err != nil {
		return nil, err
	}
	sess.ModelVersion = m.scorer.Version()
	if _, err := m.trust.StartSession(ctx, sess.ID); err != nil {
		m.store.ReleaseActive(ctx, sess.ID)
		m.closeWithoutModel(ctx, sess.ID)
		return nil, fmt.Errorf("initialize trust state: %w", err)
	}
	return sess, nil
}

func (m *Manager) start(ctx context.Context, mode models.Mode) (*models.Session, error) {
	active, err := m.store.ActiveSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("look up active session: %w", err)
	}
	if active != nil {
		if active.Mode == mode {
			return nil, ErrAlreadyActive
		}
		return nil, ErrModeConflict
	}

	sess := &models.Session{
		ID:        uuid.NewString(),
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	acquired, err := m.store.AcquireActive(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("acquire active session: %w", err)
	}
	if !acquired {
		// Lost the race to a concurrent start; the loser's row must not
		// stay open.
		m.closeWithoutModel(ctx, sess.ID)
		return nil, ErrAlreadyActive
	}

	logger.Infof("Session %s started in %s mode", sess.ID, mode)
	m.notifier.SessionChanged(sess, "started")
	return sess, nil
}

// StopTraining closes the training session, drains in-flight events and
// trains the model from the collected corpus. When the corpus is too small
// the session still closes but the model stays untrained.
func (m *Manager) StopTraining(ctx context.Context) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.stop(ctx, models.ModeTraining)
	if err != nil {
		return nil, err
	}

	examples, err := m.store.ListCorpus(ctx)
	if err != nil {
		m.closeWithoutModel(ctx, sess.ID)
		return sess, fmt.Errorf("load training corpus: %w", err)
	}
	if err := m.scorer.Train(examples); err != nil {
		if errors.Is(err, scorer.ErrInsufficientData) {
			logger.Warnf("Training session %s closed with only %d examples, model not built", sess.ID, len(examples))
			if cerr := m.store.CloseSession(ctx, sess.ID, time.Now().UTC(), 0); cerr != nil {
				return sess, cerr
			}
			m.notifier.SessionChanged(sess, "stopped")
			return sess, fmt.Errorf("%w: %d examples collected", ErrTrainingIncomplete, len(examples))
		}
		// The active pointer is already released; the row still closes so
		// no session is left open without a model.
		m.closeWithoutModel(ctx, sess.ID)
		return sess, fmt.Errorf("train model: %w", err)
	}

	version := m.scorer.Version()
	if err := m.store.CloseSession(ctx, sess.ID, time.Now().UTC(), version); err != nil {
		return sess, err
	}
	sess.ModelVersion = version
	logger.Infof("Training session %s closed, model v%d built from %d examples", sess.ID, version, len(examples))
	m.notifier.SessionChanged(sess, "stopped")
	return sess, nil
}

// StopLive closes the live session and archives its trust state.
func (m *Manager) StopLive(ctx context.Context) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.stop(ctx, models.ModeLive)
	if err != nil {
		return nil, err
	}
	if err := m.trust.EndSession(ctx); err != nil {
		return sess, fmt.Errorf("archive trust state: %w", err)
	}
	if err := m.store.CloseSession(ctx, sess.ID, time.Now().UTC(), m.scorer.Version()); err != nil {
		return sess, err
	}
	logger.Infof("Live session %s closed", sess.ID)
	m.notifier.SessionChanged(sess, "stopped")
	return sess, nil
}

func (m *Manager) closeWithoutModel(ctx context.Context, sessionID string) {
	if err := m.store.CloseSession(ctx, sessionID, time.Now().UTC(), 0); err != nil {
		logger.Warnf("Closing session %s failed: %v", sessionID, err)
	}
}

func (m *Manager) stop(ctx context.Context, mode models.Mode) (*models.Session, error) {
	active, err := m.store.ActiveSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("look up active session: %w", err)
	}
	if active == nil {
		return nil, ErrNoActiveSession
	}
	if active.Mode != mode {
		return nil, ErrModeConflict
	}

	// Waits for every in-flight ingestion lease before releasing the
	// active pointer, so no event lands in a closed session.
	m.engagement.Lock()
	err = m.store.ReleaseActive(ctx, active.ID)
	m.engagement.Unlock()
	if err != nil {
		return nil, fmt.Errorf("release active session: %w", err)
	}
	return active, nil
}

// Resolve leases the current active session for one ingestion. The returned
// release function must be called once the event is fully processed. A nil
// session with a nil error means the engine is idle.
func (m *Manager) Resolve(ctx context.Context) (*models.Session, func(), error) {
	m.engagement.RLock()
	active, err := m.store.ActiveSession(ctx)
	if err != nil {
		m.engagement.RUnlock()
		return nil, nil, err
	}
	if active == nil {
		m.engagement.RUnlock()
		return nil, func() {}, nil
	}
	return active, m.engagement.RUnlock, nil
}

// ForceIdle releases any active session without training or archiving.
// Used by the full reset path.
func (m *Manager) ForceIdle(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	active, err := m.store.ActiveSession(ctx)
	if err != nil {
		return err
	}
	if active == nil {
		return nil
	}

	m.engagement.Lock()
	err = m.store.ReleaseActive(ctx, active.ID)
	m.engagement.Unlock()
	if err != nil {
		return err
	}
	m.notifier.SessionChanged(active, "reset")
	return nil
}

// Active returns the currently active session, nil when idle.
func (m *Manager) Active(ctx context.Context) (*models.Session, error) {
	return m.store.ActiveSession(ctx)
}
