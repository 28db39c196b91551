package feedback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"zerotrust/internal/logger"
	"zerotrust/internal/metrics"
	"zerotrust/internal/scorer"
	"zerotrust/internal/store"
	"zerotrust/internal/trust"
	"zerotrust/pkg/models"
)

// ErrAnomalyNotFound is returned when the referenced anomaly does not exist.
var ErrAnomalyNotFound = errors.New("anomaly not found")

// Loop applies operator corrections and retrains the model in the background.
// Corrections are batched; a single worker rebuilds from the full corpus so a
// correction landing mid-retrain is picked up by the next rebuild rather than
// lost.
type Loop struct {
	store  store.Store
	scorer *scorer.Scorer
	trust  *trust.Engine

	mu        sync.Mutex
	pending   int
	batch     int
	retrainCh chan struct{}
}

// NewLoop wires a feedback loop. A batch of n means every n corrections
// trigger a model rebuild; n <= 1 retrains after each correction.
func NewLoop(st store.Store, sc *scorer.Scorer, tr *trust.Engine, batch int) *Loop {
	if batch < 1 {
		batch = 1
	}
	return &Loop{
		store:     st,
		scorer:    sc,
		trust:     tr,
		batch:     batch,
		retrainCh: make(chan struct{}, 1),
	}
}

// MarkNormal resolves an anomaly as operator-confirmed normal behavior,
// restores the deducted trust and folds the example back into the training
// corpus. Calling it again for an already resolved anomaly is a no-op that
// returns a zero restore amount.
func (l *Loop) MarkNormal(ctx context.Context, anomalyID, actor string) (float64, error) {
	rec, err := l.store.GetAnomaly(ctx, anomalyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrAnomalyNotFound, anomalyID)
		}
		return 0, fmt.Errorf("load anomaly: %w", err)
	}
	if rec.Resolved {
		return 0, nil
	}

	ev, err := l.store.GetEvent(ctx, rec.EventID)
	if err != nil {
		return 0, fmt.Errorf("load event %s: %w", rec.EventID, err)
	}

	// The store transition is the gate: a concurrent correction of the
	// same anomaly resolves it exactly once, and only the winner restores.
	transitioned, err := l.store.ResolveAnomaly(ctx, anomalyID, actor, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("resolve anomaly: %w", err)
	}
	if !transitioned {
		return 0, nil
	}

	restored := 0.0
	if deducted := math.Abs(ev.TrustDelta); deducted > 0 {
		restored, err = l.trust.Restore(ctx, ev.SessionID, ev.ID, deducted)
		if err != nil {
			if !errors.Is(err, trust.ErrNoSession) {
				return 0, fmt.Errorf("restore trust: %w", err)
			}
			restored = 0
		}
	}

	if err := l.store.CorrectEvent(ctx, ev.ID, false, 0); err != nil {
		return restored, fmt.Errorf("correct event: %w", err)
	}

	relabeled, err := l.store.RelabelCorpus(ctx, ev.ID, models.LabelNormal)
	if err != nil {
		return restored, fmt.Errorf("relabel corpus: %w", err)
	}
	if !relabeled {
		// Live-session events never entered the corpus; insert the
		// vector captured at scoring time.
		if err := l.store.AppendCorpus(ctx, store.CorpusExample{
			EventID:   ev.ID,
			EventType: ev.Type,
			Vector:    rec.Vector,
			Label:     models.LabelNormal,
			CreatedAt: ev.Timestamp,
		}); err != nil {
			return restored, fmt.Errorf("append corpus: %w", err)
		}
	}

	metrics.AnomaliesResolved.Inc()
	logger.Infof("Anomaly %s marked normal by %s, restored %.2f trust", anomalyID, actor, restored)

	l.mu.Lock()
	l.pending++
	trigger := l.pending >= l.batch
	if trigger {
		l.pending = 0
	}
	l.mu.Unlock()
	if trigger {
		select {
		case l.retrainCh <- struct{}{}:
		default:
			// A rebuild is already queued; it reads the full corpus
			// and will include this correction.
		}
	}
	return restored, nil
}

// Run executes queued retrains until the context is cancelled. Intended to
// run in its own goroutine.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.retrainCh:
			l.retrain(ctx)
		}
	}
}

func (l *Loop) retrain(ctx context.Context) {
	examples, err := l.store.ListCorpus(ctx)
	if err != nil {
		logger.Errorf("Retrain aborted, corpus read failed: %v", err)
		return
	}
	if err := l.scorer.Train(examples); err != nil {
		if errors.Is(err, scorer.ErrInsufficientData) {
			logger.Warnf("Retrain skipped, corpus too small (%d examples)", len(examples))
			return
		}
		logger.Errorf("Retrain failed: %v", err)
		return
	}
	logger.Infof("Model retrained to v%d from %d examples", l.scorer.Version(), len(examples))
}
