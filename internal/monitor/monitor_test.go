package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"zerotrust/internal/feature"
	"zerotrust/internal/feedback"
	"zerotrust/internal/pipeline"
	"zerotrust/internal/scorer"
	"zerotrust/internal/session"
	"zerotrust/internal/store"
	"zerotrust/internal/trust"
	"zerotrust/pkg/models"
)

func newMonitor(t *testing.T) *Monitor {
	t.Helper()
	st := store.NewMemoryStore()
	sc := scorer.New(scorer.Config{})
	tr := trust.NewEngine(trust.Config{}, st, nil)
	mgr := session.NewManager(st, sc, tr, nil)
	ex := feature.NewExtractor()
	pipe := pipeline.New(pipeline.Options{
		Sessions:  mgr,
		Store:     st,
		Scorer:    sc,
		Trust:     tr,
		Extractor: ex,
	})
	fb := feedback.NewLoop(st, sc, tr, 1)
	return New(mgr, pipe, sc, tr, fb, ex, st)
}

func trainBaseline(t *testing.T, m *Monitor, ctx context.Context) {
	t.Helper()
	if _, err := m.StartTraining(ctx); err != nil {
		t.Fatalf("StartTraining: %v", err)
	}
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		_, err := m.Ingest(ctx, &pipeline.RawEvent{
			Type:      "login",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Attributes: map[string]interface{}{
				"user_id":      "alice",
				"auth_success": true,
			},
		})
		if err != nil {
			t.Fatalf("training Ingest %d: %v", i, err)
		}
	}
	if _, err := m.StopTraining(ctx); err != nil {
		t.Fatalf("StopTraining: %v", err)
	}
}

func nightAuthFailure() *pipeline.RawEvent {
	return &pipeline.RawEvent{
		Type:      "auth_failure",
		Timestamp: time.Date(2026, 3, 3, 3, 7, 0, 0, time.UTC),
		Attributes: map[string]interface{}{
			"user_id":      "mallory",
			"auth_success": false,
		},
	}
}

func TestFullOperatorWorkflow(t *testing.T) {
	m := newMonitor(t)
	ctx := context.Background()

	trainBaseline(t, m, ctx)

	sess, err := m.StartLive(ctx)
	if err != nil {
		t.Fatalf("StartLive: %v", err)
	}
	if got := m.TrustScore(); got != 100 {
		t.Fatalf("initial trust = %.2f, want 100", got)
	}

	ev, err := m.Ingest(ctx, nightAuthFailure())
	if err != nil {
		t.Fatalf("live Ingest: %v", err)
	}
	if !ev.AnomalyFlag {
		t.Fatalf("night auth failure not flagged")
	}
	if m.TrustScore() >= 100 {
		t.Fatalf("trust unchanged after anomaly: %.2f", m.TrustScore())
	}

	anomalies, err := m.Anomalies(ctx, store.AnomalyFilter{SessionID: sess.ID})
	if err != nil {
		t.Fatalf("Anomalies: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %d, want 1", len(anomalies))
	}

	restored, err := m.MarkNormal(ctx, anomalies[0].ID, "operator")
	if err != nil {
		t.Fatalf("MarkNormal: %v", err)
	}
	if restored <= 0 {
		t.Fatalf("restored = %.2f", restored)
	}
	if got := m.TrustScore(); got != 100 {
		t.Fatalf("trust after correction = %.2f, want 100", got)
	}

	again, err := m.MarkNormal(ctx, anomalies[0].ID, "operator")
	if err != nil {
		t.Fatalf("second MarkNormal: %v", err)
	}
	if again != 0 {
		t.Fatalf("second MarkNormal restored %.2f, want 0", again)
	}

	if _, err := m.StopLive(ctx); err != nil {
		t.Fatalf("StopLive: %v", err)
	}
}

func TestLiveBeforeTraining(t *testing.T) {
	m := newMonitor(t)
	if _, err := m.StartLive(context.Background()); !errors.Is(err, session.ErrModelNotReady) {
		t.Fatalf("err = %v, want ErrModelNotReady", err)
	}
}

func TestResetAllReturnsToFirstRun(t *testing.T) {
	m := newMonitor(t)
	ctx := context.Background()

	trainBaseline(t, m, ctx)
	if _, err := m.StartLive(ctx); err != nil {
		t.Fatalf("StartLive: %v", err)
	}
	if _, err := m.Ingest(ctx, nightAuthFailure()); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if err := m.ResetAll(ctx); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Events != 0 || stats.CorpusSize != 0 || stats.Anomalies != 0 {
		t.Fatalf("stats after reset = %+v", stats)
	}
	if stats.TrustScore != 100 {
		t.Fatalf("trust after reset = %.2f", stats.TrustScore)
	}

	status, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Mode != "idle" {
		t.Fatalf("mode after reset = %s", status.Mode)
	}
	if _, err := m.StartLive(ctx); !errors.Is(err, session.ErrModelNotReady) {
		t.Fatalf("StartLive after reset err = %v, want ErrModelNotReady", err)
	}
}

func TestStatusTracksMode(t *testing.T) {
	m := newMonitor(t)
	ctx := context.Background()

	status, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Mode != "idle" || status.ModelVersion != 0 {
		t.Fatalf("initial status = %+v", status)
	}

	sess, err := m.StartTraining(ctx)
	if err != nil {
		t.Fatalf("StartTraining: %v", err)
	}
	status, err = m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Mode != string(models.ModeTraining) || status.SessionID != sess.ID {
		t.Fatalf("training status = %+v", status)
	}
}

func TestScoringIsDeterministic(t *testing.T) {
	run := func() float64 {
		m := newMonitor(t)
		ctx := context.Background()
		trainBaseline(t, m, ctx)
		if _, err := m.StartLive(ctx); err != nil {
			t.Fatalf("StartLive: %v", err)
		}
		if _, err := m.Ingest(ctx, nightAuthFailure()); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
		return m.TrustScore()
	}

	first := run()
	second := run()
	if first != second {
		t.Fatalf("trust diverged across identical runs: %.6f vs %.6f", first, second)
	}
}
