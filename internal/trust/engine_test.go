package trust

import (
	"context"
	"testing"
	"time"

	"zerotrust/internal/store"
	"zerotrust/pkg/models"
)

func newTestEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	eng := NewEngine(Config{InitialScore: 100, CriticalThreshold: 20}, st, nil)
	return eng, st
}

func anomalyEvent(sessionID string, typ models.EventType) *models.Event {
	return &models.Event{
		ID:        "ev-1",
		Timestamp: time.Now(),
		Type:      typ,
		SessionID: sessionID,
	}
}

func TestDeductionScalesWithConfidence(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.StartSession(ctx, "s1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	d, crossed, err := eng.Deduct(ctx, anomalyEvent("s1", models.AuthFailure), 0.5)
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if crossed {
		t.Fatalf("critical crossed at score %.2f", eng.Score())
	}
	if d != 12.5 {
		t.Fatalf("deduction = %.2f, want 12.5", d)
	}
	if got := eng.Score(); got != 87.5 {
		t.Fatalf("score = %.2f, want 87.5", got)
	}
}

func TestDeductionCappedAtWeight(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.StartSession(ctx, "s1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	// Confidence above 1 must not deduct more than the type weight.
	d, _, err := eng.Deduct(ctx, anomalyEvent("s1", models.SudoCommand), 1.7)
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if d != 20 {
		t.Fatalf("deduction = %.2f, want 20", d)
	}
}

func TestScoreNeverBelowZero(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.StartSession(ctx, "s1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	for i := 0; i < 10; i++ {
		if _, _, err := eng.Deduct(ctx, anomalyEvent("s1", models.AuthFailure), 1.0); err != nil {
			t.Fatalf("Deduct: %v", err)
		}
	}
	if got := eng.Score(); got != 0 {
		t.Fatalf("score = %.2f, want 0", got)
	}
}

func TestCriticalAlertEdgeTriggered(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.StartSession(ctx, "s1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	crossings := 0
	for i := 0; i < 6; i++ {
		_, crossed, err := eng.Deduct(ctx, anomalyEvent("s1", models.AuthFailure), 1.0)
		if err != nil {
			t.Fatalf("Deduct: %v", err)
		}
		if crossed {
			crossings++
		}
	}
	if crossings != 1 {
		t.Fatalf("critical crossings = %d, want 1", crossings)
	}

	// Restoring above the threshold re-arms the alert.
	if _, err := eng.Restore(ctx, "s1", "ev-1", 80); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	_, crossed, err := eng.Deduct(ctx, anomalyEvent("s1", models.AuthFailure), 1.0)
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	for !crossed {
		_, crossed, err = eng.Deduct(ctx, anomalyEvent("s1", models.AuthFailure), 1.0)
		if err != nil {
			t.Fatalf("Deduct: %v", err)
		}
		if eng.Score() == 0 && !crossed {
			t.Fatalf("alert never re-armed after restore")
		}
	}
}

func TestRestoreClampedAtHundred(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.StartSession(ctx, "s1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, _, err := eng.Deduct(ctx, anomalyEvent("s1", models.Login), 1.0); err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if _, err := eng.Restore(ctx, "s1", "ev-1", 50); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := eng.Score(); got != 100 {
		t.Fatalf("score = %.2f, want 100", got)
	}
}

func TestRestoreIgnoresEndedSession(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.StartSession(ctx, "s1"); err != nil {
		t.Fatalf("StartSession s1: %v", err)
	}
	if _, _, err := eng.Deduct(ctx, anomalyEvent("s1", models.AuthFailure), 0.8); err != nil {
		t.Fatalf("Deduct s1: %v", err)
	}
	if err := eng.EndSession(ctx); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	if _, err := eng.StartSession(ctx, "s2"); err != nil {
		t.Fatalf("StartSession s2: %v", err)
	}
	if _, _, err := eng.Deduct(ctx, anomalyEvent("s2", models.AuthFailure), 0.8); err != nil {
		t.Fatalf("Deduct s2: %v", err)
	}

	// A deduction taken in s1 must never credit s2.
	restored, err := eng.Restore(ctx, "s1", "ev-1", 20)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored != 0 {
		t.Fatalf("stale session restored %.2f, want 0", restored)
	}
	if got := eng.Score(); got != 80 {
		t.Fatalf("score = %.2f, want 80", got)
	}
}

func TestHistoryRecordsEachChange(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.StartSession(ctx, "s1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, _, err := eng.Deduct(ctx, anomalyEvent("s1", models.FileChange), 0.8); err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if _, err := eng.Restore(ctx, "s1", "ev-1", 8); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	history := eng.History(0)
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[0].Reason != "session_start" {
		t.Fatalf("first sample reason = %q", history[0].Reason)
	}
	if history[1].Reason != "anomaly_file_change" || history[1].Change >= 0 {
		t.Fatalf("deduction sample = %+v", history[1])
	}
	if history[2].Reason != "operator_restore" || history[2].Change <= 0 {
		t.Fatalf("restore sample = %+v", history[2])
	}
}

func TestSummaryTracksExtremes(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	min, max, avg := eng.Summary()
	if min != 0 || max != 0 || avg != 0 {
		t.Fatalf("summary without session = %.2f/%.2f/%.2f", min, max, avg)
	}

	if _, err := eng.StartSession(ctx, "s1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, _, err := eng.Deduct(ctx, anomalyEvent("s1", models.SudoCommand), 1.0); err != nil {
		t.Fatalf("Deduct: %v", err)
	}

	min, max, avg = eng.Summary()
	if min != 80 || max != 100 {
		t.Fatalf("min/max = %.2f/%.2f, want 80/100", min, max)
	}
	if avg != 90 {
		t.Fatalf("avg = %.2f, want 90", avg)
	}
}

func TestDeductWithoutSession(t *testing.T) {
	eng, _ := newTestEngine(t)
	if _, _, err := eng.Deduct(context.Background(), anomalyEvent("s1", models.Login), 1.0); err != ErrNoSession {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestUnknownTypeUsesDefaultWeight(t *testing.T) {
	eng := NewEngine(Config{SeverityWeights: map[models.EventType]float64{models.Login: 5}}, store.NewMemoryStore(), nil)
	ctx := context.Background()
	if _, err := eng.StartSession(ctx, "s1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	d, _, err := eng.Deduct(ctx, anomalyEvent("s1", models.NetworkConnection), 1.0)
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if d != 5 {
		t.Fatalf("deduction = %.2f, want default weight 5", d)
	}
}
