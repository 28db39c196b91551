package store

import (
	"context"
	"testing"
	"time"

	"zerotrust/pkg/models"
)

func TestActivePointerCAS(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	ok, err := st.AcquireActive(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = st.AcquireActive(ctx, "s2")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatalf("second acquire won while s1 held the pointer")
	}

	// Releasing with the wrong holder must not clear the pointer.
	if err := st.ReleaseActive(ctx, "s2"); err != nil {
		t.Fatalf("release s2: %v", err)
	}
	if err := st.CreateSession(ctx, &models.Session{ID: "s1", Mode: models.ModeTraining}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	active, err := st.ActiveSession(ctx)
	if err != nil {
		t.Fatalf("ActiveSession: %v", err)
	}
	if active == nil || active.ID != "s1" {
		t.Fatalf("active = %+v, want s1", active)
	}

	if err := st.ReleaseActive(ctx, "s1"); err != nil {
		t.Fatalf("release s1: %v", err)
	}
	active, err = st.ActiveSession(ctx)
	if err != nil {
		t.Fatalf("ActiveSession: %v", err)
	}
	if active != nil {
		t.Fatalf("active after release = %+v", active)
	}
}

func TestAnomalyListingNewestFirst(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	for i, id := range []string{"a1", "a2", "a3"} {
		rec := &models.AnomalyRecord{
			ID:        id,
			EventID:   "ev-" + id,
			SessionID: "s1",
			CreatedAt: time.Date(2026, 3, 3, 3, i, 0, 0, time.UTC),
		}
		if err := st.CreateAnomaly(ctx, rec); err != nil {
			t.Fatalf("CreateAnomaly: %v", err)
		}
	}
	if _, err := st.ResolveAnomaly(ctx, "a2", "operator", time.Now()); err != nil {
		t.Fatalf("ResolveAnomaly: %v", err)
	}

	all, err := st.ListAnomalies(ctx, AnomalyFilter{SessionID: "s1"})
	if err != nil {
		t.Fatalf("ListAnomalies: %v", err)
	}
	if len(all) != 3 || all[0].ID != "a3" || all[2].ID != "a1" {
		t.Fatalf("listing order = %v", ids(all))
	}

	unresolved := false
	resolved := true
	open, err := st.ListAnomalies(ctx, AnomalyFilter{Resolved: &unresolved})
	if err != nil {
		t.Fatalf("ListAnomalies unresolved: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("unresolved = %v", ids(open))
	}
	done, err := st.ListAnomalies(ctx, AnomalyFilter{Resolved: &resolved, Limit: 5})
	if err != nil {
		t.Fatalf("ListAnomalies resolved: %v", err)
	}
	if len(done) != 1 || done[0].ID != "a2" {
		t.Fatalf("resolved = %v", ids(done))
	}

	limited, err := st.ListAnomalies(ctx, AnomalyFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListAnomalies limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "a3" {
		t.Fatalf("limited = %v", ids(limited))
	}
}

func TestResolveAnomalyTransitionsOnce(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	if err := st.CreateAnomaly(ctx, &models.AnomalyRecord{ID: "a1", EventID: "ev-1", SessionID: "s1"}); err != nil {
		t.Fatalf("CreateAnomaly: %v", err)
	}

	won, err := st.ResolveAnomaly(ctx, "a1", "operator", time.Now())
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if !won {
		t.Fatalf("first resolve did not transition")
	}
	won, err = st.ResolveAnomaly(ctx, "a1", "other", time.Now())
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if won {
		t.Fatalf("second resolve transitioned again")
	}

	rec, err := st.GetAnomaly(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAnomaly: %v", err)
	}
	if rec.ResolvedBy != "operator" {
		t.Fatalf("resolved by %q, want the transition winner", rec.ResolvedBy)
	}

	if _, err := st.ResolveAnomaly(ctx, "missing", "operator", time.Now()); err != ErrNotFound {
		t.Fatalf("resolve missing err = %v, want ErrNotFound", err)
	}
}

func ids(recs []*models.AnomalyRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestCorpusRelabel(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	if err := st.AppendCorpus(ctx, CorpusExample{EventID: "ev-1", EventType: models.Login, Label: models.LabelUnknown}); err != nil {
		t.Fatalf("AppendCorpus: %v", err)
	}

	found, err := st.RelabelCorpus(ctx, "ev-1", models.LabelNormal)
	if err != nil || !found {
		t.Fatalf("relabel existing: found=%v err=%v", found, err)
	}
	found, err = st.RelabelCorpus(ctx, "ev-missing", models.LabelNormal)
	if err != nil {
		t.Fatalf("relabel missing: %v", err)
	}
	if found {
		t.Fatalf("relabel reported a hit for a missing example")
	}

	examples, err := st.ListCorpus(ctx)
	if err != nil {
		t.Fatalf("ListCorpus: %v", err)
	}
	if examples[0].Label != models.LabelNormal {
		t.Fatalf("label = %s", examples[0].Label)
	}
}

func TestReadCopiesAreIsolated(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	if err := st.CreateEvent(ctx, &models.Event{ID: "ev-1", Type: models.Login}); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	ev, err := st.GetEvent(ctx, "ev-1")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	ev.AnomalyFlag = true

	again, err := st.GetEvent(ctx, "ev-1")
	if err != nil {
		t.Fatalf("GetEvent again: %v", err)
	}
	if again.AnomalyFlag {
		t.Fatalf("mutating a read copy leaked into the store")
	}
}

func TestResetClearsEverything(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	if err := st.CreateEvent(ctx, &models.Event{ID: "ev-1", Type: models.Login}); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if err := st.AppendCorpus(ctx, CorpusExample{EventID: "ev-1"}); err != nil {
		t.Fatalf("AppendCorpus: %v", err)
	}
	if _, err := st.AcquireActive(ctx, "s1"); err != nil {
		t.Fatalf("AcquireActive: %v", err)
	}

	if err := st.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if n, _ := st.CountEvents(ctx); n != 0 {
		t.Fatalf("events after reset = %d", n)
	}
	if n, _ := st.CountCorpus(ctx); n != 0 {
		t.Fatalf("corpus after reset = %d", n)
	}
	active, err := st.ActiveSession(ctx)
	if err != nil {
		t.Fatalf("ActiveSession: %v", err)
	}
	if active != nil {
		t.Fatalf("active after reset = %+v", active)
	}
}
