package feature

import (
	"testing"
	"time"

	"zerotrust/pkg/models"
)

func makeEvent(t models.EventType, ts time.Time, attrs map[string]interface{}) *models.Event {
	return &models.Event{ID: "e", Timestamp: ts, Type: t, Attributes: attrs}
}

func TestExtractProducesFixedDimension(t *testing.T) {
	x := NewExtractor()
	ts := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	vec := x.Extract(makeEvent(models.Login, ts, map[string]interface{}{"user_id": "alice"}))
	if len(vec) != Dim {
		t.Fatalf("expected %d features, got %d", Dim, len(vec))
	}
}

func TestExtractIsDeterministicAcrossRuns(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	events := []*models.Event{
		makeEvent(models.Login, base, map[string]interface{}{"user_id": "alice", "auth_success": true}),
		makeEvent(models.ProcessStart, base.Add(10*time.Second), map[string]interface{}{"process_name": "bash"}),
		makeEvent(models.Login, base.Add(30*time.Second), map[string]interface{}{"user_id": "alice", "auth_success": true}),
	}

	first := NewExtractor()
	second := NewExtractor()
	for i, ev := range events {
		a := first.Extract(ev)
		b := second.Extract(ev)
		for j := range a {
			if a[j] != b[j] {
				t.Fatalf("event %d feature %d differs between runs: %v vs %v", i, j, a[j], b[j])
			}
		}
	}
}

func TestFrequencyWindowsCountSameTypeEvents(t *testing.T) {
	x := NewExtractor()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	x.Extract(makeEvent(models.Login, base, nil))
	x.Extract(makeEvent(models.Login, base.Add(30*time.Second), nil))
	// Different type must not count toward login frequency.
	x.Extract(makeEvent(models.Logout, base.Add(40*time.Second), nil))
	vec := x.Extract(makeEvent(models.Login, base.Add(45*time.Second), nil))

	shortIdx := 4 + len(models.EventTypes) + 3
	if got := vec[shortIdx]; got != 3 {
		t.Fatalf("expected 60s frequency 3, got %v", got)
	}
	if got := vec[shortIdx+1]; got != 3 {
		t.Fatalf("expected 300s frequency 3, got %v", got)
	}

	// Four minutes later only the long window still sees the earlier logins.
	vec = x.Extract(makeEvent(models.Login, base.Add(4*time.Minute), nil))
	if got := vec[shortIdx]; got != 1 {
		t.Fatalf("expected 60s frequency 1 after gap, got %v", got)
	}
	if got := vec[shortIdx+1]; got != 4 {
		t.Fatalf("expected 300s frequency 4 after gap, got %v", got)
	}
}

func TestHashedStringsStayBounded(t *testing.T) {
	x := NewExtractor()
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	vec := x.Extract(makeEvent(models.NetworkConnection, ts, map[string]interface{}{
		"process_name":      "curl",
		"destination":       "203.0.113.7:443",
		"user_id":           "bob",
		"network_direction": "outbound",
	}))
	for i := 12; i <= 14; i++ {
		if vec[i] <= 0 || vec[i] >= 1 {
			t.Fatalf("hash feature %d out of (0,1): %v", i, vec[i])
		}
	}
	if vec[Dim-1] != 2 {
		t.Fatalf("expected outbound direction encoding 2, got %v", vec[Dim-1])
	}
}

func TestCyclicalEncodingWrapsMidnight(t *testing.T) {
	x := NewExtractor()
	justBefore := x.Extract(makeEvent(models.Login, time.Date(2026, 3, 2, 23, 59, 59, 0, time.UTC), nil))
	justAfter := x.Extract(makeEvent(models.Login, time.Date(2026, 3, 3, 0, 0, 1, 0, time.UTC), nil))

	// sin/cos distance across midnight must be tiny even though raw
	// seconds-since-midnight jumps by almost a full day.
	dSin := justBefore[0] - justAfter[0]
	dCos := justBefore[1] - justAfter[1]
	if dSin*dSin+dCos*dCos > 0.001 {
		t.Fatalf("midnight wrap distance too large: sin=%v cos=%v", dSin, dCos)
	}
}
