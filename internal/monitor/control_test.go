package monitor

import (
	"context"
	"testing"
)

func TestDispatchLifecycle(t *testing.T) {
	m := newMonitor(t)
	ctx := context.Background()

	if err := m.Dispatch(ctx, Command{Op: "start_training"}); err != nil {
		t.Fatalf("start_training: %v", err)
	}
	status, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Mode != "training" {
		t.Fatalf("mode = %s, want training", status.Mode)
	}

	if err := m.Dispatch(ctx, Command{Op: "reset"}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	status, err = m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Mode != "idle" {
		t.Fatalf("mode after reset = %s, want idle", status.Mode)
	}
}

func TestDispatchUnknownOp(t *testing.T) {
	m := newMonitor(t)
	if err := m.Dispatch(context.Background(), Command{Op: "self_destruct"}); err == nil {
		t.Fatalf("expected error for unknown op")
	}
}

func TestDispatchMarkNormalRequiresID(t *testing.T) {
	m := newMonitor(t)
	if err := m.Dispatch(context.Background(), Command{Op: "mark_normal"}); err == nil {
		t.Fatalf("expected error for missing anomaly_id")
	}
}
