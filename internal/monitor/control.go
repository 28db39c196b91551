package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zerotrust/internal/logger"
)

// Command is an operator instruction popped from the control queue.
type Command struct {
	Op        string `json:"op"`
	AnomalyID string `json:"anomaly_id,omitempty"`
	Actor     string `json:"actor,omitempty"`
}

// ControlConsumer yields operator command payloads.
type ControlConsumer interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// RunControl pops operator commands and dispatches them against the monitor
// until the context is cancelled. Command failures are logged, never fatal.
func (m *Monitor) RunControl(ctx context.Context, consumer ControlConsumer) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Control read failed: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if payload == nil {
			continue
		}

		var cmd Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			logger.Warnf("Dropping malformed control command: %v", err)
			continue
		}
		if err := m.Dispatch(ctx, cmd); err != nil {
			logger.Warnf("Control command %q failed: %v", cmd.Op, err)
		}
	}
}

// Dispatch executes one operator command.
func (m *Monitor) Dispatch(ctx context.Context, cmd Command) error {
	switch cmd.Op {
	case "start_training":
		sess, err := m.StartTraining(ctx)
		if err != nil {
			return err
		}
		logger.Infof("Training session %s started by operator", sess.ID)
	case "stop_training":
		sess, err := m.StopTraining(ctx)
		if err != nil {
			return err
		}
		logger.Infof("Training session %s stopped by operator", sess.ID)
	case "start_live":
		sess, err := m.StartLive(ctx)
		if err != nil {
			return err
		}
		logger.Infof("Live session %s started by operator", sess.ID)
	case "stop_live":
		sess, err := m.StopLive(ctx)
		if err != nil {
			return err
		}
		logger.Infof("Live session %s stopped by operator", sess.ID)
	case "mark_normal":
		if cmd.AnomalyID == "" {
			return fmt.Errorf("mark_normal requires anomaly_id")
		}
		actor := cmd.Actor
		if actor == "" {
			actor = "operator"
		}
		restored, err := m.MarkNormal(ctx, cmd.AnomalyID, actor)
		if err != nil {
			return err
		}
		logger.Infof("Anomaly %s marked normal, restored %.2f trust", cmd.AnomalyID, restored)
	case "reset":
		if err := m.ResetAll(ctx); err != nil {
			return err
		}
	case "status":
		status, err := m.Status(ctx)
		if err != nil {
			return err
		}
		logger.Infof("Status: mode=%s session=%s model=%s v%d", status.Mode, status.SessionID, status.ModelState, status.ModelVersion)
	case "stats":
		stats, err := m.Stats(ctx)
		if err != nil {
			return err
		}
		logger.Infof("Stats: events=%d corpus=%d anomalies=%d unresolved=%d trust=%.2f",
			stats.Events, stats.CorpusSize, stats.Anomalies, stats.UnresolvedAnomalies, stats.TrustScore)
	default:
		return fmt.Errorf("unknown control op %q", cmd.Op)
	}
	return nil
}
