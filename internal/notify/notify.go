package notify

import "zerotrust/pkg/models"

// Broadcaster hands state changes to downstream consumers. Delivery is
// best-effort: implementations must never block the caller and must swallow
// delivery failures.
type Broadcaster interface {
	EventAccepted(ev *models.Event)
	AnomalyDetected(rec *models.AnomalyRecord)
	SessionChanged(sess *models.Session, status string)
	TrustUpdated(sessionID string, score, change float64)
	Close() error
}

// NoopBroadcaster discards all notifications.
type NoopBroadcaster struct{}

func (NoopBroadcaster) EventAccepted(*models.Event)            {}
func (NoopBroadcaster) AnomalyDetected(*models.AnomalyRecord)  {}
func (NoopBroadcaster) SessionChanged(*models.Session, string) {}
func (NoopBroadcaster) TrustUpdated(string, float64, float64)  {}
func (NoopBroadcaster) Close() error                           { return nil }
