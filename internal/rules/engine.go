package rules

import "zerotrust/pkg/models"

// Engine enriches events with detection rule tags.
type Engine interface {
	Apply(event *models.Event) []models.RuleTag
}

// NoopEngine returns no tags.
type NoopEngine struct{}

// Apply returns an empty tag list.
func (n *NoopEngine) Apply(event *models.Event) []models.RuleTag {
	return nil
}
