package models

import (
	"fmt"
	"time"
)

// EventType is the closed set of telemetry event categories.
type EventType string

const (
	ProcessStart      EventType = "process_start"
	ProcessEnd        EventType = "process_end"
	NetworkConnection EventType = "network_connection"
	SudoCommand       EventType = "sudo_command"
	FileChange        EventType = "file_change"
	Login             EventType = "login"
	Logout            EventType = "logout"
	AuthFailure       EventType = "auth_failure"
)

// EventTypes lists all valid event types in their canonical encoding order.
var EventTypes = []EventType{
	ProcessStart,
	ProcessEnd,
	NetworkConnection,
	SudoCommand,
	FileChange,
	Login,
	Logout,
	AuthFailure,
}

// ParseEventType validates a raw type string against the closed enum.
func ParseEventType(raw string) (EventType, bool) {
	t := EventType(raw)
	for _, known := range EventTypes {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// Event is a single attributed telemetry event.
type Event struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Type        EventType              `json:"type"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
	SessionID   string                 `json:"session_id,omitempty"`
	AnomalyFlag bool                   `json:"anomaly_flag"`
	TrustDelta  float64                `json:"trust_delta"`
	Confidence  float64                `json:"confidence,omitempty"`
	RuleTags    []RuleTag              `json:"rule_tags,omitempty"`
}

// Attr returns an attribute value as a string.
func (e *Event) Attr(name string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	if v, ok := e.Attributes[name]; ok {
		switch val := v.(type) {
		case string:
			return val
		case fmt.Stringer:
			return val.String()
		case int:
			return fmt.Sprintf("%d", val)
		case int64:
			return fmt.Sprintf("%d", val)
		case float64:
			if val == float64(int64(val)) {
				return fmt.Sprintf("%d", int64(val))
			}
			return fmt.Sprintf("%f", val)
		case bool:
			if val {
				return "true"
			}
			return "false"
		default:
			return fmt.Sprintf("%v", val)
		}
	}
	return ""
}

// AttrBool returns a boolean attribute, false when absent or non-boolean.
func (e *Event) AttrBool(name string) bool {
	if e == nil || e.Attributes == nil {
		return false
	}
	switch v := e.Attributes[name].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// AttrFloat returns a numeric attribute, 0 when absent or non-numeric.
func (e *Event) AttrFloat(name string) float64 {
	if e == nil || e.Attributes == nil {
		return 0
	}
	switch v := e.Attributes[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// RuleTag annotates an event with a matched detection rule.
type RuleTag struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Tactic    string `json:"tactic,omitempty"`
	Technique string `json:"technique,omitempty"`
}
