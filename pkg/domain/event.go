// Package domain holds the event model shared by every govwatch component.
// Events are immutable once constructed: monitors and collectors create them,
// the framework owns the history copy, handlers may persist independently.
package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Well-known event types emitted by the core framework and monitors
const (
	EventTypeDataCollection        = "data_collection"
	EventTypeInheritanceLoop       = "inheritance_loop_detected"
	EventTypeIncompleteChain       = "incomplete_inheritance_chain"
	EventTypeUnusualPattern        = "unusual_inheritance_pattern"
	EventTypeBoundaryViolation     = "inheritance_boundary_violation"
	EventTypePropagationFailure    = "attribute_propagation_failure"
	EventTypeInconsistentAttrs     = "inconsistent_attributes"
	EventTypeLoopExecutionFailure  = "loop_execution_failure"
	EventTypePotentialInfiniteLoop = "potential_infinite_loop"
	EventTypeLoopTermination       = "loop_termination_issue"
	EventTypePrematureTermination  = "premature_loop_termination"
	EventTypePersistenceFailure    = "state_persistence_failure"
	EventTypeStateInconsistency    = "state_inconsistency"
	EventTypeResourceOveruse       = "resource_overutilization"
)

// Event is one detected condition: a finding, never an error.
type Event struct {
	ID        string         `json:"event_id"`
	Type      string         `json:"event_type"`
	Source    string         `json:"source"`
	Details   map[string]any `json:"details"`
	Severity  Severity       `json:"severity_level"`
	Timestamp time.Time      `json:"-"`
}

// NewEvent constructs an event sourced from the given component,
// generating the ID and stamping the current time.
func NewEvent(eventType, source string, details map[string]any, severity Severity) *Event {
	if details == nil {
		details = make(map[string]any)
	}
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Details:   details,
		Severity:  severity,
		Timestamp: time.Now(),
	}
}

// ToMap renders the event as a plain mapping. Severity is carried both as
// name and ordinal so either survives a serialization boundary.
func (e *Event) ToMap() map[string]any {
	return map[string]any{
		"event_id":       e.ID,
		"event_type":     e.Type,
		"source":         e.Source,
		"details":        e.Details,
		"severity":       e.Severity.String(),
		"severity_level": e.Severity.Level(),
		"timestamp":      float64(e.Timestamp.UnixNano()) / float64(time.Second),
	}
}

// EventFromMap is the inverse of ToMap. It accepts severity as a name
// string or a numeric level; an unknown severity is an error. A missing
// event_id is generated, a missing timestamp defaults to now.
func EventFromMap(m map[string]any) (*Event, error) {
	e := &Event{
		Details:   make(map[string]any),
		Timestamp: time.Now(),
	}

	if id, ok := m["event_id"].(string); ok && id != "" {
		e.ID = id
	} else {
		e.ID = uuid.NewString()
	}
	if t, ok := m["event_type"].(string); ok {
		e.Type = t
	}
	if s, ok := m["source"].(string); ok {
		e.Source = s
	}
	if d, ok := m["details"].(map[string]any); ok {
		e.Details = d
	}

	sev, err := severityFromMap(m)
	if err != nil {
		return nil, err
	}
	e.Severity = sev

	if ts, ok := numericValue(m["timestamp"]); ok {
		sec, frac := math.Modf(ts)
		e.Timestamp = time.Unix(int64(sec), int64(frac*float64(time.Second)))
	}

	return e, nil
}

// String renders a one-line summary for log output
func (e *Event) String() string {
	return fmt.Sprintf("[%s] %s from %s (id=%s)", e.Severity, e.Type, e.Source, e.ID)
}

func severityFromMap(m map[string]any) (Severity, error) {
	if name, ok := m["severity"].(string); ok {
		return ParseSeverity(name)
	}
	if level, ok := numericValue(m["severity_level"]); ok {
		return SeverityFromLevel(int(level))
	}
	return SeverityInfo, nil
}

// numericValue normalizes the number types JSON decoding produces
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
