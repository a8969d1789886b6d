package domain

import (
	"fmt"
	"strings"
)

// Severity classifies the urgency of a monitoring event.
// Values are ordinal: Info < Low < Medium < High < Critical.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{
	SeverityInfo:     "info",
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

// String returns the lowercase name of the severity
func (s Severity) String() string {
	if s < SeverityInfo || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// Level returns the ordinal level of the severity
func (s Severity) Level() int {
	return int(s)
}

// AtLeast returns true if s is at least as urgent as other
func (s Severity) AtLeast(other Severity) bool {
	return s >= other
}

// ParseSeverity resolves a severity name to its value.
// Unknown names are an error: severity drives alerting, so silent
// defaulting would mask misrouted events.
func ParseSeverity(name string) (Severity, error) {
	normalized := strings.ToLower(name)
	for sev, n := range severityNames {
		if n == normalized {
			return Severity(sev), nil
		}
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q", name)
}

// SeverityFromLevel resolves a numeric ordinal to its severity value
func SeverityFromLevel(level int) (Severity, error) {
	if level < int(SeverityInfo) || level > int(SeverityCritical) {
		return SeverityInfo, fmt.Errorf("severity level %d out of range", level)
	}
	return Severity(level), nil
}
