// Package inheritance monitors governance inheritance integrity: chain
// loops and completeness, structural pattern drift, boundary enforcement,
// and attribute propagation.
package inheritance

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yairfalse/govwatch/pkg/domain"
	"github.com/yairfalse/govwatch/pkg/monitor"
)

// DefaultName is the registry key and event source name
const DefaultName = "governance_inheritance"

// Monitor runs four independent inheritance checks per pass. Each condition
// emits at most once per entity per pass.
type Monitor struct {
	*monitor.BaseMonitor
	source Source

	mu         sync.Mutex
	thresholds map[AnomalyType]float64

	// expected structures, configured externally
	expectedPatterns map[string]PatternRecord

	// last-observed snapshots per entity/boundary, kept for inspection
	// and debugging; they do not gate detection. Bounded only by the
	// entity population.
	chains       map[string]chainSnapshot
	boundaries   map[string]map[string]boundarySnapshot
	propagations map[string]propagationSnapshot
}

// New creates an inheritance monitor reading from the given source.
// All anomaly tolerances default to zero: any occurrence is an anomaly.
func New(source Source, logger *zap.Logger) *Monitor {
	return &Monitor{
		BaseMonitor: monitor.NewBaseMonitor(DefaultName, logger),
		source:      source,
		thresholds: map[AnomalyType]float64{
			AnomalyInheritanceLoop:   0,
			AnomalyIncompleteChain:   0,
			AnomalyPatternDeviation:  0,
			AnomalyBoundaryViolation: 0,
			AnomalyAttributeMismatch: 0,
		},
		expectedPatterns: make(map[string]PatternRecord),
		chains:           make(map[string]chainSnapshot),
		boundaries:       make(map[string]map[string]boundarySnapshot),
		propagations:     make(map[string]propagationSnapshot),
	}
}

// SetThreshold adjusts the tolerated occurrence count for one anomaly type
func (m *Monitor) SetThreshold(anomaly AnomalyType, tolerance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds[anomaly] = tolerance
}

// Threshold returns the tolerance for one anomaly type
func (m *Monitor) Threshold(anomaly AnomalyType) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds[anomaly]
}

// SetExpectedPattern registers the expected relationships for a pattern id.
// Patterns without an expectation are skipped during comparison.
func (m *Monitor) SetExpectedPattern(patternID string, record PatternRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expectedPatterns[patternID] = record
}

// Configure recognizes anomaly_thresholds (anomaly name → numeric tolerance)
// and expected_inheritance_patterns (pattern id → parent → children); other
// keys are stored verbatim. Malformed values are logged and skipped.
func (m *Monitor) Configure(settings map[string]any) {
	if raw, ok := settings["anomaly_thresholds"]; ok {
		if table, ok := raw.(map[string]any); ok {
			for name, v := range table {
				if tolerance, ok := asFloat(v); ok {
					m.SetThreshold(AnomalyType(name), tolerance)
				} else {
					m.Logger().Warn("ignoring malformed anomaly threshold",
						zap.String("anomaly", name), zap.Any("value", v))
				}
			}
		} else {
			m.Logger().Warn("ignoring malformed anomaly_thresholds", zap.Any("value", raw))
		}
	}

	if raw, ok := settings["expected_inheritance_patterns"]; ok {
		if table, ok := raw.(map[string]PatternRecord); ok {
			for id, record := range table {
				m.SetExpectedPattern(id, record)
			}
		} else {
			m.Logger().Warn("ignoring malformed expected_inheritance_patterns", zap.Any("value", raw))
		}
	}

	m.BaseMonitor.Configure(settings)
}

// Execute runs the four checks over whatever the source currently holds.
// An empty source is a no-op.
func (m *Monitor) Execute(ctx context.Context) error {
	if m.source == nil {
		m.Logger().Debug("no inheritance source attached, skipping pass")
		return nil
	}

	m.verifyChains()
	m.detectPatternAnomalies()
	m.monitorBoundaries()
	m.trackAttributePropagation()
	return nil
}

// verifyChains checks every entity's chain for loops, then for membership
// asymmetry between declared and actual. The loop check runs first because
// it is the more severe failure; both checks may emit for the same entity,
// each at most once.
func (m *Monitor) verifyChains() {
	chains := m.source.Chains()
	if len(chains) == 0 {
		m.Logger().Debug("no inheritance chains to verify")
		return
	}

	now := time.Now()
	for entityID, record := range chains {
		if indicators := loopIndicators(record.Actual); float64(len(indicators)) > m.Threshold(AnomalyInheritanceLoop) {
			m.Emit(domain.EventTypeInheritanceLoop, map[string]any{
				"entity_id":       entityID,
				"loop_indicators": indicators,
				"actual_chain":    record.Actual,
			}, domain.SeverityCritical)
		}

		missing := setDifference(record.Declared, record.Actual)
		extra := setDifference(record.Actual, record.Declared)
		if float64(len(missing)+len(extra)) > m.Threshold(AnomalyIncompleteChain) {
			m.Emit(domain.EventTypeIncompleteChain, map[string]any{
				"entity_id":         entityID,
				"missing_ancestors": missing,
				"extra_ancestors":   extra,
				"declared_chain":    record.Declared,
				"actual_chain":      record.Actual,
			}, domain.SeverityHigh)
		}

		m.mu.Lock()
		m.chains[entityID] = chainSnapshot{
			Declared:   record.Declared,
			Actual:     record.Actual,
			ObservedAt: now,
		}
		m.mu.Unlock()
	}
}

// detectPatternAnomalies diffs each observed pattern against its configured
// expectation. Patterns with no expectation are skipped.
func (m *Monitor) detectPatternAnomalies() {
	patterns := m.source.Patterns()
	if len(patterns) == 0 {
		m.Logger().Debug("no inheritance patterns to inspect")
		return
	}

	for patternID, current := range patterns {
		m.mu.Lock()
		expected, ok := m.expectedPatterns[patternID]
		m.mu.Unlock()
		if !ok {
			continue
		}

		anomalies := diffRelationships(current.Relationships, expected.Relationships)
		if float64(len(anomalies)) > m.Threshold(AnomalyPatternDeviation) {
			m.Emit(domain.EventTypeUnusualPattern, map[string]any{
				"pattern_id":             patternID,
				"anomalies":              anomalies,
				"current_relationships":  current.Relationships,
				"expected_relationships": expected.Relationships,
			}, domain.SeverityMedium)
		}
	}
}

// monitorBoundaries flags entities that carry inheritance across a
// boundary that forbids it. Every observation is recorded whether or not
// it violates.
func (m *Monitor) monitorBoundaries() {
	boundaries := m.source.Boundaries()
	if len(boundaries) == 0 {
		m.Logger().Debug("no boundary observations to inspect")
		return
	}

	threshold := m.Threshold(AnomalyBoundaryViolation)
	now := time.Now()
	for boundaryID, boundary := range boundaries {
		violators := make([]string, 0)
		if !boundary.AllowsInheritance {
			for entityID, entity := range boundary.Entities {
				if entity.HasInheritance {
					violators = append(violators, entityID)
				}
			}
		}
		sort.Strings(violators)

		if float64(len(violators)) > threshold {
			for _, entityID := range violators {
				entity := boundary.Entities[entityID]
				m.Emit(domain.EventTypeBoundaryViolation, map[string]any{
					"boundary_id":        boundaryID,
					"entity_id":          entityID,
					"allows_inheritance": boundary.AllowsInheritance,
					"has_inheritance":    entity.HasInheritance,
					"inheritance_chain":  entity.Chain,
				}, domain.SeverityHigh)
			}
		}

		m.mu.Lock()
		observations, ok := m.boundaries[boundaryID]
		if !ok {
			observations = make(map[string]boundarySnapshot)
			m.boundaries[boundaryID] = observations
		}
		for entityID, entity := range boundary.Entities {
			observations[entityID] = boundarySnapshot{
				AllowsInheritance: boundary.AllowsInheritance,
				HasInheritance:    entity.HasInheritance,
				Chain:             entity.Chain,
				ObservedAt:        now,
			}
		}
		m.mu.Unlock()
	}
}

// trackAttributePropagation diffs each entity's expected attributes against
// what it actually inherited. Missing keys and value mismatches emit
// independently; both may fire for the same entity in the same pass.
func (m *Monitor) trackAttributePropagation() {
	propagations := m.source.Propagations()
	if len(propagations) == 0 {
		m.Logger().Debug("no propagation records to inspect")
		return
	}

	threshold := m.Threshold(AnomalyAttributeMismatch)
	now := time.Now()
	for entityID, propagation := range propagations {
		missing := make([]string, 0)
		inconsistent := make([]map[string]any, 0)

		keys := make([]string, 0, len(propagation.Expected))
		for key := range propagation.Expected {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			want := propagation.Expected[key]
			got, ok := propagation.Inherited[key]
			switch {
			case !ok:
				missing = append(missing, key)
			case !equalValues(want, got):
				inconsistent = append(inconsistent, map[string]any{
					"attribute": key,
					"expected":  want,
					"actual":    got,
				})
			}
		}

		if float64(len(missing)) > threshold {
			m.Emit(domain.EventTypePropagationFailure, map[string]any{
				"entity_id":          entityID,
				"missing_attributes": missing,
				"inheritance_chain":  propagation.Chain,
			}, domain.SeverityHigh)
		}
		if float64(len(inconsistent)) > threshold {
			m.Emit(domain.EventTypeInconsistentAttrs, map[string]any{
				"entity_id":               entityID,
				"inconsistent_attributes": inconsistent,
				"inheritance_chain":       propagation.Chain,
			}, domain.SeverityHigh)
		}

		m.mu.Lock()
		m.propagations[entityID] = propagationSnapshot{
			Inherited:    propagation.Inherited,
			Expected:     propagation.Expected,
			Chain:        propagation.Chain,
			Missing:      missing,
			Inconsistent: inconsistent,
			ObservedAt:   now,
		}
		m.mu.Unlock()
	}
}

// ChainHistorySize reports how many entities have recorded chain snapshots
func (m *Monitor) ChainHistorySize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chains)
}

// loopIndicators returns the ids appearing more than once in the chain, in
// first-duplicate order. This is a multiplicity check, not full cycle
// extraction: presence of any repeat marks the chain as looping.
func loopIndicators(chain []string) []string {
	counts := make(map[string]int, len(chain))
	indicators := make([]string, 0)
	for _, id := range chain {
		counts[id]++
		if counts[id] == 2 {
			indicators = append(indicators, id)
		}
	}
	return indicators
}

// setDifference returns the members of a absent from b, sorted
func setDifference(a, b []string) []string {
	present := make(map[string]struct{}, len(b))
	for _, id := range b {
		present[id] = struct{}{}
	}

	seen := make(map[string]struct{}, len(a))
	out := make([]string, 0)
	for _, id := range a {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := present[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// diffRelationships compares observed parent→children relationships
// against the expectation, producing one anomaly entry per deviation
func diffRelationships(current, expected map[string][]string) []map[string]any {
	anomalies := make([]map[string]any, 0)

	expectedParents := sortedKeys(expected)
	for _, parent := range expectedParents {
		children, ok := current[parent]
		if !ok {
			anomalies = append(anomalies, map[string]any{
				"type":   "missing_parent",
				"parent": parent,
			})
			continue
		}
		if missing := setDifference(expected[parent], children); len(missing) > 0 {
			anomalies = append(anomalies, map[string]any{
				"type":     "missing_children",
				"parent":   parent,
				"children": missing,
			})
		}
	}

	currentParents := sortedKeys(current)
	for _, parent := range currentParents {
		children := current[parent]
		if _, ok := expected[parent]; !ok {
			anomalies = append(anomalies, map[string]any{
				"type":   "unexpected_parent",
				"parent": parent,
			})
			continue
		}
		if extra := setDifference(children, expected[parent]); len(extra) > 0 {
			anomalies = append(anomalies, map[string]any{
				"type":     "unexpected_children",
				"parent":   parent,
				"children": extra,
			})
		}
	}

	return anomalies
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// equalValues compares attribute values by deep equality, with numeric
// values normalized so ints that crossed a JSON boundary as float64
// still compare equal
func equalValues(a, b any) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
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
