// Package loopmgmt monitors governed loop health: execution success,
// runaway iteration, termination correctness, state persistence, and
// resource utilization.
package loopmgmt

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
const DefaultName = "loop_management"

const (
	// DefaultInfiniteLoopMultiplier flags a loop whose iteration count
	// exceeds expectation by this factor
	DefaultInfiniteLoopMultiplier = 10.0

	// DefaultOverutilizationThreshold flags any resource fraction above it
	DefaultOverutilizationThreshold = 0.8
)

// Monitor runs four independent loop checks per pass
type Monitor struct {
	*monitor.BaseMonitor
	source Source

	mu                       sync.Mutex
	infiniteLoopMultiplier   float64
	overutilizationThreshold float64

	// last-observed snapshots per loop, kept for inspection; bounded only
	// by the loop population
	executions   map[string]executionSnapshot
	terminations map[string]terminationSnapshot
	states       map[string]stateRecord
	resources    map[string]resourceSnapshot
}

// New creates a loop-management monitor reading from the given source
func New(source Source, logger *zap.Logger) *Monitor {
	return &Monitor{
		BaseMonitor:              monitor.NewBaseMonitor(DefaultName, logger),
		source:                   source,
		infiniteLoopMultiplier:   DefaultInfiniteLoopMultiplier,
		overutilizationThreshold: DefaultOverutilizationThreshold,
		executions:               make(map[string]executionSnapshot),
		terminations:             make(map[string]terminationSnapshot),
		states:                   make(map[string]stateRecord),
		resources:                make(map[string]resourceSnapshot),
	}
}

// InfiniteLoopMultiplier returns the runaway-iteration factor
func (m *Monitor) InfiniteLoopMultiplier() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.infiniteLoopMultiplier
}

// SetInfiniteLoopMultiplier adjusts the runaway-iteration factor;
// non-positive values are ignored
func (m *Monitor) SetInfiniteLoopMultiplier(multiplier float64) {
	if multiplier <= 0 {
		m.Logger().Warn("ignoring non-positive infinite loop multiplier",
			zap.Float64("multiplier", multiplier))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infiniteLoopMultiplier = multiplier
}

// OverutilizationThreshold returns the resource usage ceiling
func (m *Monitor) OverutilizationThreshold() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overutilizationThreshold
}

// SetOverutilizationThreshold adjusts the resource usage ceiling;
// out-of-range values are ignored
func (m *Monitor) SetOverutilizationThreshold(threshold float64) {
	if threshold <= 0 || threshold > 1 {
		m.Logger().Warn("ignoring out-of-range overutilization threshold",
			zap.Float64("threshold", threshold))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overutilizationThreshold = threshold
}

// Configure recognizes anomaly_thresholds with infinite_loop and
// resource_overutilization entries; other keys are stored verbatim
func (m *Monitor) Configure(settings map[string]any) {
	if raw, ok := settings["anomaly_thresholds"]; ok {
		if table, ok := raw.(map[string]any); ok {
			if v, ok := table["infinite_loop"]; ok {
				if f, ok := asFloat(v); ok {
					m.SetInfiniteLoopMultiplier(f)
				} else {
					m.Logger().Warn("ignoring malformed infinite_loop threshold", zap.Any("value", v))
				}
			}
			if v, ok := table["resource_overutilization"]; ok {
				if f, ok := asFloat(v); ok {
					m.SetOverutilizationThreshold(f)
				} else {
					m.Logger().Warn("ignoring malformed resource_overutilization threshold", zap.Any("value", v))
				}
			}
		} else {
			m.Logger().Warn("ignoring malformed anomaly_thresholds", zap.Any("value", raw))
		}
	}

	m.BaseMonitor.Configure(settings)
}

// Execute runs the four checks over whatever the source currently holds.
// An empty source is a no-op.
func (m *Monitor) Execute(ctx context.Context) error {
	if m.source == nil {
		m.Logger().Debug("no loop source attached, skipping pass")
		return nil
	}

	m.monitorExecution()
	m.detectTerminationIssues()
	m.verifyStatePersistence()
	m.trackResourceUtilization()
	return nil
}

// monitorExecution flags loops with failed iterations and loops that have
// run far past their expected iteration count. Both checks are independent
// and may fire for the same loop in one pass.
func (m *Monitor) monitorExecution() {
	executions := m.source.Executions()
	if len(executions) == 0 {
		m.Logger().Debug("no loop execution metrics to inspect")
		return
	}

	multiplier := m.InfiniteLoopMultiplier()
	now := time.Now()
	for loopID, metrics := range executions {
		if metrics.SuccessRate < 1.0 {
			m.Emit(domain.EventTypeLoopExecutionFailure, map[string]any{
				"loop_id":      loopID,
				"success_rate": metrics.SuccessRate,
				"failure_rate": 1.0 - metrics.SuccessRate,
			}, domain.SeverityHigh)
		}

		if metrics.ExpectedIterations > 0 {
			limit := float64(metrics.ExpectedIterations) * multiplier
			if float64(metrics.CurrentIteration) > limit {
				m.Emit(domain.EventTypePotentialInfiniteLoop, map[string]any{
					"loop_id":             loopID,
					"current_iteration":   metrics.CurrentIteration,
					"expected_iterations": metrics.ExpectedIterations,
					"iteration_ratio":     float64(metrics.CurrentIteration) / float64(metrics.ExpectedIterations),
					"threshold":           multiplier,
				}, domain.SeverityCritical)
			}
		}

		m.mu.Lock()
		m.executions[loopID] = executionSnapshot{Metrics: metrics, ObservedAt: now}
		m.mu.Unlock()
	}
}

// detectTerminationIssues flags loops that did not end cleanly, and loops
// that ended cleanly but short of their expected iterations
func (m *Monitor) detectTerminationIssues() {
	terminations := m.source.Terminations()
	if len(terminations) == 0 {
		m.Logger().Debug("no termination records to inspect")
		return
	}

	now := time.Now()
	for loopID, record := range terminations {
		if record.Status != StatusSuccess {
			m.Emit(domain.EventTypeLoopTermination, map[string]any{
				"loop_id": loopID,
				"status":  record.Status,
				"reason":  record.Reason,
			}, domain.SeverityHigh)
		} else if record.ExpectedIterations > 0 && record.CompletedIterations < record.ExpectedIterations {
			m.Emit(domain.EventTypePrematureTermination, map[string]any{
				"loop_id":               loopID,
				"completed_iterations":  record.CompletedIterations,
				"expected_iterations":   record.ExpectedIterations,
				"completion_percentage": float64(record.CompletedIterations) / float64(record.ExpectedIterations) * 100,
			}, domain.SeverityMedium)
		}

		m.mu.Lock()
		m.terminations[loopID] = terminationSnapshot{Record: record, ObservedAt: now}
		m.mu.Unlock()
	}
}

// verifyStatePersistence flags failed persistence and diffs persisted
// state against expectation. The two checks are independent.
func (m *Monitor) verifyStatePersistence() {
	states := m.source.States()
	if len(states) == 0 {
		m.Logger().Debug("no state snapshots to inspect")
		return
	}

	now := time.Now()
	for loopID, snapshot := range states {
		if snapshot.PersistenceStatus != StatusSuccess {
			m.Emit(domain.EventTypePersistenceFailure, map[string]any{
				"loop_id":            loopID,
				"persistence_status": snapshot.PersistenceStatus,
			}, domain.SeverityHigh)
		}

		inconsistencies := diffState(snapshot.Persisted, snapshot.Expected)
		if len(inconsistencies) > 0 {
			m.Emit(domain.EventTypeStateInconsistency, map[string]any{
				"loop_id":         loopID,
				"inconsistencies": inconsistencies,
			}, domain.SeverityMedium)
		}

		m.mu.Lock()
		m.states[loopID] = stateRecord{
			Snapshot:        snapshot,
			Inconsistencies: inconsistencies,
			ObservedAt:      now,
		}
		m.mu.Unlock()
	}
}

// trackResourceUtilization flags loops with any resource fraction above
// the threshold, naming each offending resource
func (m *Monitor) trackResourceUtilization() {
	resources := m.source.Resources()
	if len(resources) == 0 {
		m.Logger().Debug("no resource samples to inspect")
		return
	}

	threshold := m.OverutilizationThreshold()
	now := time.Now()
	for loopID, sample := range resources {
		overutilized := make([]map[string]any, 0)
		for _, usage := range []struct {
			resource string
			value    float64
		}{
			{"cpu", sample.CPUUsage},
			{"memory", sample.MemoryUsage},
			{"disk_io", sample.DiskIO},
			{"network_io", sample.NetworkIO},
		} {
			if usage.value > threshold {
				overutilized = append(overutilized, map[string]any{
					"resource":  usage.resource,
					"value":     usage.value,
					"threshold": threshold,
				})
			}
		}

		if len(overutilized) > 0 {
			m.Emit(domain.EventTypeResourceOveruse, map[string]any{
				"loop_id":                loopID,
				"overutilized_resources": overutilized,
				"resource_usage": map[string]any{
					"cpu_usage":    sample.CPUUsage,
					"memory_usage": sample.MemoryUsage,
					"disk_io":      sample.DiskIO,
					"network_io":   sample.NetworkIO,
				},
			}, domain.SeverityHigh)
		}

		m.mu.Lock()
		m.resources[loopID] = resourceSnapshot{Sample: sample, ObservedAt: now}
		m.mu.Unlock()
	}
}

// ExecutionHistorySize reports how many loops have recorded execution snapshots
func (m *Monitor) ExecutionHistorySize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.executions)
}

// diffState compares persisted state against expectation: expected keys
// missing from persisted, values that differ, and persisted keys nothing
// expected
func diffState(persisted, expected map[string]any) []map[string]any {
	inconsistencies := make([]map[string]any, 0)

	for _, key := range sortedKeys(expected) {
		want := expected[key]
		got, ok := persisted[key]
		switch {
		case !ok:
			inconsistencies = append(inconsistencies, map[string]any{
				"type": "missing_key",
				"key":  key,
			})
		case !equalValues(want, got):
			inconsistencies = append(inconsistencies, map[string]any{
				"type":     "value_mismatch",
				"key":      key,
				"expected": want,
				"actual":   got,
			})
		}
	}

	for _, key := range sortedKeys(persisted) {
		if _, ok := expected[key]; !ok {
			inconsistencies = append(inconsistencies, map[string]any{
				"type": "unexpected_key",
				"key":  key,
			})
		}
	}

	return inconsistencies
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

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
