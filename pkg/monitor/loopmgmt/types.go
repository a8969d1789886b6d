package loopmgmt

import (
	"sync"
	"time"
)

// StatusSuccess is the status value meaning a loop finished or persisted
// cleanly; anything else is an issue.
const StatusSuccess = "success"

// ExecutionMetrics is one loop's current execution snapshot
type ExecutionMetrics struct {
	CurrentIteration   int     `json:"current_iteration" yaml:"current_iteration"`
	ExpectedIterations int     `json:"expected_iterations" yaml:"expected_iterations"`
	ExecutionTime      float64 `json:"execution_time" yaml:"execution_time"`
	SuccessRate        float64 `json:"success_rate" yaml:"success_rate"`
}

// TerminationRecord describes how a loop ended
type TerminationRecord struct {
	Status              string `json:"status" yaml:"status"`
	Reason              string `json:"reason" yaml:"reason"`
	CompletedIterations int    `json:"completed_iterations" yaml:"completed_iterations"`
	ExpectedIterations  int    `json:"expected_iterations" yaml:"expected_iterations"`
}

// StateSnapshot captures a loop's persisted state against expectation
type StateSnapshot struct {
	PersistenceStatus string         `json:"persistence_status" yaml:"persistence_status"`
	Persisted         map[string]any `json:"persisted_state" yaml:"persisted_state"`
	Expected          map[string]any `json:"expected_state" yaml:"expected_state"`
}

// ResourceSample is one loop's normalized utilization fractions
type ResourceSample struct {
	CPUUsage    float64 `json:"cpu_usage" yaml:"cpu_usage"`
	MemoryUsage float64 `json:"memory_usage" yaml:"memory_usage"`
	DiskIO      float64 `json:"disk_io" yaml:"disk_io"`
	NetworkIO   float64 `json:"network_io" yaml:"network_io"`
}

// Source supplies the loop snapshots the monitor inspects, all keyed by
// loop id. Production wires live queries; tests and snapshot files use
// StaticSource.
type Source interface {
	Executions() map[string]ExecutionMetrics
	Terminations() map[string]TerminationRecord
	States() map[string]StateSnapshot
	Resources() map[string]ResourceSample
}

// StaticSource implements Source over plain maps
type StaticSource struct {
	mu           sync.RWMutex
	executions   map[string]ExecutionMetrics
	terminations map[string]TerminationRecord
	states       map[string]StateSnapshot
	resources    map[string]ResourceSample
}

// NewStaticSource creates an empty static source
func NewStaticSource() *StaticSource {
	return &StaticSource{
		executions:   make(map[string]ExecutionMetrics),
		terminations: make(map[string]TerminationRecord),
		states:       make(map[string]StateSnapshot),
		resources:    make(map[string]ResourceSample),
	}
}

// SetExecution records a loop's execution metrics
func (s *StaticSource) SetExecution(loopID string, metrics ExecutionMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[loopID] = metrics
}

// SetTermination records how a loop ended
func (s *StaticSource) SetTermination(loopID string, record TerminationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminations[loopID] = record
}

// SetState records a loop's persisted state snapshot
func (s *StaticSource) SetState(loopID string, snapshot StateSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[loopID] = snapshot
}

// SetResources records a loop's resource usage sample
func (s *StaticSource) SetResources(loopID string, sample ResourceSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[loopID] = sample
}

func (s *StaticSource) Executions() map[string]ExecutionMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ExecutionMetrics, len(s.executions))
	for k, v := range s.executions {
		out[k] = v
	}
	return out
}

func (s *StaticSource) Terminations() map[string]TerminationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]TerminationRecord, len(s.terminations))
	for k, v := range s.terminations {
		out[k] = v
	}
	return out
}

func (s *StaticSource) States() map[string]StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]StateSnapshot, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}

func (s *StaticSource) Resources() map[string]ResourceSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ResourceSample, len(s.resources))
	for k, v := range s.resources {
		out[k] = v
	}
	return out
}

// executionSnapshot is what the monitor retains per loop after each pass
type executionSnapshot struct {
	Metrics    ExecutionMetrics
	ObservedAt time.Time
}

type terminationSnapshot struct {
	Record     TerminationRecord
	ObservedAt time.Time
}

type stateRecord struct {
	Snapshot        StateSnapshot
	Inconsistencies []map[string]any
	ObservedAt      time.Time
}

type resourceSnapshot struct {
	Sample     ResourceSample
	ObservedAt time.Time
}
