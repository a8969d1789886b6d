package inheritance

import (
	"sync"
	"time"
)

// AnomalyType keys the monitor's tolerance table
type AnomalyType string

const (
	AnomalyInheritanceLoop   AnomalyType = "inheritance_loop"
	AnomalyIncompleteChain   AnomalyType = "incomplete_chain"
	AnomalyPatternDeviation  AnomalyType = "pattern_deviation"
	AnomalyBoundaryViolation AnomalyType = "boundary_violation"
	AnomalyAttributeMismatch AnomalyType = "attribute_mismatch"
)

// ChainRecord is one entity's inheritance chain: what was declared against
// what was actually observed. A complete chain has equal membership; order
// is not compared.
type ChainRecord struct {
	Declared []string `json:"declared_chain" yaml:"declared_chain"`
	Actual   []string `json:"actual_chain" yaml:"actual_chain"`
}

// PatternRecord describes parent→children structural relationships
// between governed entities
type PatternRecord struct {
	Relationships map[string][]string `json:"relationships" yaml:"relationships"`
}

// BoundaryEntity is one entity's inheritance posture inside a boundary
type BoundaryEntity struct {
	HasInheritance bool     `json:"has_inheritance" yaml:"has_inheritance"`
	Chain          []string `json:"inheritance_chain" yaml:"inheritance_chain"`
}

// Boundary is a governance gate that permits or forbids inherited
// attributes from crossing it
type Boundary struct {
	AllowsInheritance bool                      `json:"allows_inheritance" yaml:"allows_inheritance"`
	Entities          map[string]BoundaryEntity `json:"entities" yaml:"entities"`
}

// Propagation captures attribute flow for one entity: what it inherited
// against what it was expected to inherit
type Propagation struct {
	Inherited map[string]any `json:"inherited_attributes" yaml:"inherited_attributes"`
	Expected  map[string]any `json:"expected_attributes" yaml:"expected_attributes"`
	Chain     []string       `json:"inheritance_chain" yaml:"inheritance_chain"`
}

// Source supplies the governance snapshots the monitor inspects. Production
// wires a live query port here; tests and the daemon's snapshot files use
// StaticSource. The detection logic is identical either way.
type Source interface {
	// Chains returns declared-vs-actual inheritance chains keyed by entity id
	Chains() map[string]ChainRecord

	// Patterns returns observed structural patterns keyed by pattern id
	Patterns() map[string]PatternRecord

	// Boundaries returns boundary enforcement observations keyed by boundary id
	Boundaries() map[string]Boundary

	// Propagations returns attribute propagation records keyed by entity id
	Propagations() map[string]Propagation
}

// StaticSource implements Source over plain maps
type StaticSource struct {
	mu           sync.RWMutex
	chains       map[string]ChainRecord
	patterns     map[string]PatternRecord
	boundaries   map[string]Boundary
	propagations map[string]Propagation
}

// NewStaticSource creates an empty static source
func NewStaticSource() *StaticSource {
	return &StaticSource{
		chains:       make(map[string]ChainRecord),
		patterns:     make(map[string]PatternRecord),
		boundaries:   make(map[string]Boundary),
		propagations: make(map[string]Propagation),
	}
}

// SetChain records an entity's chain observation
func (s *StaticSource) SetChain(entityID string, record ChainRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains[entityID] = record
}

// SetPattern records an observed structural pattern
func (s *StaticSource) SetPattern(patternID string, record PatternRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns[patternID] = record
}

// SetBoundary records a boundary observation
func (s *StaticSource) SetBoundary(boundaryID string, boundary Boundary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boundaries[boundaryID] = boundary
}

// SetPropagation records an entity's attribute propagation observation
func (s *StaticSource) SetPropagation(entityID string, propagation Propagation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.propagations[entityID] = propagation
}

func (s *StaticSource) Chains() map[string]ChainRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ChainRecord, len(s.chains))
	for k, v := range s.chains {
		out[k] = v
	}
	return out
}

func (s *StaticSource) Patterns() map[string]PatternRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]PatternRecord, len(s.patterns))
	for k, v := range s.patterns {
		out[k] = v
	}
	return out
}

func (s *StaticSource) Boundaries() map[string]Boundary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Boundary, len(s.boundaries))
	for k, v := range s.boundaries {
		out[k] = v
	}
	return out
}

func (s *StaticSource) Propagations() map[string]Propagation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Propagation, len(s.propagations))
	for k, v := range s.propagations {
		out[k] = v
	}
	return out
}

// chainSnapshot is what the monitor retains per entity after each pass
type chainSnapshot struct {
	Declared   []string
	Actual     []string
	ObservedAt time.Time
}

// boundarySnapshot is the per-boundary, per-entity observation retained
// after each pass
type boundarySnapshot struct {
	AllowsInheritance bool
	HasInheritance    bool
	Chain             []string
	ObservedAt        time.Time
}

// propagationSnapshot is the full propagation record retained per entity
type propagationSnapshot struct {
	Inherited    map[string]any
	Expected     map[string]any
	Chain        []string
	Missing      []string
	Inconsistent []map[string]any
	ObservedAt   time.Time
}
