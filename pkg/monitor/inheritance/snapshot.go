package inheritance

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Snapshot is the on-disk shape of injected governance telemetry. The
// daemon loads one into a StaticSource; a live deployment replaces the
// source with real queries instead.
type Snapshot struct {
	Chains       map[string]ChainRecord   `yaml:"chains"`
	Patterns     map[string]PatternRecord `yaml:"patterns"`
	Boundaries   map[string]Boundary      `yaml:"boundaries"`
	Propagations map[string]Propagation   `yaml:"propagations"`
}

// LoadSnapshot reads a YAML snapshot file into a static source
func LoadSnapshot(path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inheritance snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse inheritance snapshot %s: %w", path, err)
	}

	source := NewStaticSource()
	for id, record := range snapshot.Chains {
		source.SetChain(id, record)
	}
	for id, record := range snapshot.Patterns {
		source.SetPattern(id, record)
	}
	for id, boundary := range snapshot.Boundaries {
		source.SetBoundary(id, boundary)
	}
	for id, propagation := range snapshot.Propagations {
		source.SetPropagation(id, propagation)
	}
	return source, nil
}
