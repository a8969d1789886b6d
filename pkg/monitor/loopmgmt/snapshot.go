package loopmgmt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Snapshot is the on-disk shape of injected loop telemetry
type Snapshot struct {
	Executions   map[string]ExecutionMetrics  `yaml:"executions"`
	Terminations map[string]TerminationRecord `yaml:"terminations"`
	States       map[string]StateSnapshot     `yaml:"states"`
	Resources    map[string]ResourceSample    `yaml:"resources"`
}

// LoadSnapshot reads a YAML snapshot file into a static source
func LoadSnapshot(path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read loop snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse loop snapshot %s: %w", path, err)
	}

	source := NewStaticSource()
	for id, metrics := range snapshot.Executions {
		source.SetExecution(id, metrics)
	}
	for id, record := range snapshot.Terminations {
		source.SetTermination(id, record)
	}
	for id, state := range snapshot.States {
		source.SetState(id, state)
	}
	for id, sample := range snapshot.Resources {
		source.SetResources(id, sample)
	}
	return source, nil
}
