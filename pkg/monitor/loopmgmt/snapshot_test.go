package loopmgmt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSnapshot(t *testing.T) {
	t.Run("full snapshot", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "loops.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
executions:
  loop-1:
    current_iteration: 101
    expected_iterations: 10
    success_rate: 0.9
terminations:
  loop-1:
    status: aborted
    reason: watchdog
    completed_iterations: 4
    expected_iterations: 10
states:
  loop-1:
    persistence_status: success
    persisted_state:
      cursor: 7
    expected_state:
      cursor: 10
resources:
  loop-1:
    cpu_usage: 0.9
    memory_usage: 0.4
    disk_io: 0.1
    network_io: 0.2
`), 0o644))

		source, err := LoadSnapshot(path)
		require.NoError(t, err)

		executions := source.Executions()
		require.Contains(t, executions, "loop-1")
		assert.Equal(t, 101, executions["loop-1"].CurrentIteration)
		assert.Equal(t, 0.9, executions["loop-1"].SuccessRate)

		assert.Equal(t, "aborted", source.Terminations()["loop-1"].Status)
		assert.Equal(t, "success", source.States()["loop-1"].PersistenceStatus)
		assert.Equal(t, 0.9, source.Resources()["loop-1"].CPUUsage)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadSnapshot(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
