package framework

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yairfalse/govwatch/pkg/collector"
	"github.com/yairfalse/govwatch/pkg/domain"
	"github.com/yairfalse/govwatch/pkg/monitor"
)

// recordingHandler implements handler.Handler and remembers every event
type recordingHandler struct {
	name    string
	enabled bool

	mu     sync.Mutex
	events []*domain.Event
}

func newRecordingHandler(name string) *recordingHandler {
	return &recordingHandler{name: name, enabled: true}
}

func (h *recordingHandler) Name() string             { return h.name }
func (h *recordingHandler) Enabled() bool            { return h.enabled }
func (h *recordingHandler) SetEnabled(enabled bool)  { h.enabled = enabled }
func (h *recordingHandler) Configure(map[string]any) {}
func (h *recordingHandler) HandleEvent(e *domain.Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
	return true
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

// panickyHandler implements handler.Handler and always panics
type panickyHandler struct{ name string }

func (h *panickyHandler) Name() string                   { return h.name }
func (h *panickyHandler) Enabled() bool                  { return true }
func (h *panickyHandler) SetEnabled(bool)                {}
func (h *panickyHandler) Configure(map[string]any)       {}
func (h *panickyHandler) HandleEvent(*domain.Event) bool { panic("bad handler") }

// snapshotCollector returns a fixed snapshot on every collection
type snapshotCollector struct {
	*collector.BaseCollector
	mu       sync.Mutex
	snapshot map[string]any
	err      error
	calls    int
}

func (c *snapshotCollector) Collect(ctx context.Context) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.snapshot, c.err
}

func (c *snapshotCollector) collectCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// emittingMonitor emits one fixed event per pass
type emittingMonitor struct {
	*monitor.BaseMonitor
	severity domain.Severity
}

func (m *emittingMonitor) Execute(ctx context.Context) error {
	m.Emit("test_condition", map[string]any{"pass": true}, m.severity)
	return nil
}

// failingMonitor always errors
type failingMonitor struct {
	*monitor.BaseMonitor
}

func (m *failingMonitor) Execute(ctx context.Context) error {
	return errors.New("telemetry unavailable")
}

func newFramework(t *testing.T, opts Options) *Framework {
	t.Helper()
	f, err := New(opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	return f
}

func TestHistoryBounding(t *testing.T) {
	f := newFramework(t, Options{MaxHistorySize: 5})

	var ids []string
	for i := 0; i < 8; i++ {
		e := domain.NewEvent(fmt.Sprintf("event_%d", i), "tests", nil, domain.SeverityInfo)
		e.Timestamp = time.Now().Add(time.Duration(i) * time.Millisecond)
		ids = append(ids, e.ID)
		f.ProcessEvent(e)
	}

	assert.Equal(t, 5, f.HistorySize())

	// exactly the most recent five, most recent first
	recent := f.RecentEvents(0)
	require.Len(t, recent, 5)
	for i, e := range recent {
		assert.Equal(t, ids[7-i], e.ID)
	}
}

func TestHandlerIsolation(t *testing.T) {
	f := newFramework(t, Options{})

	// name-sorted dispatch puts the panicking handler first
	f.RegisterHandler(&panickyHandler{name: "a-panicky"})
	good := newRecordingHandler("b-recorder")
	f.RegisterHandler(good)

	for i := 0; i < 10; i++ {
		f.ProcessEvent(domain.NewEvent("test_condition", "tests", nil, domain.SeverityLow))
	}

	assert.Equal(t, 10, good.count())
	assert.Equal(t, 10, f.HistorySize())
}

func TestDisabledHandlerSkipped(t *testing.T) {
	f := newFramework(t, Options{})
	h := newRecordingHandler("recorder")
	h.SetEnabled(false)
	f.RegisterHandler(h)

	f.ProcessEvent(domain.NewEvent("test_condition", "tests", nil, domain.SeverityLow))
	assert.Zero(t, h.count())
}

func TestRecentEventsFiltering(t *testing.T) {
	f := newFramework(t, Options{})

	emit := func(source string, sev domain.Severity) {
		f.ProcessEvent(domain.NewEvent("test_condition", source, nil, sev))
	}
	emit("alpha", domain.SeverityInfo)
	emit("alpha", domain.SeverityHigh)
	emit("beta", domain.SeverityHigh)
	emit("beta", domain.SeverityCritical)

	t.Run("no filter returns everything", func(t *testing.T) {
		assert.Len(t, f.RecentEvents(0), 4)
	})

	t.Run("count caps the result", func(t *testing.T) {
		recent := f.RecentEvents(2)
		require.Len(t, recent, 2)
		assert.Equal(t, domain.SeverityCritical, recent[0].Severity)
	})

	t.Run("severity filter", func(t *testing.T) {
		recent := f.RecentEvents(0, WithSeverities(domain.SeverityHigh))
		assert.Len(t, recent, 2)
	})

	t.Run("source filter", func(t *testing.T) {
		recent := f.RecentEvents(0, WithSources("alpha"))
		assert.Len(t, recent, 2)
	})

	t.Run("filters combine", func(t *testing.T) {
		recent := f.RecentEvents(0, WithSeverities(domain.SeverityHigh), WithSources("alpha"))
		require.Len(t, recent, 1)
		assert.Equal(t, "alpha", recent[0].Source)
	})

	t.Run("no match is empty", func(t *testing.T) {
		assert.Empty(t, f.RecentEvents(0, WithSources("gamma")))
	})
}

func TestRegistrationOverwrite(t *testing.T) {
	f := newFramework(t, Options{})

	first := newRecordingHandler("shared-name")
	second := newRecordingHandler("shared-name")
	f.RegisterHandler(first)
	f.RegisterHandler(second)

	f.ProcessEvent(domain.NewEvent("test_condition", "tests", nil, domain.SeverityLow))
	assert.Zero(t, first.count())
	assert.Equal(t, 1, second.count())
}

func TestLifecycleIdempotence(t *testing.T) {
	f := newFramework(t, Options{CollectionTick: 10 * time.Millisecond, MonitorTick: 10 * time.Millisecond})

	assert.False(t, f.Running())
	f.Start(context.Background())
	assert.True(t, f.Running())

	assert.NotPanics(t, func() { f.Start(context.Background()) })
	assert.True(t, f.Running())

	f.Stop()
	assert.False(t, f.Running())
	assert.NotPanics(t, func() { f.Stop() })
}

func TestCollectionLoop(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("non-empty snapshots become data_collection events", func(t *testing.T) {
		f := newFramework(t, Options{CollectionTick: 10 * time.Millisecond, MonitorTick: time.Hour})

		c := &snapshotCollector{
			BaseCollector: collector.NewBaseCollector("telemetry", logger),
			snapshot:      map[string]any{"entities": 3},
		}
		c.SetInterval(time.Millisecond)
		f.RegisterCollector(c)

		sink := newRecordingHandler("recorder")
		f.RegisterHandler(sink)

		f.Start(context.Background())
		defer f.Stop()

		require.Eventually(t, func() bool { return sink.count() > 0 }, 2*time.Second, 10*time.Millisecond)

		recent := f.RecentEvents(1)
		require.Len(t, recent, 1)
		event := recent[0]
		assert.Equal(t, domain.EventTypeDataCollection, event.Type)
		assert.Equal(t, "telemetry", event.Source)
		assert.Equal(t, domain.SeverityInfo, event.Severity)
		assert.Equal(t, map[string]any{"entities": 3}, event.Details["collected_data"])
	})

	t.Run("empty snapshots produce no events", func(t *testing.T) {
		f := newFramework(t, Options{CollectionTick: 10 * time.Millisecond, MonitorTick: time.Hour})

		c := &snapshotCollector{BaseCollector: collector.NewBaseCollector("quiet", logger)}
		c.SetInterval(time.Millisecond)
		f.RegisterCollector(c)

		f.Start(context.Background())
		defer f.Stop()

		require.Eventually(t, func() bool { return c.collectCalls() > 0 }, 2*time.Second, 10*time.Millisecond)
		assert.Zero(t, f.HistorySize())
	})

	t.Run("interval gates repeated collection", func(t *testing.T) {
		f := newFramework(t, Options{CollectionTick: 5 * time.Millisecond, MonitorTick: time.Hour})

		c := &snapshotCollector{
			BaseCollector: collector.NewBaseCollector("slow", logger),
			snapshot:      map[string]any{"k": "v"},
		}
		c.SetInterval(time.Hour)
		f.RegisterCollector(c)

		f.Start(context.Background())
		time.Sleep(100 * time.Millisecond)
		f.Stop()

		assert.Equal(t, 1, c.collectCalls())
	})

	t.Run("failing collector does not stop its siblings", func(t *testing.T) {
		f := newFramework(t, Options{CollectionTick: 10 * time.Millisecond, MonitorTick: time.Hour})

		bad := &snapshotCollector{
			BaseCollector: collector.NewBaseCollector("a-bad", logger),
			err:           errors.New("source unreachable"),
		}
		bad.SetInterval(time.Millisecond)
		good := &snapshotCollector{
			BaseCollector: collector.NewBaseCollector("b-good", logger),
			snapshot:      map[string]any{"ok": true},
		}
		good.SetInterval(time.Millisecond)
		f.RegisterCollector(bad)
		f.RegisterCollector(good)

		f.Start(context.Background())
		defer f.Stop()

		require.Eventually(t, func() bool {
			return len(f.RecentEvents(0, WithSources("b-good"))) > 0
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("disabled collector is never polled", func(t *testing.T) {
		f := newFramework(t, Options{CollectionTick: 5 * time.Millisecond, MonitorTick: time.Hour})

		c := &snapshotCollector{
			BaseCollector: collector.NewBaseCollector("disabled", logger),
			snapshot:      map[string]any{"k": "v"},
		}
		c.SetEnabled(false)
		f.RegisterCollector(c)

		f.Start(context.Background())
		time.Sleep(50 * time.Millisecond)
		f.Stop()

		assert.Zero(t, c.collectCalls())
	})
}

func TestMonitorLoop(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("monitors execute and emit through the framework", func(t *testing.T) {
		f := newFramework(t, Options{CollectionTick: time.Hour, MonitorTick: 10 * time.Millisecond})

		m := &emittingMonitor{
			BaseMonitor: monitor.NewBaseMonitor("emitter", logger),
			severity:    domain.SeverityMedium,
		}
		f.RegisterMonitor(m)

		f.Start(context.Background())
		defer f.Stop()

		require.Eventually(t, func() bool { return f.HistorySize() > 0 }, 2*time.Second, 10*time.Millisecond)

		recent := f.RecentEvents(1)
		require.Len(t, recent, 1)
		assert.Equal(t, "emitter", recent[0].Source)
		assert.True(t, m.ExecutionCount() > 0)
	})

	t.Run("failing monitor does not abort the tick for its siblings", func(t *testing.T) {
		f := newFramework(t, Options{CollectionTick: time.Hour, MonitorTick: 10 * time.Millisecond})

		f.RegisterMonitor(&failingMonitor{BaseMonitor: monitor.NewBaseMonitor("a-failing", logger)})
		ok := &emittingMonitor{
			BaseMonitor: monitor.NewBaseMonitor("b-healthy", logger),
			severity:    domain.SeverityLow,
		}
		f.RegisterMonitor(ok)

		f.Start(context.Background())
		defer f.Stop()

		require.Eventually(t, func() bool {
			return len(f.RecentEvents(0, WithSources("b-healthy"))) > 0
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("disabled monitor is never executed", func(t *testing.T) {
		f := newFramework(t, Options{CollectionTick: time.Hour, MonitorTick: 5 * time.Millisecond})

		m := &emittingMonitor{
			BaseMonitor: monitor.NewBaseMonitor("idle", logger),
			severity:    domain.SeverityLow,
		}
		m.SetEnabled(false)
		f.RegisterMonitor(m)

		f.Start(context.Background())
		time.Sleep(50 * time.Millisecond)
		f.Stop()

		assert.Zero(t, m.ExecutionCount())
		assert.Zero(t, f.HistorySize())
	})
}

func TestStopIsBounded(t *testing.T) {
	f := newFramework(t, Options{
		CollectionTick: 10 * time.Millisecond,
		MonitorTick:    10 * time.Millisecond,
		StopTimeout:    time.Second,
	})

	f.Start(context.Background())

	done := make(chan struct{})
	go func() {
		f.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return within the bounded timeout")
	}
}
