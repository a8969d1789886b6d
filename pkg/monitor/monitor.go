// Package monitor defines the anomaly-detection side of govwatch. A monitor
// periodically inspects domain state and emits events through the framework
// when it finds something wrong.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yairfalse/govwatch/pkg/domain"
)

// EventSink receives events emitted by monitors. The framework implements
// this; monitors never talk to handlers directly.
type EventSink interface {
	ProcessEvent(event *domain.Event)
}

// Monitor is a named, periodically-invoked anomaly detector
type Monitor interface {
	// Name returns the unique identifier for this monitor
	Name() string

	// Enabled reports whether the monitor loop should invoke this monitor
	Enabled() bool

	// SetEnabled toggles participation in the monitor loop
	SetEnabled(enabled bool)

	// Configure merges free-form settings; recognized keys are
	// monitor-specific, the rest are stored verbatim
	Configure(settings map[string]any)

	// Execute performs one full detection pass over currently available
	// telemetry. Repeated calls only add events, never corrupt state;
	// absent telemetry is a logged no-op.
	Execute(ctx context.Context) error

	// AttachSink wires the monitor to the framework that owns it
	AttachSink(sink EventSink)

	// MarkExecuted records the completion of a detection pass
	MarkExecuted(now time.Time)
}

// BaseMonitor carries the bookkeeping every monitor shares. Embed it and
// implement Execute.
type BaseMonitor struct {
	name   string
	logger *zap.Logger

	mu             sync.RWMutex
	enabled        bool
	sink           EventSink
	lastExecution  time.Time
	executionCount int64
	settings       map[string]any
}

// NewBaseMonitor creates a base monitor, enabled by default
func NewBaseMonitor(name string, logger *zap.Logger) *BaseMonitor {
	return &BaseMonitor{
		name:     name,
		logger:   logger,
		enabled:  true,
		settings: make(map[string]any),
	}
}

func (m *BaseMonitor) Name() string {
	return m.name
}

func (m *BaseMonitor) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

func (m *BaseMonitor) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

func (m *BaseMonitor) AttachSink(sink EventSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

// Configure stores every key verbatim; concrete monitors override to
// interpret their recognized keys first
func (m *BaseMonitor) Configure(settings map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range settings {
		m.settings[k] = v
	}
}

// Setting returns a stored configuration value
func (m *BaseMonitor) Setting(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[key]
	return v, ok
}

// Logger exposes the monitor's logger to embedding implementations
func (m *BaseMonitor) Logger() *zap.Logger {
	return m.logger
}

// Emit constructs an event sourced as this monitor and forwards it
// synchronously to the attached sink. This is the only path a monitor
// has to the outside world; handler failures are not observable here.
func (m *BaseMonitor) Emit(eventType string, details map[string]any, severity domain.Severity) {
	m.mu.RLock()
	sink := m.sink
	m.mu.RUnlock()

	if sink == nil {
		m.logger.Debug("no sink attached, dropping event",
			zap.String("monitor", m.name),
			zap.String("event_type", eventType))
		return
	}
	sink.ProcessEvent(domain.NewEvent(eventType, m.name, details, severity))
}

// MarkExecuted stamps the last execution time and bumps the count
func (m *BaseMonitor) MarkExecuted(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastExecution = now
	m.executionCount++
}

// ExecutionCount returns how many detection passes have completed
func (m *BaseMonitor) ExecutionCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.executionCount
}

// LastExecution returns when the monitor last completed a pass
func (m *BaseMonitor) LastExecution() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastExecution
}
