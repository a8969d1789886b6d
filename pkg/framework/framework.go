// Package framework coordinates monitoring: it owns the monitor, collector,
// and handler registries, the bounded event history, and the two background
// loops that drive collection and detection.
package framework

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yairfalse/govwatch/pkg/collector"
	"github.com/yairfalse/govwatch/pkg/domain"
	"github.com/yairfalse/govwatch/pkg/handler"
	"github.com/yairfalse/govwatch/pkg/monitor"
)

const (
	// DefaultMaxHistorySize bounds the sliding-window event buffer
	DefaultMaxHistorySize = 1000

	// DefaultCollectionTick is the collection loop cadence; collectors are
	// cheap and polled often, individually gated by their own intervals
	DefaultCollectionTick = time.Second

	// DefaultMonitorTick is the monitor loop cadence; monitors do heavier
	// comparison work and run less often
	DefaultMonitorTick = 5 * time.Second

	// DefaultStopTimeout bounds how long Stop waits for the loops to exit
	DefaultStopTimeout = 5 * time.Second
)

// Options tunes the framework; zero values take the defaults above
type Options struct {
	MaxHistorySize int
	CollectionTick time.Duration
	MonitorTick    time.Duration
	StopTimeout    time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxHistorySize <= 0 {
		o.MaxHistorySize = DefaultMaxHistorySize
	}
	if o.CollectionTick <= 0 {
		o.CollectionTick = DefaultCollectionTick
	}
	if o.MonitorTick <= 0 {
		o.MonitorTick = DefaultMonitorTick
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
}

// Framework is the process-wide monitoring coordinator. Construct one per
// process; all shared mutable state lives here behind its locks.
type Framework struct {
	logger *zap.Logger
	opts   Options

	mu         sync.RWMutex
	monitors   map[string]monitor.Monitor
	collectors map[string]collector.Collector
	handlers   map[string]handler.Handler
	history    []*domain.Event

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	// OTEL instrumentation
	tracer          trace.Tracer
	eventsProcessed metric.Int64Counter
	eventsDropped   metric.Int64Counter
	handlerFailures metric.Int64Counter
	processingTime  metric.Float64Histogram
}

// New creates a framework with the given options
func New(opts Options, logger *zap.Logger) (*Framework, error) {
	if logger == nil {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}
	opts.applyDefaults()

	f := &Framework{
		logger:     logger,
		opts:       opts,
		monitors:   make(map[string]monitor.Monitor),
		collectors: make(map[string]collector.Collector),
		handlers:   make(map[string]handler.Handler),
		history:    make([]*domain.Event, 0, opts.MaxHistorySize),
	}

	tracer := otel.Tracer("govwatch.framework")
	meter := otel.Meter("govwatch.framework")
	f.tracer = tracer

	var err error
	f.eventsProcessed, err = meter.Int64Counter(
		"govwatch_events_processed_total",
		metric.WithDescription("Total events processed by the framework"),
	)
	if err != nil {
		logger.Warn("Failed to create events counter", zap.Error(err))
	}

	f.eventsDropped, err = meter.Int64Counter(
		"govwatch_events_dropped_total",
		metric.WithDescription("Events dropped from the sliding-window history"),
	)
	if err != nil {
		logger.Warn("Failed to create dropped counter", zap.Error(err))
	}

	f.handlerFailures, err = meter.Int64Counter(
		"govwatch_handler_failures_total",
		metric.WithDescription("Handler invocations that failed or panicked"),
	)
	if err != nil {
		logger.Warn("Failed to create handler failures counter", zap.Error(err))
	}

	f.processingTime, err = meter.Float64Histogram(
		"govwatch_event_processing_duration_ms",
		metric.WithDescription("Event fan-out duration in milliseconds"),
	)
	if err != nil {
		logger.Warn("Failed to create processing time histogram", zap.Error(err))
	}

	return f, nil
}

// RegisterMonitor stores the monitor under its name and attaches the
// framework as its event sink. A later registration under the same name
// silently replaces the earlier one.
func (f *Framework) RegisterMonitor(m monitor.Monitor) {
	m.AttachSink(f)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.monitors[m.Name()] = m
}

// RegisterCollector stores the collector under its name, replacing any
// earlier registration
func (f *Framework) RegisterCollector(c collector.Collector) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collectors[c.Name()] = c
}

// RegisterHandler stores the handler under its name, replacing any
// earlier registration
func (f *Framework) RegisterHandler(h handler.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[h.Name()] = h
}

// ProcessEvent appends the event to the bounded history and fans it out to
// every enabled handler. One handler's failure never hides the event from
// the others.
func (f *Framework) ProcessEvent(event *domain.Event) {
	if event == nil {
		return
	}

	ctx, span := f.tracer.Start(context.Background(), "framework.process_event",
		trace.WithAttributes(
			attribute.String("event.type", event.Type),
			attribute.String("event.source", event.Source),
			attribute.String("event.severity", event.Severity.String()),
		))
	defer span.End()
	start := time.Now()

	f.mu.Lock()
	f.history = append(f.history, event)
	if overflow := len(f.history) - f.opts.MaxHistorySize; overflow > 0 {
		// sliding window: oldest events drop first
		f.history = append(f.history[:0:0], f.history[overflow:]...)
		if f.eventsDropped != nil {
			f.eventsDropped.Add(ctx, int64(overflow))
		}
	}
	targets := f.sortedHandlersLocked()
	f.mu.Unlock()

	for _, h := range targets {
		if !h.Enabled() {
			continue
		}
		f.dispatch(ctx, h, event)
	}

	if f.eventsProcessed != nil {
		f.eventsProcessed.Add(ctx, 1)
	}
	if f.processingTime != nil {
		f.processingTime.Record(ctx, float64(time.Since(start).Microseconds())/1000.0)
	}
}

// dispatch guards one handler call; a panicking handler is contained here
// even though handlers contain their own failures, as defense in depth
func (f *Framework) dispatch(ctx context.Context, h handler.Handler, event *domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("handler panicked during dispatch",
				zap.String("handler", h.Name()),
				zap.String("event_id", event.ID),
				zap.Any("panic", r))
			if f.handlerFailures != nil {
				f.handlerFailures.Add(ctx, 1, metric.WithAttributes(
					attribute.String("handler", h.Name())))
			}
		}
	}()

	if !h.HandleEvent(event) {
		f.logger.Warn("handler did not process event",
			zap.String("handler", h.Name()),
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type))
		if f.handlerFailures != nil {
			f.handlerFailures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("handler", h.Name())))
		}
	}
}

// sortedHandlersLocked snapshots the handler registry in name order so
// dispatch order is deterministic. Callers hold f.mu.
func (f *Framework) sortedHandlersLocked() []handler.Handler {
	names := make([]string, 0, len(f.handlers))
	for name := range f.handlers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]handler.Handler, 0, len(names))
	for _, name := range names {
		out = append(out, f.handlers[name])
	}
	return out
}

// FilterOption narrows a RecentEvents query
type FilterOption func(*eventFilter)

type eventFilter struct {
	severities map[domain.Severity]struct{}
	sources    map[string]struct{}
}

// WithSeverities restricts results to the given severities
func WithSeverities(severities ...domain.Severity) FilterOption {
	return func(filter *eventFilter) {
		filter.severities = make(map[domain.Severity]struct{}, len(severities))
		for _, s := range severities {
			filter.severities[s] = struct{}{}
		}
	}
}

// WithSources restricts results to events from the given sources
func WithSources(sources ...string) FilterOption {
	return func(filter *eventFilter) {
		filter.sources = make(map[string]struct{}, len(sources))
		for _, s := range sources {
			filter.sources[s] = struct{}{}
		}
	}
}

func (filter *eventFilter) matches(event *domain.Event) bool {
	if filter.severities != nil {
		if _, ok := filter.severities[event.Severity]; !ok {
			return false
		}
	}
	if filter.sources != nil {
		if _, ok := filter.sources[event.Source]; !ok {
			return false
		}
	}
	return true
}

// RecentEvents returns up to count matching events, most recent first.
// Absent filters mean no restriction.
func (f *Framework) RecentEvents(count int, opts ...FilterOption) []*domain.Event {
	filter := &eventFilter{}
	for _, opt := range opts {
		opt(filter)
	}

	f.mu.RLock()
	matched := make([]*domain.Event, 0, count)
	// walk newest-first so emission order breaks timestamp ties
	for i := len(f.history) - 1; i >= 0; i-- {
		if filter.matches(f.history[i]) {
			matched = append(matched, f.history[i])
		}
	}
	f.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if count > 0 && len(matched) > count {
		matched = matched[:count]
	}
	return matched
}

// HistorySize returns the current number of retained events
func (f *Framework) HistorySize() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.history)
}

// Start launches the collection and monitor loops. Calling Start while
// running logs a warning and is a no-op.
func (f *Framework) Start(ctx context.Context) {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	if f.running {
		f.logger.Warn("framework already running, ignoring start")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.running = true

	f.wg.Add(2)
	go f.collectionLoop(loopCtx)
	go f.monitorLoop(loopCtx)

	f.logger.Info("monitoring framework started",
		zap.Duration("collection_tick", f.opts.CollectionTick),
		zap.Duration("monitor_tick", f.opts.MonitorTick),
		zap.Int("max_history_size", f.opts.MaxHistorySize))
}

// Stop signals both loops and waits for them to exit, bounded by the stop
// timeout. Calling Stop while not running logs a warning and is a no-op.
// Shutdown is best-effort: a loop stuck past the timeout is abandoned,
// not force-killed.
func (f *Framework) Stop() {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	if !f.running {
		f.logger.Warn("framework not running, ignoring stop")
		return
	}

	f.cancel()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.logger.Info("monitoring framework stopped")
	case <-time.After(f.opts.StopTimeout):
		f.logger.Warn("loops did not exit before the stop timeout",
			zap.Duration("timeout", f.opts.StopTimeout))
	}

	f.running = false
}

// Running reports whether the loops are active
func (f *Framework) Running() bool {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()
	return f.running
}

// collectionLoop polls due collectors every tick. A failing collector is
// logged and skipped; it never stalls the tick for its siblings or stops
// the loop.
func (f *Framework) collectionLoop(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.opts.CollectionTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.collectOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (f *Framework) collectOnce(ctx context.Context) {
	f.mu.RLock()
	collectors := make([]collector.Collector, 0, len(f.collectors))
	for _, c := range f.collectors {
		collectors = append(collectors, c)
	}
	f.mu.RUnlock()

	now := time.Now()
	for _, c := range collectors {
		if !c.Enabled() || !c.ShouldCollect(now) {
			continue
		}
		f.collectOne(ctx, c, now)
	}
}

// collectOne runs a single collector behind a panic guard and wraps a
// non-empty snapshot into a data_collection event
func (f *Framework) collectOne(ctx context.Context, c collector.Collector, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("collector panicked",
				zap.String("collector", c.Name()),
				zap.Any("panic", r))
		}
	}()

	snapshot, err := c.Collect(ctx)
	// a failed attempt still consumes the interval; the gate is on calls
	// to Collect, not on successes
	c.MarkCollected(now)
	if err != nil {
		f.logger.Error("collector failed",
			zap.String("collector", c.Name()),
			zap.Error(err))
		return
	}

	if len(snapshot) == 0 {
		return
	}
	f.ProcessEvent(domain.NewEvent(domain.EventTypeDataCollection, c.Name(),
		map[string]any{"collected_data": snapshot}, domain.SeverityInfo))
}

// monitorLoop executes every enabled monitor each tick, sequentially. A
// failing monitor is logged and skipped; it never aborts the tick for its
// siblings or stops the loop.
func (f *Framework) monitorLoop(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.opts.MonitorTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.executeOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (f *Framework) executeOnce(ctx context.Context) {
	f.mu.RLock()
	monitors := make([]monitor.Monitor, 0, len(f.monitors))
	for _, m := range f.monitors {
		monitors = append(monitors, m)
	}
	f.mu.RUnlock()

	now := time.Now()
	for _, m := range monitors {
		if !m.Enabled() {
			continue
		}
		f.executeOne(ctx, m, now)
	}
}

func (f *Framework) executeOne(ctx context.Context, m monitor.Monitor, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("monitor panicked",
				zap.String("monitor", m.Name()),
				zap.Any("panic", r))
		}
	}()

	if err := m.Execute(ctx); err != nil {
		f.logger.Error("monitor failed",
			zap.String("monitor", m.Name()),
			zap.Error(err))
		return
	}
	m.MarkExecuted(now)
}
