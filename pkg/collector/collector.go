// Package collector defines the telemetry-polling side of govwatch.
// Collectors sample raw data on an interval and never judge it; the
// framework wraps non-empty samples into data_collection events.
package collector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the polling interval applied when none is configured
const DefaultInterval = 60 * time.Second

// Collector polls an external source for a telemetry snapshot
type Collector interface {
	// Name returns the unique identifier for this collector
	Name() string

	// Enabled reports whether the collection loop should poll this collector
	Enabled() bool

	// SetEnabled toggles participation in the collection loop
	SetEnabled(enabled bool)

	// Configure merges free-form settings. collection_interval (seconds)
	// is recognized here; everything else is stored for implementations.
	Configure(settings map[string]any)

	// ShouldCollect reports whether the interval has elapsed since the
	// last collection. Monotonic in now.
	ShouldCollect(now time.Time) bool

	// Collect returns the current snapshot. An empty map means nothing
	// to report; it produces no event.
	Collect(ctx context.Context) (map[string]any, error)

	// MarkCollected records a completed collection at the given time
	MarkCollected(now time.Time)
}

// BaseCollector carries the bookkeeping every collector shares: interval
// gating, enable state, and collection counts. Embed it and implement
// Collect.
type BaseCollector struct {
	name   string
	logger *zap.Logger

	mu              sync.RWMutex
	enabled         bool
	interval        time.Duration
	lastCollection  time.Time
	collectionCount int64
	settings        map[string]any
}

// NewBaseCollector creates a base collector with the default interval
func NewBaseCollector(name string, logger *zap.Logger) *BaseCollector {
	return &BaseCollector{
		name:     name,
		logger:   logger,
		enabled:  true,
		interval: DefaultInterval,
		settings: make(map[string]any),
	}
}

func (c *BaseCollector) Name() string {
	return c.name
}

func (c *BaseCollector) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

func (c *BaseCollector) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// Interval returns the current polling interval
func (c *BaseCollector) Interval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.interval
}

// SetInterval adjusts the polling interval; non-positive values are ignored
func (c *BaseCollector) SetInterval(interval time.Duration) {
	if interval <= 0 {
		c.logger.Warn("ignoring non-positive collection interval",
			zap.String("collector", c.name),
			zap.Duration("interval", interval))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = interval
}

// Configure recognizes collection_interval (seconds, numeric) and stores
// every other key verbatim for subclass use
func (c *BaseCollector) Configure(settings map[string]any) {
	if raw, ok := settings["collection_interval"]; ok {
		if secs, ok := asSeconds(raw); ok {
			c.SetInterval(secs)
		} else {
			c.logger.Warn("ignoring malformed collection_interval",
				zap.String("collector", c.name),
				zap.Any("value", raw))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range settings {
		c.settings[k] = v
	}
}

// Setting returns a stored configuration value
func (c *BaseCollector) Setting(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.settings[key]
	return v, ok
}

// ShouldCollect reports whether the interval has elapsed since the last
// collection. A collector that has never collected is always due.
func (c *BaseCollector) ShouldCollect(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastCollection.IsZero() {
		return true
	}
	return now.Sub(c.lastCollection) >= c.interval
}

// Collect is the base implementation: nothing to report. Implementations
// embedding BaseCollector override it.
func (c *BaseCollector) Collect(ctx context.Context) (map[string]any, error) {
	return map[string]any{}, nil
}

// MarkCollected stamps the last collection time and bumps the count
func (c *BaseCollector) MarkCollected(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastCollection = now
	c.collectionCount++
}

// CollectionCount returns how many collections have completed
func (c *BaseCollector) CollectionCount() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collectionCount
}

// LastCollection returns when the collector last completed a collection
func (c *BaseCollector) LastCollection() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastCollection
}

func asSeconds(v any) (time.Duration, bool) {
	switch n := v.(type) {
	case int:
		return time.Duration(n) * time.Second, true
	case int64:
		return time.Duration(n) * time.Second, true
	case float64:
		return time.Duration(n * float64(time.Second)), true
	case time.Duration:
		return n, true
	}
	return 0, false
}
