// Package config loads the govwatch daemon configuration from a YAML or
// JSON file and applies defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/govwatch/pkg/domain"
)

// Config is the daemon configuration
type Config struct {
	History  HistoryConfig  `yaml:"history" json:"history"`
	Loops    LoopsConfig    `yaml:"loops" json:"loops"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	NATS     NATSConfig     `yaml:"nats" json:"nats"`
	Monitors MonitorsConfig `yaml:"monitors" json:"monitors"`
	Sources  SourcesConfig  `yaml:"sources" json:"sources"`
}

// HistoryConfig bounds the framework's event buffer
type HistoryConfig struct {
	MaxSize int `yaml:"max_size" json:"max_size"`
}

// LoopsConfig tunes the two background loops
type LoopsConfig struct {
	CollectionTickSeconds float64 `yaml:"collection_tick_seconds" json:"collection_tick_seconds"`
	MonitorTickSeconds    float64 `yaml:"monitor_tick_seconds" json:"monitor_tick_seconds"`
	StopTimeoutSeconds    float64 `yaml:"stop_timeout_seconds" json:"stop_timeout_seconds"`
}

// StorageConfig locates the per-event JSON files; an empty dir disables
// file persistence
type StorageConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// NATSConfig wires the alert handler; an empty URL disables alerting
type NATSConfig struct {
	URL         string `yaml:"url" json:"url"`
	MinSeverity string `yaml:"min_severity" json:"min_severity"`
}

// MonitorsConfig carries per-monitor tuning
type MonitorsConfig struct {
	Inheritance InheritanceConfig `yaml:"inheritance" json:"inheritance"`
	LoopMgmt    LoopMgmtConfig    `yaml:"loop_management" json:"loop_management"`
}

// InheritanceConfig tunes the governance inheritance monitor
type InheritanceConfig struct {
	Thresholds       map[string]float64             `yaml:"anomaly_thresholds" json:"anomaly_thresholds"`
	ExpectedPatterns map[string]map[string][]string `yaml:"expected_patterns" json:"expected_patterns"`
}

// LoopMgmtConfig tunes the loop management monitor
type LoopMgmtConfig struct {
	InfiniteLoopMultiplier   float64 `yaml:"infinite_loop_multiplier" json:"infinite_loop_multiplier"`
	OverutilizationThreshold float64 `yaml:"overutilization_threshold" json:"overutilization_threshold"`
}

// SourcesConfig points at the snapshot files the static sources load;
// empty paths leave a monitor without injected data
type SourcesConfig struct {
	InheritanceSnapshot string `yaml:"inheritance_snapshot" json:"inheritance_snapshot"`
	LoopSnapshot        string `yaml:"loop_snapshot" json:"loop_snapshot"`
}

// Load reads configuration from a file, determining the format by
// extension and falling back from YAML to JSON
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
		if err != nil {
			err = json.Unmarshal(data, cfg)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.History.MaxSize == 0 {
		c.History.MaxSize = 1000
	}
	if c.Loops.CollectionTickSeconds == 0 {
		c.Loops.CollectionTickSeconds = 1
	}
	if c.Loops.MonitorTickSeconds == 0 {
		c.Loops.MonitorTickSeconds = 5
	}
	if c.Loops.StopTimeoutSeconds == 0 {
		c.Loops.StopTimeoutSeconds = 5
	}
	if c.NATS.MinSeverity == "" {
		c.NATS.MinSeverity = domain.SeverityHigh.String()
	}
	if c.Monitors.LoopMgmt.InfiniteLoopMultiplier == 0 {
		c.Monitors.LoopMgmt.InfiniteLoopMultiplier = 10
	}
	if c.Monitors.LoopMgmt.OverutilizationThreshold == 0 {
		c.Monitors.LoopMgmt.OverutilizationThreshold = 0.8
	}
}

// Validate rejects values the framework cannot run with
func (c *Config) Validate() error {
	if c.History.MaxSize < 0 {
		return fmt.Errorf("history.max_size cannot be negative")
	}
	if c.Loops.CollectionTickSeconds < 0 || c.Loops.MonitorTickSeconds < 0 {
		return fmt.Errorf("loop tick intervals cannot be negative")
	}
	if c.NATS.MinSeverity != "" {
		if _, err := domain.ParseSeverity(c.NATS.MinSeverity); err != nil {
			return fmt.Errorf("invalid nats.min_severity: %w", err)
		}
	}
	if t := c.Monitors.LoopMgmt.OverutilizationThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("overutilization_threshold must be in (0, 1], got %v", t)
	}
	return nil
}

// CollectionTick returns the collection loop cadence as a duration
func (c *Config) CollectionTick() time.Duration {
	return time.Duration(c.Loops.CollectionTickSeconds * float64(time.Second))
}

// MonitorTick returns the monitor loop cadence as a duration
func (c *Config) MonitorTick() time.Duration {
	return time.Duration(c.Loops.MonitorTickSeconds * float64(time.Second))
}

// StopTimeout returns the shutdown bound as a duration
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Loops.StopTimeoutSeconds * float64(time.Second))
}
