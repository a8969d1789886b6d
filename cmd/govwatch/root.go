package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yairfalse/govwatch/pkg/config"
	"github.com/yairfalse/govwatch/pkg/domain"
	"github.com/yairfalse/govwatch/pkg/framework"
	"github.com/yairfalse/govwatch/pkg/handler"
	"github.com/yairfalse/govwatch/pkg/monitor/inheritance"
	"github.com/yairfalse/govwatch/pkg/monitor/loopmgmt"
)

func newRootCommand() *cobra.Command {
	var (
		configPath string
		storageDir string
		natsURL    string
	)

	cmd := &cobra.Command{
		Use:   "govwatch",
		Short: "Continuous governance monitoring daemon",
		Long: `govwatch runs periodic anomaly detectors over governance telemetry
and routes the resulting events to logging, file persistence, and
NATS alerting handlers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			// flags override the file
			if storageDir != "" {
				cfg.Storage.Dir = storageDir
			}
			if natsURL != "" {
				cfg.NATS.URL = natsURL
			}

			return run(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML or JSON)")
	cmd.Flags().StringVar(&storageDir, "storage-dir", "", "directory for per-event JSON files")
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL for alert publishing")
	return cmd
}

func run(cfg *config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	fw, err := framework.New(framework.Options{
		MaxHistorySize: cfg.History.MaxSize,
		CollectionTick: cfg.CollectionTick(),
		MonitorTick:    cfg.MonitorTick(),
		StopTimeout:    cfg.StopTimeout(),
	}, logger)
	if err != nil {
		return err
	}

	fw.RegisterHandler(handler.NewLoggingHandler("logging", logger))

	if cfg.Storage.Dir != "" {
		fileStore, err := handler.NewFileStoreHandler("filestore", cfg.Storage.Dir, logger)
		if err != nil {
			return err
		}
		fw.RegisterHandler(fileStore)
	}

	if cfg.NATS.URL != "" {
		alerts, err := handler.NewNATSAlertHandler("nats_alerts", cfg.NATS.URL, logger)
		if err != nil {
			return err
		}
		defer alerts.Close()
		if sev, err := domain.ParseSeverity(cfg.NATS.MinSeverity); err == nil {
			alerts.SetMinSeverity(sev)
		}
		fw.RegisterHandler(alerts)
	}

	if err := registerMonitors(fw, cfg, logger); err != nil {
		return err
	}

	fw.Start(context.Background())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.Info("shutting down", zap.String("signal", sig.String()))

	fw.Stop()
	return nil
}

func registerMonitors(fw *framework.Framework, cfg *config.Config, logger *zap.Logger) error {
	var inhSource inheritance.Source = inheritance.NewStaticSource()
	if path := cfg.Sources.InheritanceSnapshot; path != "" {
		loaded, err := inheritance.LoadSnapshot(path)
		if err != nil {
			return err
		}
		inhSource = loaded
	}

	inhMonitor := inheritance.New(inhSource, logger)
	for name, tolerance := range cfg.Monitors.Inheritance.Thresholds {
		inhMonitor.SetThreshold(inheritance.AnomalyType(name), tolerance)
	}
	for id, relationships := range cfg.Monitors.Inheritance.ExpectedPatterns {
		inhMonitor.SetExpectedPattern(id, inheritance.PatternRecord{Relationships: relationships})
	}
	fw.RegisterMonitor(inhMonitor)

	var loopSource loopmgmt.Source = loopmgmt.NewStaticSource()
	if path := cfg.Sources.LoopSnapshot; path != "" {
		loaded, err := loopmgmt.LoadSnapshot(path)
		if err != nil {
			return err
		}
		loopSource = loaded
	}

	loopMonitor := loopmgmt.New(loopSource, logger)
	loopMonitor.SetInfiniteLoopMultiplier(cfg.Monitors.LoopMgmt.InfiniteLoopMultiplier)
	loopMonitor.SetOverutilizationThreshold(cfg.Monitors.LoopMgmt.OverutilizationThreshold)
	fw.RegisterMonitor(loopMonitor)

	return nil
}
