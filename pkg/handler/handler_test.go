package handler

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yairfalse/govwatch/pkg/domain"
)

func TestBaseHandler(t *testing.T) {
	logger := zaptest.NewLogger(t)
	event := domain.NewEvent("test_condition", "tests", nil, domain.SeverityInfo)

	t.Run("disabled handler is a no-op", func(t *testing.T) {
		calls := 0
		h := newBaseHandler("test", logger, func(*domain.Event) error {
			calls++
			return nil
		})
		h.SetEnabled(false)

		assert.False(t, h.HandleEvent(event))
		assert.Zero(t, calls)
	})

	t.Run("process error returns false", func(t *testing.T) {
		h := newBaseHandler("test", logger, func(*domain.Event) error {
			return errors.New("boom")
		})
		assert.False(t, h.HandleEvent(event))
	})

	t.Run("panic is contained", func(t *testing.T) {
		h := newBaseHandler("test", logger, func(*domain.Event) error {
			panic("handler exploded")
		})
		assert.NotPanics(t, func() {
			assert.False(t, h.HandleEvent(event))
		})
	})

	t.Run("success returns true", func(t *testing.T) {
		h := newBaseHandler("test", logger, func(*domain.Event) error { return nil })
		assert.True(t, h.HandleEvent(event))
	})

	t.Run("configure stores keys verbatim", func(t *testing.T) {
		h := newBaseHandler("test", logger, func(*domain.Event) error { return nil })
		h.Configure(map[string]any{"custom": 42})

		v, ok := h.Setting("custom")
		require.True(t, ok)
		assert.Equal(t, 42, v)
	})
}

func TestLoggingHandler(t *testing.T) {
	levelFor := func(sev domain.Severity) zapcore.Level {
		core, logs := observer.New(zapcore.DebugLevel)
		h := NewLoggingHandler("logging", zap.New(core))

		require.True(t, h.HandleEvent(domain.NewEvent("test_condition", "tests", nil, sev)))
		entries := logs.All()
		require.Len(t, entries, 1)
		return entries[0].Level
	}

	assert.Equal(t, zapcore.InfoLevel, levelFor(domain.SeverityInfo))
	assert.Equal(t, zapcore.InfoLevel, levelFor(domain.SeverityLow))
	assert.Equal(t, zapcore.WarnLevel, levelFor(domain.SeverityMedium))
	assert.Equal(t, zapcore.ErrorLevel, levelFor(domain.SeverityHigh))
	assert.Equal(t, zapcore.ErrorLevel, levelFor(domain.SeverityCritical))

	t.Run("critical lines carry the marker field", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		h := NewLoggingHandler("logging", zap.New(core))

		h.HandleEvent(domain.NewEvent("test_condition", "tests", nil, domain.SeverityCritical))
		fields := logs.All()[0].ContextMap()
		assert.Equal(t, true, fields["critical"])
	})

	t.Run("details are JSON encoded", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		h := NewLoggingHandler("logging", zap.New(core))

		h.HandleEvent(domain.NewEvent("test_condition", "tests",
			map[string]any{"entity_id": "e1"}, domain.SeverityInfo))
		fields := logs.All()[0].ContextMap()
		assert.JSONEq(t, `{"entity_id":"e1"}`, fields["details"].(string))
	})
}

func TestFileStoreHandler(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("creates storage directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "events", "nested")
		_, err := NewFileStoreHandler("filestore", dir, logger)
		require.NoError(t, err)

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("empty directory is rejected", func(t *testing.T) {
		_, err := NewFileStoreHandler("filestore", "", logger)
		assert.Error(t, err)
	})

	t.Run("writes one JSON file per event", func(t *testing.T) {
		dir := t.TempDir()
		h, err := NewFileStoreHandler("filestore", dir, logger)
		require.NoError(t, err)

		event := domain.NewEvent("inheritance_boundary_violation", "governance_inheritance",
			map[string]any{"boundary_id": "b1"}, domain.SeverityHigh)
		require.True(t, h.HandleEvent(event))

		path := filepath.Join(dir, EventFilename(event))
		data, err := os.ReadFile(path)
		require.NoError(t, err)

		var stored map[string]any
		require.NoError(t, json.Unmarshal(data, &stored))
		assert.Equal(t, event.ID, stored["event_id"])
		assert.Equal(t, "high", stored["severity"])

		restored, err := domain.EventFromMap(stored)
		require.NoError(t, err)
		assert.Equal(t, event.Type, restored.Type)
	})
}

func TestNATSAlertHandler(t *testing.T) {
	logger := zaptest.NewLogger(t)

	newStubbed := func(t *testing.T) (*NATSAlertHandler, *[]string) {
		t.Helper()
		h := newNATSAlertHandler("alerts", &natsgo.Conn{}, logger)
		var subjects []string
		h.publish = func(subject string, _ []byte) error {
			subjects = append(subjects, subject)
			return nil
		}
		return h, &subjects
	}

	t.Run("events below the gate are skipped", func(t *testing.T) {
		h, subjects := newStubbed(t)
		assert.True(t, h.HandleEvent(domain.NewEvent("test_condition", "tests", nil, domain.SeverityMedium)))
		assert.Empty(t, *subjects)
	})

	t.Run("alert-worthy events publish to the severity subject", func(t *testing.T) {
		h, subjects := newStubbed(t)
		h.HandleEvent(domain.NewEvent("test_condition", "tests", nil, domain.SeverityCritical))
		require.Len(t, *subjects, 1)
		assert.Equal(t, "govwatch.alerts.critical", (*subjects)[0])
	})

	t.Run("configure adjusts the gate", func(t *testing.T) {
		h, subjects := newStubbed(t)
		h.Configure(map[string]any{"min_severity": "low"})
		h.HandleEvent(domain.NewEvent("test_condition", "tests", nil, domain.SeverityMedium))
		assert.Len(t, *subjects, 1)
	})

	t.Run("invalid min_severity is ignored", func(t *testing.T) {
		h, _ := newStubbed(t)
		h.Configure(map[string]any{"min_severity": "meltdown"})
		assert.Equal(t, DefaultMinSeverity, h.MinSeverity())
	})

	t.Run("publish failure returns false", func(t *testing.T) {
		h, _ := newStubbed(t)
		h.publish = func(string, []byte) error { return errors.New("no route") }
		assert.False(t, h.HandleEvent(domain.NewEvent("test_condition", "tests", nil, domain.SeverityCritical)))
	})
}
