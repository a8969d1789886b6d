package handler

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/yairfalse/govwatch/pkg/domain"
)

// LoggingHandler writes one structured log line per event, at a level
// derived from the event severity.
type LoggingHandler struct {
	BaseHandler
	out *zap.Logger
}

// NewLoggingHandler creates a logging handler writing through the given logger
func NewLoggingHandler(name string, logger *zap.Logger) *LoggingHandler {
	h := &LoggingHandler{out: logger}
	h.BaseHandler = newBaseHandler(name, logger, h.logEvent)
	return h
}

func (h *LoggingHandler) logEvent(event *domain.Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("event_source", event.Source),
		zap.String("event_severity", event.Severity.String()),
		zap.String("details", encodeDetails(event.Details)),
	}

	// Exhaustive over the severity enum so a new severity value is a
	// compile-visible gap here. Zap has no critical level: critical events
	// log at Error with an explicit marker field.
	switch event.Severity {
	case domain.SeverityInfo, domain.SeverityLow:
		h.out.Info("monitoring event", fields...)
	case domain.SeverityMedium:
		h.out.Warn("monitoring event", fields...)
	case domain.SeverityHigh:
		h.out.Error("monitoring event", fields...)
	case domain.SeverityCritical:
		h.out.Error("monitoring event", append(fields, zap.Bool("critical", true))...)
	default:
		return fmt.Errorf("unmapped severity %d", event.Severity)
	}
	return nil
}

// encodeDetails JSON-encodes the payload, stringifying anything the
// encoder rejects
func encodeDetails(details map[string]any) string {
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Sprintf("%v", details)
	}
	return string(data)
}
