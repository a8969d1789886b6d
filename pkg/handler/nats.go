package handler

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/yairfalse/govwatch/pkg/domain"
)

// SubjectPrefix is the root of the alert subject hierarchy. Events publish
// to <prefix>.<severity>, e.g. govwatch.alerts.critical.
const SubjectPrefix = "govwatch.alerts"

// DefaultMinSeverity gates which events become alerts
const DefaultMinSeverity = domain.SeverityHigh

// NATSAlertHandler publishes events at or above a minimum severity to a
// NATS subject derived from the severity.
type NATSAlertHandler struct {
	BaseHandler
	logger *zap.Logger
	nc     *natsgo.Conn
	owned  bool // whether Close should drain the connection

	publish func(subject string, data []byte) error

	sevMu       sync.RWMutex
	minSeverity domain.Severity
}

// NewNATSAlertHandler connects to the given NATS URL and returns a handler
// publishing alert-worthy events
func NewNATSAlertHandler(name, url string, logger *zap.Logger) (*NATSAlertHandler, error) {
	nc, err := natsgo.Connect(url,
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	h := newNATSAlertHandler(name, nc, logger)
	h.owned = true
	return h, nil
}

// NewNATSAlertHandlerWithConn wraps an existing connection; the caller
// keeps ownership of the connection lifecycle.
func NewNATSAlertHandlerWithConn(name string, nc *natsgo.Conn, logger *zap.Logger) (*NATSAlertHandler, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	return newNATSAlertHandler(name, nc, logger), nil
}

func newNATSAlertHandler(name string, nc *natsgo.Conn, logger *zap.Logger) *NATSAlertHandler {
	h := &NATSAlertHandler{
		logger:      logger,
		nc:          nc,
		minSeverity: DefaultMinSeverity,
	}
	h.publish = nc.Publish
	h.BaseHandler = newBaseHandler(name, logger, h.publishAlert)
	return h
}

// MinSeverity returns the current alert gate
func (h *NATSAlertHandler) MinSeverity() domain.Severity {
	h.sevMu.RLock()
	defer h.sevMu.RUnlock()
	return h.minSeverity
}

// SetMinSeverity adjusts the alert gate
func (h *NATSAlertHandler) SetMinSeverity(sev domain.Severity) {
	h.sevMu.Lock()
	defer h.sevMu.Unlock()
	h.minSeverity = sev
}

// Configure recognizes min_severity (a severity name); other keys are
// stored for later inspection. A malformed value is logged and skipped.
func (h *NATSAlertHandler) Configure(settings map[string]any) {
	if raw, ok := settings["min_severity"]; ok {
		if name, ok := raw.(string); ok {
			if sev, err := domain.ParseSeverity(name); err == nil {
				h.SetMinSeverity(sev)
			} else {
				h.logger.Warn("ignoring invalid min_severity", zap.String("value", name))
			}
		} else {
			h.logger.Warn("ignoring non-string min_severity", zap.Any("value", raw))
		}
	}
	h.BaseHandler.Configure(settings)
}

// Close drains the connection when this handler opened it
func (h *NATSAlertHandler) Close() {
	if h.owned && h.nc != nil {
		if err := h.nc.Drain(); err != nil {
			h.logger.Warn("failed to drain NATS connection", zap.Error(err))
		}
	}
}

// AlertSubject returns the subject an event of the given severity publishes to
func AlertSubject(sev domain.Severity) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, sev)
}

func (h *NATSAlertHandler) publishAlert(event *domain.Event) error {
	if !event.Severity.AtLeast(h.MinSeverity()) {
		return nil
	}

	data, err := json.Marshal(event.ToMap())
	if err != nil {
		return fmt.Errorf("failed to encode alert %s: %w", event.ID, err)
	}

	subject := AlertSubject(event.Severity)
	if err := h.publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish alert to %s: %w", subject, err)
	}
	return nil
}
