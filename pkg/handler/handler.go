// Package handler contains the event sinks: components that react to
// monitoring events (log, persist, alert) without mutating framework state.
package handler

import (
	"sync"

	"go.uber.org/zap"

	"github.com/yairfalse/govwatch/pkg/domain"
)

// Handler consumes monitoring events. Implementations are side-effect only;
// a failing handler must never prevent siblings from seeing the same event.
type Handler interface {
	// Name returns the unique identifier for this handler
	Name() string

	// Enabled reports whether the handler currently accepts events
	Enabled() bool

	// SetEnabled toggles event acceptance
	SetEnabled(enabled bool)

	// Configure merges free-form settings; unrecognized keys are stored
	// verbatim for implementations to interpret
	Configure(settings map[string]any)

	// HandleEvent processes one event, returning false when the handler
	// is disabled or processing failed
	HandleEvent(event *domain.Event) bool
}

// processFunc is the handler-specific side effect
type processFunc func(event *domain.Event) error

// BaseHandler provides the enable gate and failure containment shared by
// all handlers. Embed it and supply the process func.
type BaseHandler struct {
	name    string
	logger  *zap.Logger
	process processFunc

	mu       sync.RWMutex
	enabled  bool
	settings map[string]any
}

func newBaseHandler(name string, logger *zap.Logger, process processFunc) BaseHandler {
	return BaseHandler{
		name:     name,
		logger:   logger,
		process:  process,
		enabled:  true,
		settings: make(map[string]any),
	}
}

func (h *BaseHandler) Name() string {
	return h.name
}

func (h *BaseHandler) Enabled() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.enabled
}

func (h *BaseHandler) SetEnabled(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enabled = enabled
}

// Configure stores every key verbatim. Concrete handlers that recognize
// specific keys override this and delegate back for the rest.
func (h *BaseHandler) Configure(settings map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, v := range settings {
		h.settings[k] = v
	}
}

// Setting returns a stored configuration value
func (h *BaseHandler) Setting(key string) (any, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.settings[key]
	return v, ok
}

// HandleEvent runs the handler-specific side effect behind the enable gate.
// Panics and errors are contained here and reported as a false return; the
// framework wraps the call in its own guard as well.
func (h *BaseHandler) HandleEvent(event *domain.Event) (ok bool) {
	if !h.Enabled() {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("handler panicked processing event",
				zap.String("handler", h.name),
				zap.String("event_id", event.ID),
				zap.Any("panic", r))
			ok = false
		}
	}()

	if err := h.process(event); err != nil {
		h.logger.Error("handler failed to process event",
			zap.String("handler", h.name),
			zap.String("event_id", event.ID),
			zap.Error(err))
		return false
	}
	return true
}
