package handler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/yairfalse/govwatch/pkg/domain"
)

// FileStoreHandler persists each event as one pretty-printed JSON file.
// Files never share state, so a crash mid-write cannot corrupt earlier events.
type FileStoreHandler struct {
	BaseHandler
	dir string
}

// NewFileStoreHandler creates the storage directory if needed
func NewFileStoreHandler(name, dir string, logger *zap.Logger) (*FileStoreHandler, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}

	h := &FileStoreHandler{dir: dir}
	h.BaseHandler = newBaseHandler(name, logger, h.writeEvent)
	return h, nil
}

// Dir returns the storage directory
func (h *FileStoreHandler) Dir() string {
	return h.dir
}

// EventFilename returns the deterministic name an event persists under
func EventFilename(event *domain.Event) string {
	return fmt.Sprintf("event_%s_%d.json", event.ID, event.Timestamp.Unix())
}

func (h *FileStoreHandler) writeEvent(event *domain.Event) error {
	data, err := json.MarshalIndent(event.ToMap(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}

	path := filepath.Join(h.dir, EventFilename(event))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write event file %s: %w", path, err)
	}
	return nil
}
