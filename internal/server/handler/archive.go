package handler

import (
	"log/slog"
	"net/http"

	"github.com/leverfi/leverbot/internal/domain"
)

// ArchiveHandler exposes on-demand export of closed position history.
type ArchiveHandler struct {
	archiver domain.Archiver
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(archiver domain.Archiver, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archiver: archiver, logger: logger}
}

// Trigger archives all terminal positions not yet exported.
// POST /api/archive/trigger
func (h *ArchiveHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	count, err := h.archiver.ArchiveClosedPositions(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archived": count})
}
