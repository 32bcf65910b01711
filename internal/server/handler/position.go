package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

// PositionSource lists the positions under protection.
type PositionSource interface {
	Snapshot() []domain.Position
}

// JournalReader lists journal entries, newest first.
type JournalReader interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.JournalEntry, error)
}

// PositionHandler serves the protected positions and the trade journal.
type PositionHandler struct {
	positions PositionSource
	journal   JournalReader
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler. journal may be nil when no
// database is configured.
func NewPositionHandler(positions PositionSource, journal JournalReader, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		journal:   journal,
		logger:    logger.With(slog.String("handler", "positions")),
	}
}

// ListPositions returns every position with its protection state.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.positions.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"positions": positions,
		"count":     len(positions),
	})
}

// ListJournal returns recent journal entries.
// GET /api/journal?limit=50&offset=0&symbol=BTCUSDT&event=position.closed&since=...
func (h *PositionHandler) ListJournal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusNotFound, "journal not configured")
		return
	}
	opts, err := parseJournalQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.journal.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list journal failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list journal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
