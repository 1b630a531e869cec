package ledger

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/ledgerpay/internal/platform/httpx"
	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

// JournalReader serves posted journal entries.
type JournalReader interface {
	ListJournals(ctx context.Context, companyID int64, limit int) ([]JournalEntry, error)
	GetJournal(ctx context.Context, id int64) (JournalEntry, error)
}

// Handler exposes read-only journal routes.
type Handler struct {
	reader JournalReader
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger, reader JournalReader) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, reader: reader}
}

// MountRoutes registers journal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/journals", h.List)
	r.Get("/journals/{id}", h.Get)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	companyID, err := httpx.CompanyID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 500 {
			httpx.RespondError(w, shared.Invalid("ledger: limit must be between 1 and 500"))
			return
		}
	}
	entries, err := h.reader.ListJournals(r.Context(), companyID, limit)
	if err != nil {
		h.logger.Error("list journals", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"journals": entries})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.reader.GetJournal(r.Context(), id)
	if err != nil {
		h.logger.Warn("get journal", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}
