package treasury

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/ledgerpay/internal/platform/httpx"
	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

const dateLayout = "2006-01-02"

// KeyGuard claims client idempotency keys so a retried POST cannot post twice.
type KeyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler exposes treasury endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
	keys    KeyGuard
}

// NewHandler constructs the treasury handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// WithIdempotency enables Idempotency-Key handling on the create endpoints.
func (h *Handler) WithIdempotency(keys KeyGuard) *Handler {
	h.keys = keys
	return h
}

// MountRoutes registers treasury routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.CreateMovement)
	r.Post("/transfers", h.CreateTransfer)
	r.Get("/accounts/{id}/balance", h.Balance)
	r.Get("/accounts/{id}/ledger", h.Ledger)
}

func (h *Handler) CreateMovement(w http.ResponseWriter, r *http.Request) {
	var in CreateMovementInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if in.CreatedBy == 0 {
		in.CreatedBy = shared.ActorFromContext(r.Context())
	}
	release, err := h.claim(r, "treasury.movement")
	if err != nil {
		h.fail(w, "create movement", err)
		return
	}
	result, err := h.service.CreateMovement(r.Context(), in)
	if err != nil {
		release()
		h.fail(w, "create movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var in CreateTransferInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if in.CreatedBy == 0 {
		in.CreatedBy = shared.ActorFromContext(r.Context())
	}
	release, err := h.claim(r, "treasury.transfer")
	if err != nil {
		h.fail(w, "create transfer", err)
		return
	}
	result, err := h.service.CreateTransfer(r.Context(), in)
	if err != nil {
		release()
		h.fail(w, "create transfer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	asOf, err := parseDate(r.URL.Query().Get("as_of"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balance, err := h.service.Balance(r.Context(), id, asOf)
	if err != nil {
		h.fail(w, "money account balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) Ledger(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	from, err := parseDate(r.URL.Query().Get("from"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := parseDate(r.URL.Query().Get("to"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	result, err := h.service.Ledger(r.Context(), id, from, to)
	if err != nil {
		h.fail(w, "money account ledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// claim reserves the request key, returning a func that frees it on failure.
func (h *Handler) claim(r *http.Request, module string) (func(), error) {
	key := r.Header.Get(shared.IdempotencyHeader)
	if h.keys == nil || key == "" {
		return func() {}, nil
	}
	if err := h.keys.CheckAndInsert(r.Context(), key, module); err != nil {
		return nil, err
	}
	return func() {
		if err := h.keys.Delete(context.WithoutCancel(r.Context()), key); err != nil {
			h.logger.Warn("release idempotency key", slog.String("module", module), slog.Any("error", err))
		}
	}, nil
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, shared.Invalid("dates must use YYYY-MM-DD")
	}
	return t, nil
}
