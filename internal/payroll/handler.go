package payroll

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/ledgerpay/internal/platform/httpx"
	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

// GenerateEnqueuer schedules payslip generation on the worker.
type GenerateEnqueuer interface {
	EnqueuePayrollGenerate(ctx context.Context, periodID int64) error
}

// Handler exposes payroll period endpoints.
type Handler struct {
	service  *Service
	enqueuer GenerateEnqueuer
	logger   *slog.Logger
}

// NewHandler constructs the payroll handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// WithEnqueuer lets POST .../generate?async=1 hand the run to the worker.
func (h *Handler) WithEnqueuer(enqueuer GenerateEnqueuer) {
	h.enqueuer = enqueuer
}

// MountRoutes registers payroll routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/periods", h.CreatePeriod)
	r.Get("/periods/{id}", h.GetPeriod)
	r.Get("/periods/{id}/payslips", h.Payslips)
	r.Post("/periods/{id}/open", h.lifecycle("open period", h.service.OpenPeriod))
	r.Post("/periods/{id}/lock", h.lifecycle("lock period", h.service.LockPeriod))
	r.Post("/periods/{id}/reopen", h.lifecycle("reopen period", h.service.ReopenPeriod))
	r.Post("/periods/{id}/generate", h.Generate)
	r.Post("/periods/{id}/post", h.Post)
	r.Post("/periods/{id}/reverse", h.Reverse)
}

func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	var in CreatePeriodInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.ActorID = shared.ActorFromContext(r.Context())
	period, err := h.service.CreatePeriod(r.Context(), in)
	if err != nil {
		h.fail(w, "create period", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, period)
}

func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := h.service.Period(r.Context(), id)
	if err != nil {
		h.fail(w, "get period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) Payslips(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	slips, err := h.service.Payslips(r.Context(), id)
	if err != nil {
		h.fail(w, "list payslips", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"period_id": id, "payslips": slips})
}

func (h *Handler) lifecycle(op string, fn func(context.Context, int64, int64) (Period, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		period, err := fn(r.Context(), id, shared.ActorFromContext(r.Context()))
		if err != nil {
			h.fail(w, op, err)
			return
		}
		httpx.JSON(w, http.StatusOK, period)
	}
}

func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if h.enqueuer != nil && r.URL.Query().Get("async") == "1" {
		if err := h.enqueuer.EnqueuePayrollGenerate(r.Context(), id); err != nil {
			h.fail(w, "enqueue payslip generation", err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]any{"period_id": id, "queued": true})
		return
	}
	result, err := h.service.GeneratePayslips(r.Context(), id)
	if err != nil {
		h.fail(w, "generate payslips", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.PostPeriod(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "post payroll", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.ReversePeriod(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "reverse payroll", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
