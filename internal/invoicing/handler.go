package invoicing

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quarryline/quarryline/internal/platform/httpx"
	"github.com/quarryline/quarryline/internal/shared"
)

// Handler exposes invoice lookups.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/invoices", h.listInvoices)
}

// listInvoices answers ?order_id= with the order's invoice, otherwise lists by status.
func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if raw := q.Get("order_id"); raw != "" {
		orderID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || orderID <= 0 {
			httpx.RespondError(w, fmt.Errorf("%w: invalid order_id %q", httpx.ErrBadRequest, raw))
			return
		}
		inv, err := h.service.FindByOrder(r.Context(), orderID)
		if err != nil {
			h.fail(w, "find invoice", err)
			return
		}
		httpx.JSON(w, http.StatusOK, inv)
		return
	}

	status := PaymentStatus(q.Get("status"))
	if status == "" {
		status = PaymentPending
	}
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	invoices, err := h.service.ListByStatus(r.Context(), status, shared.NewPagination(page, perPage, 0))
	if err != nil {
		h.fail(w, "list invoices", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
