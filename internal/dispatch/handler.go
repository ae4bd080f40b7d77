package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/quarryline/quarryline/internal/platform/httpx"
	"github.com/quarryline/quarryline/internal/shared"
)

// IdempotencyHeader carries the client-chosen key for mutating requests.
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyGuard records processed request keys.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler exposes the lifecycle engine over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	idem      IdempotencyGuard
	validator *validator.Validate
}

// NewHandler builds Handler instance. idem may be nil to disable key checks.
func NewHandler(logger *slog.Logger, service *Service, idem IdempotencyGuard) *Handler {
	return &Handler{logger: logger, service: service, idem: idem, validator: validator.New()}
}

// MountRoutes registers order and delivery routes. extra mounts further
// routes inside the deliveries subtree.
func (h *Handler) MountRoutes(r chi.Router, extra ...func(chi.Router)) {
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)

	r.Route("/deliveries", func(r chi.Router) {
		r.Get("/", h.listDeliveries)
		r.Post("/", h.assign)
		r.Get("/{id}", h.getDelivery)
		r.Post("/{id}/in-transit", h.markInTransit)
		r.Post("/{id}/arrival", h.recordArrival)
		r.Post("/{id}/unloading", h.markDelivering)
		r.Post("/{id}/confirm", h.confirm)
		for _, mount := range extra {
			mount(r)
		}
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context(), OrderStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.fail(w, "list orders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.fail(w, "get order", err)
		return
	}
	certified, err := h.service.HasPassingCertificate(r.Context(), id)
	if err != nil {
		h.fail(w, "check certificate", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order": order, "certified": certified})
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	p := shared.NewPagination(page, perPage, 0)
	filter := DeliveryFilter{Status: Status(q.Get("status")), Limit: p.Limit(), Offset: p.Offset()}
	if raw := q.Get("order_id"); raw != "" {
		orderID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || orderID <= 0 {
			httpx.RespondError(w, fmt.Errorf("%w: invalid order_id %q", httpx.ErrBadRequest, raw))
			return
		}
		filter.OrderID = orderID
	}
	deliveries, err := h.service.ListDeliveries(r.Context(), filter)
	if err != nil {
		h.fail(w, "list deliveries", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.GetDelivery(r.Context(), id)
	if err != nil {
		h.fail(w, "get delivery", err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", ErrInvalidRequest, fieldErrors(err)))
		return
	}
	h.idempotent(w, r, OpAssign, func(ctx context.Context) (int, any, error) {
		res, err := h.service.Assign(ctx, req)
		return http.StatusCreated, res, err
	})
}

func (h *Handler) markInTransit(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.MarkInTransit(r.Context(), id)
	if err != nil {
		h.fail(w, "mark in transit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) recordArrival(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req arrivalRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	res, err := h.service.RecordArrival(r.Context(), id, req.ArrivedAt)
	if err != nil {
		h.fail(w, "record arrival", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) markDelivering(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.MarkDelivering(r.Context(), id)
	if err != nil {
		h.fail(w, "mark delivering", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req confirmRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.idempotent(w, r, OpConfirm, func(ctx context.Context) (int, any, error) {
		res, err := h.service.ConfirmDelivery(ctx, id, req.builder())
		return http.StatusOK, confirmResponse{ConfirmResult: res, InvoicePending: res.InvoiceError != nil}, err
	})
}

// idempotent runs fn once per Idempotency-Key. The key is released when fn
// fails so the client may retry with it.
func (h *Handler) idempotent(w http.ResponseWriter, r *http.Request, module string, fn func(context.Context) (int, any, error)) {
	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(ctx, key, "dispatch."+module); err != nil {
			h.fail(w, "idempotency check", err)
			return
		}
	}
	status, body, err := fn(ctx)
	if err != nil {
		if key != "" && h.idem != nil {
			if delErr := h.idem.Delete(context.WithoutCancel(ctx), key); delErr != nil {
				h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		h.fail(w, module, err)
		return
	}
	httpx.JSON(w, status, body)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func fieldErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed on %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
