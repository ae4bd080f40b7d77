package fleet

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quarryline/quarryline/internal/platform/httpx"
)

// Handler exposes ledger listings.
type Handler struct {
	logger *slog.Logger
	ledger *Ledger
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, ledger *Ledger) *Handler {
	return &Handler{logger: logger, ledger: ledger}
}

// MountRoutes registers fleet routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/trucks", h.listTrucks)
	r.Get("/trucks/{id}", h.getTruck)
	r.Get("/drivers", h.listDrivers)
	r.Get("/fleet/availability", h.availability)
}

func (h *Handler) listTrucks(w http.ResponseWriter, r *http.Request) {
	trucks, err := h.ledger.ListTrucks(r.Context(), TruckStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.fail(w, "list trucks", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"trucks": trucks})
}

func (h *Handler) getTruck(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	truck, err := h.ledger.GetTruck(r.Context(), id)
	if err != nil {
		h.fail(w, "get truck", err)
		return
	}
	httpx.JSON(w, http.StatusOK, truck)
}

func (h *Handler) listDrivers(w http.ResponseWriter, r *http.Request) {
	availableOnly, _ := strconv.ParseBool(r.URL.Query().Get("available"))
	drivers, err := h.ledger.ListDrivers(r.Context(), availableOnly)
	if err != nil {
		h.fail(w, "list drivers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"drivers": drivers})
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	a, err := h.ledger.Availability(r.Context())
	if err != nil {
		h.fail(w, "fleet availability", err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
