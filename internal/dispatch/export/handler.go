package export

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quarryline/quarryline/internal/platform/httpx"
)

// Handler serves rendered reports.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers report routes relative to the deliveries subtree.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}/report.pdf", h.serve(FormatPDF))
	r.Get("/{id}/report.html", h.serve(FormatHTML))
}

func (h *Handler) serve(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.PathID(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		doc, err := h.service.Render(r.Context(), id, format)
		if err != nil {
			if httpx.StatusFor(err) >= http.StatusInternalServerError {
				h.logger.Error("render report", slog.Int64("delivery_id", id), slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		disposition := "inline"
		if r.URL.Query().Get("download") == "1" {
			disposition = "attachment"
		}
		w.Header().Set("Content-Type", doc.ContentType)
		w.Header().Set("Content-Disposition", disposition+`; filename="`+doc.Filename+`"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(doc.Body)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(doc.Body)
	}
}
