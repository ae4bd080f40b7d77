package app

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/quarryline/quarryline/internal/dispatch"
	dispatchexport "github.com/quarryline/quarryline/internal/dispatch/export"
	"github.com/quarryline/quarryline/internal/fleet"
	"github.com/quarryline/quarryline/internal/invoicing"
	"github.com/quarryline/quarryline/internal/observability"
	"github.com/quarryline/quarryline/internal/platform/httpx"
	"github.com/quarryline/quarryline/jobs"
)

// Pinger is a dependency probed by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics

	FleetHandler     *fleet.Handler
	InvoicingHandler *invoicing.Handler
	Dispatch         *dispatch.Module
	ReportHandler    *dispatchexport.Handler
	JobHandler       *jobs.Handler

	// Health names each probed dependency.
	Health map[string]Pinger
}

// NewRouter constructs the chi.Router with Quarryline defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", healthz(params.Health, params.Logger))

	r.Route("/api", func(r chi.Router) {
		if params.FleetHandler != nil {
			params.FleetHandler.MountRoutes(r)
		}
		if params.InvoicingHandler != nil {
			params.InvoicingHandler.MountRoutes(r)
		}
		if params.Dispatch != nil {
			var extra []func(chi.Router)
			if params.ReportHandler != nil {
				extra = append(extra, params.ReportHandler.MountRoutes)
			}
			params.Dispatch.MountRoutes(r, extra...)
		}
	})
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthz(deps map[string]Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		var (
			mu      sync.Mutex
			g       errgroup.Group
			results = make(map[string]string, len(deps))
			errs    = make(map[string]error)
		)
		for name, dep := range deps {
			g.Go(func() error {
				err := dep.Ping(ctx)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs[name] = err
					results[name] = "down"
					return nil
				}
				results[name] = "ok"
				return nil
			})
		}
		_ = g.Wait()

		status := http.StatusOK
		out := healthStatus{Status: "ok", Checks: results}
		if len(errs) > 0 {
			status = http.StatusServiceUnavailable
			out.Status = "degraded"
			for name, err := range errs {
				logger.Warn("health check failed", slog.String("dependency", name), slog.Any("error", err))
			}
		}
		httpx.JSON(w, status, out)
	}
}
