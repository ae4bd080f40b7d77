// Package dispatch runs the delivery lifecycle: assignment, transit, proof of
// delivery and the truck and driver bookkeeping around them.
package dispatch

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Module bundles the wired dispatch components.
type Module struct {
	Repository *Repository
	Service    *Service
	Handler    *Handler
}

// NewModule wires the PostgreSQL repository, the engine and its handler.
func NewModule(pool *pgxpool.Pool, invoices InvoiceIssuer, idem IdempotencyGuard, logger *slog.Logger, cfg ServiceConfig) *Module {
	repo := NewRepository(pool)
	svc := NewService(repo, invoices, logger, cfg)
	return &Module{
		Repository: repo,
		Service:    svc,
		Handler:    NewHandler(logger, svc, idem),
	}
}

// MountRoutes wires dispatch routes under r.
func (m *Module) MountRoutes(r chi.Router, extra ...func(chi.Router)) {
	m.Handler.MountRoutes(r, extra...)
}
