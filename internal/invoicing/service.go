package invoicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quarryline/quarryline/internal/shared"
)

// RepositoryPort defines data access methods for invoicing.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	FindByOrder(ctx context.Context, orderID int64) (Invoice, error)
	ListByStatus(ctx context.Context, status PaymentStatus, p shared.Pagination) ([]Invoice, error)
	UpdateAging(ctx context.Context, id int64, days int, status PaymentStatus) error
	ListUninvoiced(ctx context.Context, limit int) ([]IssueRequest, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	LockYear(ctx context.Context, year int) error
	FindByOrder(ctx context.Context, orderID int64) (*Invoice, error)
	CountForYear(ctx context.Context, year int) (int, error)
	PaymentTerms(ctx context.Context, msaID int64) (*string, error)
	Create(ctx context.Context, inv Invoice) (Invoice, error)
	MarkOrderInvoiced(ctx context.Context, orderID int64) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig tunes issuance.
type ServiceConfig struct {
	TaxRate          decimal.Decimal
	DefaultTermsDays int
	Now              func() time.Time
}

// Service issues invoices and maintains their aging.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
	cfg    ServiceConfig
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultTermsDays <= 0 {
		cfg.DefaultTermsDays = DefaultTermsDays
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{repo: repo, logger: logger, cfg: cfg}
}

// Issue creates the invoice for a delivered order unless one exists, in which
// case the existing invoice is returned with Created false. Numbering is
// serialised per year by the transaction's year lock; a lost race surfaces as
// a conflict without retry.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (IssueResult, error) {
	if req.OrderID <= 0 || req.CustomerID <= 0 {
		return IssueResult{}, fmt.Errorf("%w: order and customer are required", ErrInvalidRequest)
	}
	if req.Subtotal.IsNegative() {
		return IssueResult{}, fmt.Errorf("%w: negative subtotal", ErrInvalidRequest)
	}
	issueDate := req.IssueDate
	if issueDate.IsZero() {
		issueDate = s.cfg.Now()
	}
	issueDate = dateOf(issueDate)
	year := issueDate.Year()

	var result IssueResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockYear(ctx, year); err != nil {
			return err
		}
		existing, err := tx.FindByOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if existing != nil {
			result = IssueResult{Invoice: *existing}
			return nil
		}
		issued, err := tx.CountForYear(ctx, year)
		if err != nil {
			return err
		}
		var terms *string
		if req.MSAID != nil {
			if terms, err = tx.PaymentTerms(ctx, *req.MSAID); err != nil {
				return err
			}
		}
		days := ParsePaymentTerms(terms, s.cfg.DefaultTermsDays)

		subtotal := req.Subtotal.Round(2)
		tax := subtotal.Mul(s.cfg.TaxRate).Round(2)
		created, err := tx.Create(ctx, Invoice{
			Number:        NextNumber(year, issued),
			OrderID:       req.OrderID,
			CustomerID:    req.CustomerID,
			IssueDate:     issueDate,
			DueDate:       DueDate(issueDate, days),
			Subtotal:      subtotal,
			Tax:           tax,
			Total:         subtotal.Add(tax),
			PaymentStatus: PaymentPending,
		})
		if err != nil {
			return err
		}
		if err := tx.MarkOrderInvoiced(ctx, req.OrderID); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, shared.AuditLog{
			Action:   "invoice.issued",
			Entity:   "invoice",
			EntityID: strconv.FormatInt(created.ID, 10),
			Meta: map[string]any{
				"number":     created.Number,
				"order_id":   created.OrderID,
				"terms_days": days,
			},
		}); err != nil {
			return err
		}
		result = IssueResult{Invoice: created, Created: true}
		return nil
	})
	if err != nil {
		return IssueResult{}, classify(fmt.Errorf("issue invoice for order %d: %w", req.OrderID, err))
	}
	if result.Created {
		s.logger.Info("invoice issued",
			slog.String("number", result.Invoice.Number),
			slog.Int64("order_id", req.OrderID),
			slog.Time("due_date", result.Invoice.DueDate))
	}
	return result, nil
}

// FindByOrder returns the invoice issued for an order.
func (s *Service) FindByOrder(ctx context.Context, orderID int64) (Invoice, error) {
	inv, err := s.repo.FindByOrder(ctx, orderID)
	if err != nil {
		return Invoice{}, classify(err)
	}
	return inv, nil
}

// ListByStatus lists invoices in a payment status.
func (s *Service) ListByStatus(ctx context.Context, status PaymentStatus, p shared.Pagination) ([]Invoice, error) {
	switch status {
	case PaymentPending, PaymentPaid, PaymentOverdue:
	default:
		return nil, fmt.Errorf("%w: unknown payment status %q", ErrInvalidRequest, status)
	}
	out, err := s.repo.ListByStatus(ctx, status, p)
	return out, classify(err)
}

// RefreshAging recomputes days outstanding for unpaid invoices and flags the
// ones past due. It returns the number of invoices updated.
func (s *Service) RefreshAging(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 200
	}
	// collect first: flipping pending to overdue shifts the pending pages
	var unpaid []Invoice
	for _, status := range []PaymentStatus{PaymentPending, PaymentOverdue} {
		for page := 1; ; page++ {
			invoices, err := s.repo.ListByStatus(ctx, status, shared.Pagination{Page: page, PerPage: batch})
			if err != nil {
				return 0, classify(err)
			}
			unpaid = append(unpaid, invoices...)
			if len(invoices) < batch {
				break
			}
		}
	}

	now := s.cfg.Now()
	updated := 0
	for _, inv := range unpaid {
		days := DaysOutstanding(inv.IssueDate, now)
		next := inv.PaymentStatus
		if dateOf(now).After(dateOf(inv.DueDate)) {
			next = PaymentOverdue
		}
		if days == inv.DaysOutstanding && next == inv.PaymentStatus {
			continue
		}
		if err := s.repo.UpdateAging(ctx, inv.ID, days, next); err != nil {
			return updated, classify(err)
		}
		updated++
	}
	return updated, nil
}

// Backfill issues invoices for delivered orders that lack one. Orders that
// fail are logged and skipped; the joined errors are returned.
func (s *Service) Backfill(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	pending, err := s.repo.ListUninvoiced(ctx, limit)
	if err != nil {
		return 0, classify(err)
	}
	issued := 0
	var errs []error
	for _, req := range pending {
		res, err := s.Issue(ctx, req)
		if err != nil {
			s.logger.Warn("backfill invoice", slog.Int64("order_id", req.OrderID), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		if res.Created {
			issued++
		}
	}
	return issued, errors.Join(errs...)
}

func classify(err error) error {
	if err == nil || shared.Classified(err) {
		return err
	}
	return fmt.Errorf("%w: %w", shared.ErrStoreUnavailable, err)
}
