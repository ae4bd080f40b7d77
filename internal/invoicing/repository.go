package invoicing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarryline/quarryline/internal/platform/db"
	"github.com/quarryline/quarryline/internal/shared"
)

// Constraint names backing the one-invoice-per-order and unique-number rules.
const (
	constraintOrderUnique  = "invoices_order_uniq"
	constraintNumberUnique = "invoices_number_uniq"
)

const invoiceColumns = `id, number, order_id, customer_id, issue_date, due_date, subtotal, tax, total, payment_status, days_outstanding, created_at`

// Repository provides PostgreSQL backed persistence for invoices.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn in a read-committed transaction. Issuance takes the year lock
// first, so every later statement must see rows committed while it waited.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.OrderID, &inv.CustomerID, &inv.IssueDate, &inv.DueDate,
		&inv.Subtotal, &inv.Tax, &inv.Total, &inv.PaymentStatus, &inv.DaysOutstanding, &inv.CreatedAt)
	return inv, err
}

// FindByOrder returns the invoice issued for an order.
func (r *Repository) FindByOrder(ctx context.Context, orderID int64) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE order_id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return Invoice{}, db.Classify(fmt.Errorf("find invoice: %w", err))
	}
	return inv, nil
}

// ListByStatus returns invoices in the given payment status, oldest first.
func (r *Repository) ListByStatus(ctx context.Context, status PaymentStatus, p shared.Pagination) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE payment_status = $1 ORDER BY issue_date, id LIMIT $2 OFFSET $3`,
		string(status), p.Limit(), p.Offset())
	if err != nil {
		return nil, db.Classify(fmt.Errorf("list invoices: %w", err))
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, db.Classify(fmt.Errorf("scan invoice: %w", err))
		}
		out = append(out, inv)
	}
	return out, db.Classify(rows.Err())
}

// UpdateAging stores the recomputed days outstanding and payment status.
func (r *Repository) UpdateAging(ctx context.Context, id int64, days int, status PaymentStatus) error {
	_, err := r.pool.Exec(ctx, `UPDATE invoices SET days_outstanding = $2, payment_status = $3 WHERE id = $1`, id, days, string(status))
	return db.Classify(err)
}

// ListUninvoiced returns issuance requests for delivered orders without an invoice.
func (r *Repository) ListUninvoiced(ctx context.Context, limit int) ([]IssueRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT o.id, o.customer_id, o.msa_id, o.total_amount
		FROM orders o
		LEFT JOIN invoices i ON i.order_id = o.id
		WHERE o.status = 'delivered' AND i.id IS NULL
		ORDER BY o.id
		LIMIT $1`, limit)
	if err != nil {
		return nil, db.Classify(fmt.Errorf("list uninvoiced orders: %w", err))
	}
	defer rows.Close()

	var out []IssueRequest
	for rows.Next() {
		var req IssueRequest
		if err := rows.Scan(&req.OrderID, &req.CustomerID, &req.MSAID, &req.Subtotal); err != nil {
			return nil, db.Classify(fmt.Errorf("scan uninvoiced order: %w", err))
		}
		out = append(out, req)
	}
	return out, db.Classify(rows.Err())
}

func (t *txRepo) LockYear(ctx context.Context, year int) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, shared.InvoiceYearLockKey(year))
	if err != nil {
		return fmt.Errorf("lock invoice year %d: %w", year, err)
	}
	return nil
}

func (t *txRepo) FindByOrder(ctx context.Context, orderID int64) (*Invoice, error) {
	inv, err := scanInvoice(t.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE order_id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find invoice: %w", err)
	}
	return &inv, nil
}

func (t *txRepo) CountForYear(ctx context.Context, year int) (int, error) {
	var n int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE number LIKE $1`, NumberPattern(year)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count invoices: %w", err)
	}
	return n, nil
}

func (t *txRepo) PaymentTerms(ctx context.Context, msaID int64) (*string, error) {
	var terms *string
	err := t.tx.QueryRow(ctx, `SELECT payment_terms FROM msas WHERE id = $1`, msaID).Scan(&terms)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("msa payment terms: %w", err)
	}
	return terms, nil
}

func (t *txRepo) Create(ctx context.Context, inv Invoice) (Invoice, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO invoices (number, order_id, customer_id, issue_date, due_date, subtotal, tax, total, payment_status, days_outstanding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+invoiceColumns,
		inv.Number, inv.OrderID, inv.CustomerID, inv.IssueDate, inv.DueDate,
		inv.Subtotal, inv.Tax, inv.Total, string(inv.PaymentStatus), inv.DaysOutstanding)
	created, err := scanInvoice(row)
	switch {
	case err == nil:
		return created, nil
	case db.IsUniqueViolation(err, constraintOrderUnique):
		return Invoice{}, ErrInvoiceExists
	case db.IsUniqueViolation(err, constraintNumberUnique):
		return Invoice{}, ErrNumberTaken
	default:
		return Invoice{}, fmt.Errorf("insert invoice: %w", err)
	}
}

func (t *txRepo) MarkOrderInvoiced(ctx context.Context, orderID int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET status = 'invoiced', updated_at = NOW() WHERE id = $1 AND status = 'delivered'`, orderID)
	if err != nil {
		return fmt.Errorf("mark order invoiced: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotDelivered
	}
	return nil
}

func (t *txRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return shared.WriteAudit(ctx, t.tx, log)
}
