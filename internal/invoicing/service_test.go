package invoicing

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/quarryline/quarryline/internal/shared"
)

type memoryOrder struct {
	status string
	msaID  *int64
}

// memoryInvoiceRepo serialises transactions with a mutex and restores its
// state when the callback fails.
type memoryInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[int64]Invoice
	orders   map[int64]*memoryOrder
	terms    map[int64]*string
	audits   []shared.AuditLog
	nextID   int64
}

func newMemoryInvoiceRepo() *memoryInvoiceRepo {
	return &memoryInvoiceRepo{
		invoices: make(map[int64]Invoice),
		orders:   make(map[int64]*memoryOrder),
		terms:    make(map[int64]*string),
	}
}

func (m *memoryInvoiceRepo) addOrder(id int64, status string, msaID *int64) {
	m.orders[id] = &memoryOrder{status: status, msaID: msaID}
}

func (m *memoryInvoiceRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	invoices := make(map[int64]Invoice, len(m.invoices))
	for k, v := range m.invoices {
		invoices[k] = v
	}
	orders := make(map[int64]memoryOrder, len(m.orders))
	for k, v := range m.orders {
		orders[k] = *v
	}
	nextID, audits := m.nextID, len(m.audits)

	if err := fn(ctx, memoryInvoiceTx{m}); err != nil {
		m.invoices = invoices
		for k, v := range orders {
			o := v
			m.orders[k] = &o
		}
		m.nextID = nextID
		m.audits = m.audits[:audits]
		return err
	}
	return nil
}

func (m *memoryInvoiceRepo) FindByOrder(ctx context.Context, orderID int64) (Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.OrderID == orderID {
			return inv, nil
		}
	}
	return Invoice{}, ErrInvoiceNotFound
}

func (m *memoryInvoiceRepo) ListByStatus(ctx context.Context, status PaymentStatus, p shared.Pagination) ([]Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Invoice
	for _, inv := range m.invoices {
		if inv.PaymentStatus == status {
			all = append(all, inv)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if p.Offset() >= len(all) {
		return nil, nil
	}
	end := p.Offset() + p.Limit()
	if end > len(all) {
		end = len(all)
	}
	return all[p.Offset():end], nil
}

func (m *memoryInvoiceRepo) UpdateAging(ctx context.Context, id int64, days int, status PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.DaysOutstanding = days
	inv.PaymentStatus = status
	m.invoices[id] = inv
	return nil
}

func (m *memoryInvoiceRepo) ListUninvoiced(ctx context.Context, limit int) ([]IssueRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	invoiced := make(map[int64]bool)
	for _, inv := range m.invoices {
		invoiced[inv.OrderID] = true
	}
	var out []IssueRequest
	for id, o := range m.orders {
		if o.status == "delivered" && !invoiced[id] {
			out = append(out, IssueRequest{OrderID: id, CustomerID: 1, MSAID: o.msaID, Subtotal: decimal.NewFromInt(1000)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryInvoiceTx struct {
	m *memoryInvoiceRepo
}

func (t memoryInvoiceTx) LockYear(ctx context.Context, year int) error { return nil }

func (t memoryInvoiceTx) FindByOrder(ctx context.Context, orderID int64) (*Invoice, error) {
	for _, inv := range t.m.invoices {
		if inv.OrderID == orderID {
			found := inv
			return &found, nil
		}
	}
	return nil, nil
}

func (t memoryInvoiceTx) CountForYear(ctx context.Context, year int) (int, error) {
	prefix := strings.TrimSuffix(NumberPattern(year), "%")
	n := 0
	for _, inv := range t.m.invoices {
		if strings.HasPrefix(inv.Number, prefix) {
			n++
		}
	}
	return n, nil
}

func (t memoryInvoiceTx) PaymentTerms(ctx context.Context, msaID int64) (*string, error) {
	return t.m.terms[msaID], nil
}

func (t memoryInvoiceTx) Create(ctx context.Context, inv Invoice) (Invoice, error) {
	for _, existing := range t.m.invoices {
		if existing.OrderID == inv.OrderID {
			return Invoice{}, ErrInvoiceExists
		}
		if existing.Number == inv.Number {
			return Invoice{}, ErrNumberTaken
		}
	}
	t.m.nextID++
	inv.ID = t.m.nextID
	inv.CreatedAt = time.Now()
	t.m.invoices[inv.ID] = inv
	return inv, nil
}

func (t memoryInvoiceTx) MarkOrderInvoiced(ctx context.Context, orderID int64) error {
	o, ok := t.m.orders[orderID]
	if !ok || o.status != "delivered" {
		return ErrOrderNotDelivered
	}
	o.status = "invoiced"
	return nil
}

func (t memoryInvoiceTx) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	t.m.audits = append(t.m.audits, log)
	return nil
}

func strPtr(s string) *string { return &s }

func fixedNow(t time.Time) func() time.Time { return func() time.Time { return t } }

func newTestService(repo *memoryInvoiceRepo, now time.Time) *Service {
	return NewService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)), ServiceConfig{
		TaxRate: decimal.RequireFromString("0.0825"),
		Now:     fixedNow(now),
	})
}

func TestNextNumber(t *testing.T) {
	assert.Equal(t, "INV-2026-0001", NextNumber(2026, 0))
	assert.Equal(t, "INV-2026-0042", NextNumber(2026, 41))
	assert.Equal(t, "INV-2026-10000", NextNumber(2026, 9999))
}

func TestParsePaymentTerms(t *testing.T) {
	cases := []struct {
		terms *string
		want  int
	}{
		{strPtr("Net 45"), 45},
		{strPtr("net60 days"), 60},
		{strPtr("15 days EOM"), 15},
		{strPtr("2/10 Net 30"), 30},
		{strPtr("1% 10, NET 45"), 45},
		{strPtr("Due on receipt"), 30},
		{strPtr(""), 30},
		{strPtr("Net 0"), 30},
		{nil, 30},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ParsePaymentTerms(tc.terms, DefaultTermsDays))
	}
	assert.Equal(t, 14, ParsePaymentTerms(nil, 14))
}

func TestDaysOutstanding(t *testing.T) {
	issue := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, DaysOutstanding(issue, issue.Add(5*time.Hour)))
	assert.Equal(t, 5, DaysOutstanding(issue, issue.AddDate(0, 0, 5).Add(3*time.Hour)))
	assert.Equal(t, 0, DaysOutstanding(issue, issue.AddDate(0, 0, -2)))
}

func TestIssueUsesMSATerms(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	msaID := int64(5)
	repo.terms[msaID] = strPtr("Net 45")
	repo.addOrder(100, "delivered", &msaID)
	now := time.Date(2026, 6, 15, 14, 30, 0, 0, time.UTC)

	res, err := newTestService(repo, now).Issue(context.Background(), IssueRequest{
		OrderID: 100, CustomerID: 7, MSAID: &msaID, Subtotal: decimal.RequireFromString("12500.00"),
	})
	require.NoError(t, err)
	require.True(t, res.Created)

	inv := res.Invoice
	assert.Equal(t, "INV-2026-0001", inv.Number)
	assert.Equal(t, time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC), inv.IssueDate)
	assert.Equal(t, inv.IssueDate.AddDate(0, 0, 45), inv.DueDate)
	assert.Equal(t, PaymentPending, inv.PaymentStatus)
	assert.Equal(t, 0, inv.DaysOutstanding)
	assert.True(t, decimal.RequireFromString("1031.25").Equal(inv.Tax), inv.Tax.String())
	assert.True(t, decimal.RequireFromString("13531.25").Equal(inv.Total), inv.Total.String())
	assert.Equal(t, "invoiced", repo.orders[100].status)
	require.Len(t, repo.audits, 1)
	assert.Equal(t, "invoice.issued", repo.audits[0].Action)
}

func TestIssueDefaultsToThirtyDays(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	msaID := int64(6)
	repo.terms[msaID] = strPtr("Payable upon receipt")
	repo.addOrder(1, "delivered", &msaID)
	repo.addOrder(2, "delivered", nil)
	svc := newTestService(repo, time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC))

	first, err := svc.Issue(context.Background(), IssueRequest{OrderID: 1, CustomerID: 1, MSAID: &msaID})
	require.NoError(t, err)
	assert.Equal(t, first.Invoice.IssueDate.AddDate(0, 0, 30), first.Invoice.DueDate)

	second, err := svc.Issue(context.Background(), IssueRequest{OrderID: 2, CustomerID: 1})
	require.NoError(t, err)
	assert.Equal(t, "INV-2026-0002", second.Invoice.Number)
	assert.Equal(t, time.Date(2027, 1, 19, 0, 0, 0, 0, time.UTC), second.Invoice.DueDate)
}

func TestIssueSequenceIsScopedPerYear(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	repo.addOrder(1, "delivered", nil)
	repo.addOrder(2, "delivered", nil)

	_, err := newTestService(repo, time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)).
		Issue(context.Background(), IssueRequest{OrderID: 1, CustomerID: 1})
	require.NoError(t, err)
	res, err := newTestService(repo, time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)).
		Issue(context.Background(), IssueRequest{OrderID: 2, CustomerID: 1})
	require.NoError(t, err)
	assert.Equal(t, "INV-2026-0001", res.Invoice.Number)
}

func TestIssueIsAtMostOncePerOrder(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	repo.addOrder(100, "delivered", nil)
	svc := newTestService(repo, time.Now().UTC())

	var g errgroup.Group
	var mu sync.Mutex
	created := 0
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			res, err := svc.Issue(context.Background(), IssueRequest{OrderID: 100, CustomerID: 1})
			if err != nil {
				return err
			}
			if res.Created {
				mu.Lock()
				created++
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, created)
	assert.Len(t, repo.invoices, 1)
}

func TestIssueConcurrentOrdersGetDistinctNumbers(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	for id := int64(1); id <= 10; id++ {
		repo.addOrder(id, "delivered", nil)
	}
	svc := newTestService(repo, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	var g errgroup.Group
	for id := int64(1); id <= 10; id++ {
		g.Go(func() error {
			_, err := svc.Issue(context.Background(), IssueRequest{OrderID: id, CustomerID: 1})
			return err
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[string]bool)
	for _, inv := range repo.invoices {
		assert.False(t, seen[inv.Number], "duplicate %s", inv.Number)
		seen[inv.Number] = true
	}
	assert.Len(t, seen, 10)
	assert.True(t, seen["INV-2026-0010"])
}

func TestIssueRollsBackWhenOrderNotDelivered(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	repo.addOrder(3, "dispatched", nil)

	_, err := newTestService(repo, time.Now()).Issue(context.Background(), IssueRequest{OrderID: 3, CustomerID: 1})
	require.ErrorIs(t, err, ErrOrderNotDelivered)
	assert.ErrorIs(t, err, shared.ErrPreconditionFailed)
	assert.Empty(t, repo.invoices)
	assert.Empty(t, repo.audits)
	assert.Equal(t, int64(0), repo.nextID)
}

func TestIssueValidatesRequest(t *testing.T) {
	svc := newTestService(newMemoryInvoiceRepo(), time.Now())
	_, err := svc.Issue(context.Background(), IssueRequest{CustomerID: 1})
	require.ErrorIs(t, err, shared.ErrValidationFailed)
	_, err = svc.Issue(context.Background(), IssueRequest{OrderID: 1, CustomerID: 1, Subtotal: decimal.NewFromInt(-1)})
	require.ErrorIs(t, err, shared.ErrValidationFailed)
}

func TestRefreshAgingMarksOverdue(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	issue := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.invoices[1] = Invoice{ID: 1, Number: "INV-2026-0001", IssueDate: issue, DueDate: issue.AddDate(0, 0, 30), PaymentStatus: PaymentPending}
	repo.invoices[2] = Invoice{ID: 2, Number: "INV-2026-0002", IssueDate: issue.AddDate(0, 0, 20), DueDate: issue.AddDate(0, 0, 80), PaymentStatus: PaymentPending}
	repo.invoices[3] = Invoice{ID: 3, Number: "INV-2026-0003", IssueDate: issue, DueDate: issue, PaymentStatus: PaymentPaid}

	svc := newTestService(repo, time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC))
	n, err := svc.RefreshAging(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, PaymentOverdue, repo.invoices[1].PaymentStatus)
	assert.Equal(t, 40, repo.invoices[1].DaysOutstanding)
	assert.Equal(t, PaymentPending, repo.invoices[2].PaymentStatus)
	assert.Equal(t, 20, repo.invoices[2].DaysOutstanding)
	assert.Equal(t, 0, repo.invoices[3].DaysOutstanding)

	n, err = svc.RefreshAging(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBackfillIssuesMissingInvoices(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	repo.addOrder(1, "delivered", nil)
	repo.addOrder(2, "invoiced", nil)
	repo.addOrder(3, "delivered", nil)
	repo.addOrder(4, "dispatched", nil)

	n, err := newTestService(repo, time.Now()).Backfill(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "invoiced", repo.orders[1].status)
	assert.Equal(t, "invoiced", repo.orders[3].status)
	assert.Equal(t, "dispatched", repo.orders[4].status)
}

func TestHandlerFindsInvoiceByOrder(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	repo.addOrder(100, "delivered", nil)
	svc := newTestService(repo, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	_, err := svc.Issue(context.Background(), IssueRequest{OrderID: 100, CustomerID: 1})
	require.NoError(t, err)

	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/invoices?order_id=100", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "INV-2026-0001")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/invoices?order_id=999", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/invoices?order_id=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/invoices?status=pending", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "INV-2026-0001")
}
