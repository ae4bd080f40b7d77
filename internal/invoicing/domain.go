// Package invoicing issues gapless, year-scoped invoices for delivered orders.
package invoicing

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quarryline/quarryline/internal/shared"
)

// DefaultTermsDays applies when an order has no MSA or its terms carry no number.
const DefaultTermsDays = 30

// PaymentStatus tracks collection of an invoice.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentOverdue PaymentStatus = "overdue"
)

var (
	ErrInvoiceNotFound = fmt.Errorf("invoice %w", shared.ErrNotFound)

	// ErrInvoiceExists means the order already carries an invoice.
	ErrInvoiceExists = fmt.Errorf("%w: order already invoiced", shared.ErrConflict)

	// ErrNumberTaken means a concurrent issuance claimed the computed number.
	ErrNumberTaken = fmt.Errorf("%w: invoice number already issued", shared.ErrConflict)

	// ErrOrderNotDelivered means the order has not reached delivered.
	ErrOrderNotDelivered = fmt.Errorf("%w: order is not delivered", shared.ErrPreconditionFailed)

	ErrInvalidRequest = fmt.Errorf("%w: invalid invoice request", shared.ErrValidationFailed)
)

// Invoice is an issued customer invoice.
type Invoice struct {
	ID              int64           `json:"id"`
	Number          string          `json:"number"`
	OrderID         int64           `json:"order_id"`
	CustomerID      int64           `json:"customer_id"`
	IssueDate       time.Time       `json:"issue_date"`
	DueDate         time.Time       `json:"due_date"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	Total           decimal.Decimal `json:"total"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	DaysOutstanding int             `json:"days_outstanding"`
	CreatedAt       time.Time       `json:"created_at"`
}

// IssueRequest carries what issuance needs from the order.
type IssueRequest struct {
	OrderID    int64
	CustomerID int64
	MSAID      *int64
	Subtotal   decimal.Decimal
	// IssueDate defaults to today.
	IssueDate time.Time
}

// IssueResult reports the invoice for the order and whether this call created it.
type IssueResult struct {
	Invoice Invoice
	Created bool
}

// NextNumber formats the number following issued invoices in year.
func NextNumber(year, issued int) string {
	return fmt.Sprintf("INV-%d-%04d", year, issued+1)
}

// NumberPattern is the LIKE pattern matching every invoice number of year.
func NumberPattern(year int) string {
	return fmt.Sprintf("INV-%d-%%", year)
}

var (
	netDays  = regexp.MustCompile(`(?i)\bnet\s*(\d+)`)
	firstInt = regexp.MustCompile(`\d+`)
)

// ParsePaymentTerms extracts the day count from free-text MSA terms. A "Net N"
// clause wins so discount terms like "2/10 Net 30" give 30; otherwise the first
// integer in the text is used ("15 days EOM" gives 15). Missing, unparsable or
// zero terms give fallback.
func ParsePaymentTerms(terms *string, fallback int) int {
	if fallback <= 0 {
		fallback = DefaultTermsDays
	}
	if terms == nil {
		return fallback
	}
	var match string
	if m := netDays.FindStringSubmatch(*terms); m != nil {
		match = m[1]
	} else {
		match = firstInt.FindString(*terms)
	}
	if match == "" {
		return fallback
	}
	days, err := strconv.Atoi(match)
	if err != nil || days <= 0 {
		return fallback
	}
	return days
}

// DueDate adds terms calendar days to the issue date.
func DueDate(issue time.Time, termsDays int) time.Time {
	return issue.AddDate(0, 0, termsDays)
}

// DaysOutstanding counts whole days since issue as of now, never negative.
func DaysOutstanding(issue, now time.Time) int {
	issueDay := dateOf(issue)
	today := dateOf(now)
	if !today.After(issueDay) {
		return 0
	}
	return int(today.Sub(issueDay).Hours() / 24)
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
