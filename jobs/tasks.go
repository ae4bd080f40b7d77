package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskInvoiceBackfill issues invoices for delivered orders that have none.
	TaskInvoiceBackfill = "invoice:backfill"
	// TaskInvoiceAging recomputes days outstanding and flags overdue invoices.
	TaskInvoiceAging = "invoice:aging"
	// TaskReportPrerender renders a delivered delivery's report into the cache.
	TaskReportPrerender = "report:prerender"
)

// Default batch sizes for the sweeps.
const (
	DefaultBackfillLimit = 100
	DefaultAgingBatch    = 200
)

// SweepPayload bounds a batch job run.
type SweepPayload struct {
	Limit int `json:"limit"`
}

// ReportPrerenderPayload names the delivery whose report to render.
type ReportPrerenderPayload struct {
	DeliveryID int64 `json:"delivery_id"`
}

// NewInvoiceBackfillTask creates the invoice backfill task.
func NewInvoiceBackfillTask(limit int) (*asynq.Task, error) {
	if limit <= 0 {
		limit = DefaultBackfillLimit
	}
	return newTask(TaskInvoiceBackfill, SweepPayload{Limit: limit})
}

// NewInvoiceAgingTask creates the aging refresh task.
func NewInvoiceAgingTask(batch int) (*asynq.Task, error) {
	if batch <= 0 {
		batch = DefaultAgingBatch
	}
	return newTask(TaskInvoiceAging, SweepPayload{Limit: batch})
}

// NewReportPrerenderTask creates a report prerender task for one delivery.
func NewReportPrerenderTask(deliveryID int64) (*asynq.Task, error) {
	if deliveryID <= 0 {
		return nil, fmt.Errorf("report prerender: invalid delivery id %d", deliveryID)
	}
	return newTask(TaskReportPrerender, ReportPrerenderPayload{DeliveryID: deliveryID})
}

func newTask(typ string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(QueueDefault)), nil
}
