package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/quarryline/quarryline/internal/jobs"
)

// InvoiceSweeper is the invoicing surface the sweeps drive.
type InvoiceSweeper interface {
	Backfill(ctx context.Context, limit int) (int, error)
	RefreshAging(ctx context.Context, batch int) (int, error)
}

// InvoiceSweepJob runs the backfill and aging sweeps.
type InvoiceSweepJob struct {
	Invoices InvoiceSweeper
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewInvoiceSweepJob constructs the job handlers.
func NewInvoiceSweepJob(invoices InvoiceSweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *InvoiceSweepJob {
	return &InvoiceSweepJob{Invoices: invoices, Logger: logger, Metrics: metrics}
}

// HandleBackfill issues missing invoices. Partial progress is kept; the run
// fails so asynq retries the remainder.
func (j *InvoiceSweepJob) HandleBackfill(ctx context.Context, task *asynq.Task) error {
	return j.run(ctx, task, TaskInvoiceBackfill, DefaultBackfillLimit, j.Invoices.Backfill)
}

// HandleAging refreshes days outstanding of unpaid invoices.
func (j *InvoiceSweepJob) HandleAging(ctx context.Context, task *asynq.Task) error {
	return j.run(ctx, task, TaskInvoiceAging, DefaultAgingBatch, j.Invoices.RefreshAging)
}

func (j *InvoiceSweepJob) run(ctx context.Context, task *asynq.Task, name string, fallback int, fn func(context.Context, int) (int, error)) (resultErr error) {
	if j == nil || j.Invoices == nil {
		return errors.New("invoice sweep: dependencies not configured")
	}
	var payload SweepPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Limit <= 0 {
		payload.Limit = fallback
	}

	tracker := j.Metrics.Track(name)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	n, err := fn(ctx, payload.Limit)
	j.Metrics.AddProcessed(name, n)
	if err != nil {
		j.log().Error("invoice sweep", slog.String("job", name), slog.Int("processed", n), slog.Any("error", err))
		return err
	}
	j.log().Info("invoice sweep completed", slog.String("job", name), slog.Int("processed", n))
	return nil
}

func (j *InvoiceSweepJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
