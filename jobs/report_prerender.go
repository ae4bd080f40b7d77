package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/quarryline/quarryline/internal/jobs"
	"github.com/quarryline/quarryline/internal/shared"
)

// ReportRenderer renders and caches a delivery's report.
type ReportRenderer interface {
	Prerender(ctx context.Context, deliveryID int64) error
}

// ReportPrerenderJob warms the report cache after confirmation.
type ReportPrerenderJob struct {
	Renderer ReportRenderer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewReportPrerenderJob constructs the job handler.
func NewReportPrerenderJob(renderer ReportRenderer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReportPrerenderJob {
	return &ReportPrerenderJob{Renderer: renderer, Logger: logger, Metrics: metrics}
}

// Handle renders the report. Missing or undelivered deliveries are not retried.
func (j *ReportPrerenderJob) Handle(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Renderer == nil {
		return errors.New("report prerender: dependencies not configured")
	}
	var payload ReportPrerenderPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.DeliveryID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskReportPrerender)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.log().With(slog.Int64("delivery_id", payload.DeliveryID))
	if err := j.Renderer.Prerender(ctx, payload.DeliveryID); err != nil {
		switch shared.KindOf(err) {
		case shared.KindNotFound, shared.KindValidation:
			logger.Warn("report prerender skipped", slog.Any("error", err))
			return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
		}
		logger.Error("report prerender", slog.Any("error", err))
		return err
	}
	j.Metrics.AddProcessed(TaskReportPrerender, 1)
	logger.Info("report prerendered")
	return nil
}

func (j *ReportPrerenderJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
