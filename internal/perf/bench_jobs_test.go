package perf

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/quarryline/quarryline/internal/jobs"
	"github.com/quarryline/quarryline/jobs"
)

type flakySweeper struct {
	calls int
}

func (f *flakySweeper) Backfill(ctx context.Context, limit int) (int, error) {
	f.calls++
	time.Sleep(2 * time.Millisecond)
	if f.calls%20 == 0 {
		return 1, errors.New("statement timeout")
	}
	return 3, nil
}

func (f *flakySweeper) RefreshAging(ctx context.Context, batch int) (int, error) {
	time.Sleep(5 * time.Millisecond)
	return batch, nil
}

func TestInvoiceSweepThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := jobs.NewInvoiceSweepJob(&flakySweeper{}, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)

	backfill, err := jobs.NewInvoiceBackfillTask(10)
	if err != nil {
		t.Fatalf("build backfill task: %v", err)
	}
	aging, err := jobs.NewInvoiceAgingTask(50)
	if err != nil {
		t.Fatalf("build aging task: %v", err)
	}

	failures := 0
	for i := 0; i < 60; i++ {
		if err := job.HandleBackfill(context.Background(), backfill); err != nil {
			failures++
		}
	}
	if failures != 3 {
		t.Fatalf("expected 3 failed backfill runs, got %d", failures)
	}
	for i := 0; i < 10; i++ {
		if err := job.HandleAging(context.Background(), aging); err != nil {
			t.Fatalf("aging run: %v", err)
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "quarryline_jobs_total", map[string]string{"job": jobs.TaskInvoiceBackfill, "status": "success"})
	failure := metricValue(t, families, "quarryline_jobs_total", map[string]string{"job": jobs.TaskInvoiceBackfill, "status": "failure"})
	if ratio := success / (success + failure); ratio < 0.9 {
		t.Fatalf("backfill success ratio too low: %f", ratio)
	}

	processed := metricValue(t, families, "quarryline_job_records_processed_total", map[string]string{"job": jobs.TaskInvoiceAging})
	if processed != 500 {
		t.Fatalf("expected 500 aged invoices, got %f", processed)
	}

	if mean := histogramMean(t, families, "quarryline_job_duration_seconds", map[string]string{"job": jobs.TaskInvoiceBackfill}); mean > 0.5 {
		t.Fatalf("backfill duration above budget: %f", mean)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
