package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/quarryline/quarryline/internal/dispatch"
	dispatchexport "github.com/quarryline/quarryline/internal/dispatch/export"
	"github.com/quarryline/quarryline/internal/events"
	"github.com/quarryline/quarryline/internal/invoicing"
	"github.com/quarryline/quarryline/report"
)

// NewInvoicing wires the invoicing service from configuration.
func NewInvoicing(pool *pgxpool.Pool, cfg *Config, logger *slog.Logger) (*invoicing.Service, error) {
	rate, err := cfg.TaxRate()
	if err != nil {
		return nil, err
	}
	return invoicing.NewService(invoicing.NewRepository(pool), logger, invoicing.ServiceConfig{
		TaxRate:          rate,
		DefaultTermsDays: cfg.InvoiceDefaultTermsDays,
	}), nil
}

// NewPublisher returns the Kafka publisher when enabled, otherwise a no-op.
func NewPublisher(cfg *Config, logger *slog.Logger) (events.Publisher, error) {
	if !cfg.KafkaEnabled {
		return events.Noop{}, nil
	}
	return events.NewKafkaPublisher(events.KafkaConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
	}, logger)
}

// NewGotenberg builds the PDF conversion client.
func NewGotenberg(cfg *Config) *report.Client {
	return report.NewClient(cfg.GotenbergURL, cfg.GotenbergTimeout)
}

// NewReports wires the traceability report renderer. A nil redis client
// disables caching.
func NewReports(source dispatchexport.SnapshotSource, pdf dispatchexport.PDFConverter, redisClient *redis.Client, cfg *Config, logger *slog.Logger) *dispatchexport.Service {
	svc := dispatchexport.NewService(source, pdf, logger, dispatchexport.Config{
		Issuer:      cfg.ReportIssuer,
		RowsPerPage: cfg.ReportRowsPerPage,
	})
	if redisClient != nil {
		svc.SetCache(dispatchexport.NewRedisCache(redisClient, cfg.ReportCacheTTL))
	}
	return svc
}

// DispatchConfig maps configuration onto the lifecycle engine.
func DispatchConfig(cfg *Config) dispatch.ServiceConfig {
	return dispatch.ServiceConfig{ETA: cfg.DispatchETA}
}
