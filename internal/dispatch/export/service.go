package export

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quarryline/quarryline/internal/dispatch"
	"github.com/quarryline/quarryline/report"
)

// Report formats.
const (
	FormatPDF  = "pdf"
	FormatHTML = "html"
)

// SnapshotSource loads the delivery and the records the report shows.
type SnapshotSource interface {
	Snapshot(ctx context.Context, deliveryID int64) (dispatch.Snapshot, error)
}

// PDFConverter turns HTML into PDF bytes.
type PDFConverter interface {
	ConvertHTML(ctx context.Context, html []byte, paper report.Paper) ([]byte, error)
}

// RenderObserver counts renders by format and cache outcome.
type RenderObserver interface {
	ObserveRender(format string, cacheHit bool)
}

// Rendered is a finished report ready to serve.
type Rendered struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Config tunes the renderer.
type Config struct {
	Issuer      string
	RowsPerPage int
	Now         func() time.Time
}

// Service renders traceability reports, deduplicating concurrent renders of
// the same report and caching finished documents when a cache is set.
type Service struct {
	source   SnapshotSource
	pdf      PDFConverter
	cache    Cache
	observer RenderObserver
	logger   *slog.Logger
	cfg      Config
	group    singleflight.Group
}

// NewService builds the renderer. pdf may be nil when only HTML is served.
func NewService(source SnapshotSource, pdf PDFConverter, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{source: source, pdf: pdf, logger: logger, cfg: cfg}
}

// SetCache enables caching of rendered reports.
func (s *Service) SetCache(c Cache) { s.cache = c }

// SetObserver sets the render metrics sink.
func (s *Service) SetObserver(o RenderObserver) { s.observer = o }

// Render produces the report of a delivered delivery in the given format.
func (s *Service) Render(ctx context.Context, deliveryID int64, format string) (Rendered, error) {
	contentType, err := contentTypeOf(format)
	if err != nil {
		return Rendered{}, err
	}
	key := format + ":" + strconv.FormatInt(deliveryID, 10)
	ch := s.group.DoChan(key, func() (any, error) {
		return s.render(context.WithoutCancel(ctx), deliveryID, format)
	})
	select {
	case <-ctx.Done():
		return Rendered{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Rendered{}, res.Err
		}
		r := res.Val.(Rendered)
		r.ContentType = contentType
		return r, nil
	}
}

// Prerender renders the PDF into the cache ahead of the first download.
func (s *Service) Prerender(ctx context.Context, deliveryID int64) error {
	_, err := s.Render(ctx, deliveryID, FormatPDF)
	return err
}

func (s *Service) render(ctx context.Context, deliveryID int64, format string) (Rendered, error) {
	snap, err := s.source.Snapshot(ctx, deliveryID)
	if err != nil {
		return Rendered{}, err
	}
	if snap.Delivery.Status != dispatch.StatusDelivered {
		return Rendered{}, fmt.Errorf("%w (delivery %d is %s)", ErrNotDelivered, deliveryID, snap.Delivery.Status)
	}
	filename := Filename(snap.Order.Number, format)

	if s.cache != nil {
		body, ok, err := s.cache.Get(ctx, deliveryID, format)
		if err != nil {
			s.logger.Warn("report cache read", slog.Int64("delivery_id", deliveryID), slog.Any("error", err))
		}
		if ok {
			s.observe(format, true)
			return Rendered{Filename: filename, Body: body}, nil
		}
	}

	doc, err := Build(snap, Options{Issuer: s.cfg.Issuer, RowsPerPage: s.cfg.RowsPerPage, GeneratedAt: s.cfg.Now()})
	if err != nil {
		return Rendered{}, err
	}
	body, err := RenderHTML(doc)
	if err != nil {
		return Rendered{}, err
	}
	if format == FormatPDF {
		if s.pdf == nil {
			return Rendered{}, fmt.Errorf("%w: no pdf converter configured", report.ErrRenderFailed)
		}
		if body, err = s.pdf.ConvertHTML(ctx, body, doc.Layout.Paper()); err != nil {
			return Rendered{}, err
		}
	}
	s.observe(format, false)

	if s.cache != nil {
		if err := s.cache.Set(ctx, deliveryID, format, body); err != nil {
			s.logger.Warn("report cache write", slog.Int64("delivery_id", deliveryID), slog.Any("error", err))
		}
	}
	s.logger.Info("traceability report rendered",
		slog.Int64("delivery_id", deliveryID), slog.String("format", format), slog.Int("bytes", len(body)))
	return Rendered{Filename: filename, Body: body}, nil
}

func (s *Service) observe(format string, hit bool) {
	if s.observer != nil {
		s.observer.ObserveRender(format, hit)
	}
}

func contentTypeOf(format string) (string, error) {
	switch format {
	case FormatPDF:
		return "application/pdf", nil
	case FormatHTML:
		return "text/html; charset=utf-8", nil
	default:
		return "", fmt.Errorf("%w: unknown report format %q", dispatch.ErrInvalidRequest, format)
	}
}
