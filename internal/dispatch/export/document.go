// Package export builds the chain-of-custody report of a delivered delivery
// and renders it to HTML and PDF.
package export

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/quarryline/quarryline/internal/dispatch"
	"github.com/quarryline/quarryline/internal/shared"
)

// ReportTitle heads every page.
const ReportTitle = "Delivery Traceability Report"

// DefaultRowsPerPage is the checkpoint rows that fit one page of the table.
const DefaultRowsPerPage = 18

// ErrNotDelivered rejects reports for deliveries still in progress.
var ErrNotDelivered = fmt.Errorf("%w: traceability report requires a delivered delivery", shared.ErrValidationFailed)

// Options tunes document building.
type Options struct {
	Issuer      string
	RowsPerPage int
	GeneratedAt time.Time
}

// Document is the paginated report. It is a pure function of the snapshot
// and the options.
type Document struct {
	Title       string
	Issuer      string
	OrderNumber string
	Summary     Summary
	Pages       []Page
	Signature   *SignatureBlock
	GeneratedAt time.Time
	Layout      Layout
}

// Summary is the header section.
type Summary struct {
	OrderNumber string
	Customer    string
	Truck       string
	TruckType   string
	Driver      string
	Origin      Endpoint
	Destination Endpoint
	Status      string
	CreatedAt   time.Time
	ETA         time.Time
	ArrivedAt   *time.Time
	WaitMinutes int
}

// Endpoint is a named route end.
type Endpoint struct {
	Name     string
	Lat, Lng float64
}

// Row is one checkpoint table row.
type Row struct {
	Index   int
	Time    time.Time
	Name    string
	Kind    string
	Lat     float64
	Lng     float64
	Striped bool
}

// Page is one printed page of the checkpoint table.
type Page struct {
	Number int
	Total  int
	Rows   []Row
}

// First reports whether the page carries the summary.
func (p Page) First() bool { return p.Number == 1 }

// Last reports whether the page carries the confirmation block.
func (p Page) Last() bool { return p.Number == p.Total }

// SignatureBlock is the proof-of-delivery section.
type SignatureBlock struct {
	SignerName  string
	SignerTitle string
	SignedAt    time.Time
	Lat, Lng    float64
	Image       string
	Photo       string
}

var titleCaser = cases.Title(language.English)

// label turns stored identifiers like in_transit or belly_dump into "In Transit".
func label(s string) string {
	return titleCaser.String(strings.ReplaceAll(s, "_", " "))
}

// Build assembles the document. The snapshot is not modified.
func Build(snap dispatch.Snapshot, opts Options) (Document, error) {
	d := snap.Delivery
	if d.Status != dispatch.StatusDelivered {
		return Document{}, fmt.Errorf("%w (delivery %d is %s)", ErrNotDelivered, d.ID, d.Status)
	}
	if opts.RowsPerPage <= 0 {
		opts.RowsPerPage = DefaultRowsPerPage
	}
	if opts.GeneratedAt.IsZero() {
		opts.GeneratedAt = time.Now().UTC()
	}

	doc := Document{
		Title:       ReportTitle,
		Issuer:      opts.Issuer,
		OrderNumber: snap.Order.Number,
		GeneratedAt: opts.GeneratedAt,
		Layout:      LetterLayout(opts.RowsPerPage),
		Summary: Summary{
			OrderNumber: snap.Order.Number,
			Customer:    snap.Order.CustomerName,
			Truck:       snap.Truck.LicensePlate,
			TruckType:   label(snap.Truck.Type),
			Driver:      snap.Driver.Name,
			Origin:      Endpoint{Name: snap.Order.Quarry.Name, Lat: snap.Order.Quarry.Lat, Lng: snap.Order.Quarry.Lng},
			Destination: Endpoint{Name: snap.Order.WellSite.Name, Lat: snap.Order.WellSite.Lat, Lng: snap.Order.WellSite.Lng},
			Status:      label(string(d.Status)),
			CreatedAt:   d.CreatedAt,
			ETA:         d.ETA,
			ArrivedAt:   d.ActualArrival,
			WaitMinutes: d.WaitTimeMinutes,
		},
	}

	rows := make([]Row, 0, len(d.Checkpoints))
	for i, cp := range d.Checkpoints {
		kind := "Manual"
		if cp.AutoDetected {
			kind = "Auto"
		}
		rows = append(rows, Row{
			Index:   i + 1,
			Time:    cp.Timestamp,
			Name:    cp.Name,
			Kind:    kind,
			Lat:     cp.Lat,
			Lng:     cp.Lng,
			Striped: i%2 == 1,
		})
	}
	doc.Pages = Paginate(rows, opts.RowsPerPage)

	if sig := d.Signature; sig != nil {
		doc.Signature = &SignatureBlock{
			SignerName:  sig.SignerName,
			SignerTitle: sig.SignerTitle,
			SignedAt:    sig.SignedAt,
			Lat:         sig.Lat,
			Lng:         sig.Lng,
			Image:       sig.Image,
			Photo:       sig.Photo,
		}
	}
	return doc, nil
}

// Filename is the download name of the report in the given extension.
func Filename(orderNumber, ext string) string {
	return fmt.Sprintf("Traceability-Report-%s.%s", orderNumber, strings.TrimPrefix(ext, "."))
}
