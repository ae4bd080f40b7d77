package dispatch

import (
	"time"

	"github.com/quarryline/quarryline/internal/dispatch/signature"
)

// confirmRequest is the proof-of-delivery payload captured on the driver's device.
type confirmRequest struct {
	SignerName     string   `json:"signer_name"`
	SignerTitle    string   `json:"signer_title"`
	SignatureImage string   `json:"signature_image"`
	Photo          string   `json:"photo,omitempty"`
	Lat            *float64 `json:"lat,omitempty"`
	Lng            *float64 `json:"lng,omitempty"`
}

func (c confirmRequest) builder() *signature.Builder {
	b := signature.NewBuilder().
		Signer(c.SignerName, c.SignerTitle).
		WithImage(c.SignatureImage).
		WithPhoto(c.Photo)
	if c.Lat != nil && c.Lng != nil {
		b.At(*c.Lat, *c.Lng)
	}
	return b
}

type arrivalRequest struct {
	ArrivedAt time.Time `json:"arrived_at"`
}

// confirmResponse reports the delivery and the invoice issued for it. A
// failed issuance is reported as invoice_pending; the backfill job retries it.
type confirmResponse struct {
	ConfirmResult
	InvoicePending bool `json:"invoice_pending"`
}
