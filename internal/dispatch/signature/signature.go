// Package signature models proof-of-delivery capture. Fields are accumulated on
// a Builder and validated as a unit before a delivery may be confirmed.
package signature

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/quarryline/quarryline/internal/shared"
)

var (
	// ErrSignerRequired is returned when the signer name or title is empty.
	ErrSignerRequired = fmt.Errorf("%w: signer name and title are required", shared.ErrValidationFailed)
	// ErrImageRequired is returned when no signature image was captured.
	ErrImageRequired = fmt.Errorf("%w: signature image is required", shared.ErrValidationFailed)
	// ErrLocationRequired is returned when no capture location was recorded.
	ErrLocationRequired = fmt.Errorf("%w: capture location is required", shared.ErrValidationFailed)
)

// Signature is the captured proof of delivery.
type Signature struct {
	SignerName  string    `json:"signer_name"`
	SignerTitle string    `json:"signer_title"`
	SignedAt    time.Time `json:"signed_at"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Image       string    `json:"image"`
	Photo       string    `json:"photo,omitempty"`
}

// Complete reports whether every mandatory field is present.
func (s *Signature) Complete() bool {
	return s != nil && s.SignerName != "" && s.SignerTitle != "" && s.Image != ""
}

// Builder accumulates signature fields. The drawing surface producing Image is
// an external collaborator.
type Builder struct {
	SignerName  string `validate:"required"`
	SignerTitle string `validate:"required"`
	Image       string `validate:"required"`
	Photo       string
	Lat         float64 `validate:"latitude"`
	Lng         float64 `validate:"longitude"`

	located bool
}

var validate = validator.New()

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Signer sets the signer identity.
func (b *Builder) Signer(name, title string) *Builder {
	b.SignerName = name
	b.SignerTitle = title
	return b
}

// WithImage sets the signature image payload.
func (b *Builder) WithImage(image string) *Builder {
	b.Image = image
	return b
}

// WithPhoto sets the optional delivery photo payload.
func (b *Builder) WithPhoto(photo string) *Builder {
	b.Photo = photo
	return b
}

// At sets the capture location.
func (b *Builder) At(lat, lng float64) *Builder {
	b.Lat = lat
	b.Lng = lng
	b.located = true
	return b
}

// Validate checks the accumulated fields. Signer fields are checked before the
// image, and the image before the location, so the first missing step is reported.
func (b *Builder) Validate() error {
	b.SignerName = strings.TrimSpace(b.SignerName)
	b.SignerTitle = strings.TrimSpace(b.SignerTitle)
	b.Image = strings.TrimSpace(b.Image)

	err := validate.Struct(b)
	if err == nil {
		if !b.located {
			return ErrLocationRequired
		}
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", shared.ErrValidationFailed, err)
	}
	for _, fe := range fieldErrs {
		switch fe.Field() {
		case "SignerName", "SignerTitle":
			return ErrSignerRequired
		case "Image":
			return ErrImageRequired
		default:
			return fmt.Errorf("%w: invalid %s", shared.ErrValidationFailed, strings.ToLower(fe.Field()))
		}
	}
	return nil
}

// Build validates the builder and stamps the capture time.
func (b *Builder) Build(signedAt time.Time) (Signature, error) {
	if err := b.Validate(); err != nil {
		return Signature{}, err
	}
	return Signature{
		SignerName:  b.SignerName,
		SignerTitle: b.SignerTitle,
		SignedAt:    signedAt,
		Lat:         b.Lat,
		Lng:         b.Lng,
		Image:       b.Image,
		Photo:       strings.TrimSpace(b.Photo),
	}, nil
}
