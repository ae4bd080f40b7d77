package dispatch

import (
	"fmt"

	"github.com/quarryline/quarryline/internal/shared"
)

// Common errors
var (
	ErrOrderNotFound    = fmt.Errorf("order %w", shared.ErrNotFound)
	ErrDeliveryNotFound = fmt.Errorf("delivery %w", shared.ErrNotFound)

	ErrOrderNotReady      = fmt.Errorf("%w: order must be ready or confirmed", shared.ErrPreconditionFailed)
	ErrCertificateMissing = fmt.Errorf("%w: order has no passing quality certificate", shared.ErrPreconditionFailed)
	ErrTruckMissing       = fmt.Errorf("%w: truck does not exist", shared.ErrPreconditionFailed)
	ErrDriverMissing      = fmt.Errorf("%w: driver does not exist", shared.ErrPreconditionFailed)

	ErrTruckUnavailable  = fmt.Errorf("%w: truck is already assigned", shared.ErrConflict)
	ErrDriverUnavailable = fmt.Errorf("%w: driver is not available", shared.ErrConflict)
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", shared.ErrConflict)

	ErrInvalidRequest = fmt.Errorf("%w: invalid request", shared.ErrValidationFailed)
)
