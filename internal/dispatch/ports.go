package dispatch

import (
	"context"
	"time"

	"github.com/quarryline/quarryline/internal/events"
	"github.com/quarryline/quarryline/internal/fleet"
	"github.com/quarryline/quarryline/internal/invoicing"
	"github.com/quarryline/quarryline/internal/shared"
)

// RepositoryPort defines reads and the transaction boundary of the engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListOrders(ctx context.Context, status OrderStatus) ([]Order, error)
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, error)
	GetDelivery(ctx context.Context, id int64) (Delivery, error)
	GetSnapshot(ctx context.Context, deliveryID int64) (Snapshot, error)
	HasPassingCertificate(ctx context.Context, orderID int64) (bool, error)
}

// TxRepository exposes transactional operations. Lock methods take row locks
// held until the transaction ends.
type TxRepository interface {
	LockOrder(ctx context.Context, id int64) (Order, error)
	LockTruck(ctx context.Context, id int64) (fleet.Truck, error)
	LockDriver(ctx context.Context, id int64) (fleet.Driver, error)
	LockDelivery(ctx context.Context, id int64) (Delivery, error)
	FindPassingCertificate(ctx context.Context, orderID int64) (*Certificate, error)
	StampCertificateTruck(ctx context.Context, certificateID, truckID int64) error
	CreateDelivery(ctx context.Context, d Delivery) (Delivery, error)
	UpdateDelivery(ctx context.Context, d Delivery) error
	SetOrderStatus(ctx context.Context, orderID int64, status OrderStatus) error
	// ClaimTruck assigns an available truck; ErrTruckUnavailable when it is not.
	ClaimTruck(ctx context.Context, truckID, orderID, driverID int64) error
	// ClaimDriver marks an available driver busy; ErrDriverUnavailable when not.
	ClaimDriver(ctx context.Context, driverID int64) error
	ReleaseTruck(ctx context.Context, truckID, orderID int64) error
	ReleaseDriver(ctx context.Context, driverID int64) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// InvoiceIssuer issues the invoice of a delivered order.
type InvoiceIssuer interface {
	Issue(ctx context.Context, req invoicing.IssueRequest) (invoicing.IssueResult, error)
	FindByOrder(ctx context.Context, orderID int64) (invoicing.Invoice, error)
}

// ReportQueue schedules pre-rendering of a delivered delivery's report.
type ReportQueue interface {
	EnqueueReportRender(ctx context.Context, deliveryID int64) error
}

// Observer receives per-operation outcomes.
type Observer interface {
	ObserveOperation(operation string, err error, elapsed time.Duration)
}

// Publisher is the subset of events.Publisher the engine uses.
type Publisher interface {
	Publish(ctx context.Context, evt events.Event) error
}
