package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/quarryline/quarryline/internal/dispatch/signature"
	"github.com/quarryline/quarryline/internal/dispatch/trail"
	"github.com/quarryline/quarryline/internal/events"
	"github.com/quarryline/quarryline/internal/fleet"
	"github.com/quarryline/quarryline/internal/invoicing"
	"github.com/quarryline/quarryline/internal/shared"
)

// DefaultETA is the planned haul time set on assignment.
const DefaultETA = 2 * time.Hour

// Operation names used for audit entries and metrics.
const (
	OpAssign         = "assign"
	OpMarkInTransit  = "mark_in_transit"
	OpRecordArrival  = "record_arrival"
	OpMarkDelivering = "mark_delivering"
	OpConfirm        = "confirm_delivery"
)

// ServiceConfig tunes the engine.
type ServiceConfig struct {
	ETA   time.Duration
	Trail trail.Strategy
	Now   func() time.Time
}

// Service is the delivery lifecycle engine. Every operation runs as a single
// store transaction and performs no retries.
type Service struct {
	repo      RepositoryPort
	invoices  InvoiceIssuer
	logger    *slog.Logger
	cfg       ServiceConfig
	publisher Publisher
	reports   ReportQueue
	observer  Observer
}

// NewService constructs the engine.
func NewService(repo RepositoryPort, invoices InvoiceIssuer, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ETA <= 0 {
		cfg.ETA = DefaultETA
	}
	if cfg.Trail == nil {
		cfg.Trail = trail.DefaultFixedPath()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:      repo,
		invoices:  invoices,
		logger:    logger,
		cfg:       cfg,
		publisher: events.Noop{},
	}
}

// SetPublisher sets the lifecycle event publisher.
func (s *Service) SetPublisher(p Publisher) {
	if p != nil {
		s.publisher = p
	}
}

// SetReportQueue enables report pre-rendering after confirmation.
func (s *Service) SetReportQueue(q ReportQueue) {
	s.reports = q
}

// SetObserver sets the operation metrics sink.
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

// ============================================================================
// ASSIGN
// ============================================================================

// AssignRequest names the order, truck and driver to bind.
type AssignRequest struct {
	OrderID  int64 `json:"order_id" validate:"required,gt=0"`
	TruckID  int64 `json:"truck_id" validate:"required,gt=0"`
	DriverID int64 `json:"driver_id" validate:"required,gt=0"`
}

// AssignResult is the created delivery plus non-blocking warnings.
type AssignResult struct {
	Delivery Delivery `json:"delivery"`
	Warnings []string `json:"warnings,omitempty"`
}

// Assign creates a delivery for a ready or confirmed order and takes the truck
// and driver out of the pool. Nothing is written unless every check passes.
func (s *Service) Assign(ctx context.Context, req AssignRequest) (result AssignResult, err error) {
	defer s.observe(OpAssign, time.Now(), &err)
	if req.OrderID <= 0 || req.TruckID <= 0 || req.DriverID <= 0 {
		return AssignResult{}, fmt.Errorf("%w: order, truck and driver are required", ErrInvalidRequest)
	}

	now := s.cfg.Now()
	var overHours bool
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.LockOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if !order.Status.Dispatchable() {
			return fmt.Errorf("%w (order %s is %s)", ErrOrderNotReady, order.Number, order.Status)
		}

		truck, err := tx.LockTruck(ctx, req.TruckID)
		if errors.Is(err, fleet.ErrTruckNotFound) {
			return fmt.Errorf("%w (truck %d)", ErrTruckMissing, req.TruckID)
		}
		if err != nil {
			return err
		}
		if !truck.Available() {
			return fmt.Errorf("%w (truck %s)", ErrTruckUnavailable, truck.LicensePlate)
		}

		driver, err := tx.LockDriver(ctx, req.DriverID)
		if errors.Is(err, fleet.ErrDriverNotFound) {
			return fmt.Errorf("%w (driver %d)", ErrDriverMissing, req.DriverID)
		}
		if err != nil {
			return err
		}
		if !driver.Available {
			return fmt.Errorf("%w (driver %s)", ErrDriverUnavailable, driver.Name)
		}
		overHours = driver.OverHours()

		cert, err := tx.FindPassingCertificate(ctx, order.ID)
		if err != nil {
			return err
		}
		if cert == nil {
			return fmt.Errorf("%w (order %s)", ErrCertificateMissing, order.Number)
		}

		if err := tx.ClaimTruck(ctx, truck.ID, order.ID, driver.ID); err != nil {
			return err
		}
		if err := tx.ClaimDriver(ctx, driver.ID); err != nil {
			return err
		}
		delivery, err := tx.CreateDelivery(ctx, Delivery{
			OrderID:     order.ID,
			TruckID:     truck.ID,
			DriverID:    driver.ID,
			Status:      StatusAssigned,
			ETA:         now.Add(s.cfg.ETA),
			Checkpoints: []trail.Checkpoint{},
			GPSTrack:    []trail.GPSPoint{},
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}
		if err := tx.StampCertificateTruck(ctx, cert.ID, truck.ID); err != nil {
			return err
		}
		if err := tx.SetOrderStatus(ctx, order.ID, OrderDispatched); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, auditEntry(OpAssign, delivery, now, map[string]any{
			"order_id":  order.ID,
			"truck_id":  truck.ID,
			"driver_id": driver.ID,
		})); err != nil {
			return err
		}
		result.Delivery = delivery
		return nil
	})
	if err != nil {
		return AssignResult{}, storeErr("assign", err)
	}

	logger := s.logger.With(slog.Int64("delivery_id", result.Delivery.ID), slog.Int64("order_id", req.OrderID))
	if overHours {
		// hours limit is informational; dispatch proceeds
		logger.Warn("driver at or over hours limit", slog.Int64("driver_id", req.DriverID))
		result.Warnings = append(result.Warnings, "driver is at or over the hours limit")
	}
	logger.Info("delivery assigned", slog.Int64("truck_id", req.TruckID), slog.Int64("driver_id", req.DriverID))
	s.publish(ctx, events.New(events.DeliveryAssigned, req.OrderID, result.Delivery.ID, now, map[string]any{
		"truck_id":  req.TruckID,
		"driver_id": req.DriverID,
		"eta":       result.Delivery.ETA,
	}))
	return result, nil
}

// ============================================================================
// INTERMEDIATE TRANSITIONS
// ============================================================================

// TransitionResult reports the delivery after a transition and whether it changed.
type TransitionResult struct {
	Delivery Delivery `json:"delivery"`
	Changed  bool     `json:"changed"`
}

// MarkInTransit moves an assigned delivery to in_transit. Calling it on a
// delivery that already left assigned succeeds without changes.
func (s *Service) MarkInTransit(ctx context.Context, deliveryID int64) (result TransitionResult, err error) {
	defer s.observe(OpMarkInTransit, time.Now(), &err)
	now := s.cfg.Now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.LockDelivery(ctx, deliveryID)
		if err != nil {
			return err
		}
		result.Delivery = d
		if d.Status != StatusAssigned {
			return nil
		}
		d.Status = StatusInTransit
		d.UpdatedAt = now
		if err := tx.UpdateDelivery(ctx, d); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, auditEntry(OpMarkInTransit, d, now, nil)); err != nil {
			return err
		}
		result = TransitionResult{Delivery: d, Changed: true}
		return nil
	})
	if err != nil {
		return TransitionResult{}, storeErr("mark in transit", err)
	}
	if !result.Changed {
		s.logger.Info("mark in transit ignored", slog.Int64("delivery_id", deliveryID), slog.String("status", string(result.Delivery.Status)))
		return result, nil
	}
	s.publish(ctx, events.New(events.DeliveryInTransit, result.Delivery.OrderID, deliveryID, now, nil))
	return result, nil
}

// RecordArrival moves an in_transit delivery to arrived and stamps the arrival
// time reported by the tracking integration. A zero at means now.
func (s *Service) RecordArrival(ctx context.Context, deliveryID int64, at time.Time) (result TransitionResult, err error) {
	defer s.observe(OpRecordArrival, time.Now(), &err)
	now := s.cfg.Now()
	if at.IsZero() {
		at = now
	}
	if at.After(now) {
		return TransitionResult{}, fmt.Errorf("%w: arrival time is in the future", ErrInvalidRequest)
	}
	result, err = s.advance(ctx, OpRecordArrival, deliveryID, StatusArrived, now, func(d *Delivery) {
		arrival := at.UTC()
		d.ActualArrival = &arrival
	})
	if err != nil {
		return TransitionResult{}, err
	}
	s.publish(ctx, events.New(events.DeliveryArrived, result.Delivery.OrderID, deliveryID, now, map[string]any{"arrived_at": at.UTC()}))
	return result, nil
}

// MarkDelivering moves an arrived delivery to delivering (unloading started).
func (s *Service) MarkDelivering(ctx context.Context, deliveryID int64) (result TransitionResult, err error) {
	defer s.observe(OpMarkDelivering, time.Now(), &err)
	now := s.cfg.Now()
	result, err = s.advance(ctx, OpMarkDelivering, deliveryID, StatusDelivering, now, nil)
	if err != nil {
		return TransitionResult{}, err
	}
	s.publish(ctx, events.New(events.DeliveryDelivering, result.Delivery.OrderID, deliveryID, now, nil))
	return result, nil
}

func (s *Service) advance(ctx context.Context, op string, deliveryID int64, next Status, now time.Time, mutate func(*Delivery)) (TransitionResult, error) {
	var result TransitionResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.LockDelivery(ctx, deliveryID)
		if err != nil {
			return err
		}
		if !d.Status.CanTransition(next) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, d.Status, next)
		}
		d.Status = next
		d.UpdatedAt = now
		if mutate != nil {
			mutate(&d)
		}
		if err := tx.UpdateDelivery(ctx, d); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, auditEntry(op, d, now, nil)); err != nil {
			return err
		}
		result = TransitionResult{Delivery: d, Changed: true}
		return nil
	})
	if err != nil {
		return TransitionResult{}, storeErr(op, err)
	}
	return result, nil
}

// ============================================================================
// CONFIRM DELIVERY
// ============================================================================

// ConfirmResult is the delivered delivery and the outcome of invoice issuance,
// which runs after the delivery commits.
type ConfirmResult struct {
	Delivery       Delivery           `json:"delivery"`
	Invoice        *invoicing.Invoice `json:"invoice,omitempty"`
	InvoiceCreated bool               `json:"invoice_created"`
	// InvoiceError is set when issuance failed; the backfill job retries it.
	InvoiceError error `json:"-"`
}

// ConfirmDelivery records proof of delivery. Signer fields, the signature image,
// the capture location and the order's certificate are checked in that order. On success the
// delivery carries the synthesized trail, the order is delivered and the truck
// and driver return to the pool; the invoice is issued afterwards.
func (s *Service) ConfirmDelivery(ctx context.Context, deliveryID int64, capture *signature.Builder) (result ConfirmResult, err error) {
	defer s.observe(OpConfirm, time.Now(), &err)
	if capture == nil {
		capture = signature.NewBuilder()
	}
	now := s.cfg.Now()
	sig, err := capture.Build(now)
	if err != nil {
		return ConfirmResult{}, err
	}

	var order Order
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.LockDelivery(ctx, deliveryID)
		if err != nil {
			return err
		}
		if !d.Status.CanConfirm() {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, d.Status, StatusDelivered)
		}
		order, err = tx.LockOrder(ctx, d.OrderID)
		if err != nil {
			return err
		}
		cert, err := tx.FindPassingCertificate(ctx, order.ID)
		if err != nil {
			return err
		}
		if cert == nil {
			return fmt.Errorf("%w (order %s)", ErrCertificateMissing, order.Number)
		}

		checkpoints, err := s.cfg.Trail.Synthesize(order.Route(), now)
		if err != nil {
			return err
		}
		track := trail.Track(checkpoints)
		if err := trail.Validate(checkpoints, track); err != nil {
			return err
		}

		d.WaitTimeMinutes = waitMinutes(d.ActualArrival, now)
		d.Status = StatusDelivered
		d.ActualArrival = &now
		d.Signature = &sig
		d.Checkpoints = checkpoints
		d.GPSTrack = track
		d.UpdatedAt = now
		if err := tx.UpdateDelivery(ctx, d); err != nil {
			return err
		}
		if err := tx.SetOrderStatus(ctx, order.ID, OrderDelivered); err != nil {
			return err
		}
		if err := tx.ReleaseTruck(ctx, d.TruckID, order.ID); err != nil {
			return err
		}
		if err := tx.ReleaseDriver(ctx, d.DriverID); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, auditEntry(OpConfirm, d, now, map[string]any{
			"signer":       sig.SignerName,
			"wait_minutes": d.WaitTimeMinutes,
			"checkpoints":  len(checkpoints),
		})); err != nil {
			return err
		}
		result.Delivery = d
		return nil
	})
	if err != nil {
		return ConfirmResult{}, storeErr("confirm delivery", err)
	}

	logger := s.logger.With(slog.Int64("delivery_id", deliveryID), slog.Int64("order_id", order.ID))
	logger.Info("delivery confirmed", slog.Int("wait_minutes", result.Delivery.WaitTimeMinutes))
	s.publish(ctx, events.New(events.DeliveryDelivered, order.ID, deliveryID, now, map[string]any{
		"signer":       sig.SignerName,
		"wait_minutes": result.Delivery.WaitTimeMinutes,
	}))

	s.issueInvoice(ctx, logger, order, &result)

	if s.reports != nil {
		if err := s.reports.EnqueueReportRender(ctx, deliveryID); err != nil {
			logger.Warn("enqueue report render", slog.Any("error", err))
		}
	}
	return result, nil
}

func (s *Service) issueInvoice(ctx context.Context, logger *slog.Logger, order Order, result *ConfirmResult) {
	if s.invoices == nil {
		return
	}
	res, err := s.invoices.Issue(ctx, invoicing.IssueRequest{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		MSAID:      order.MSAID,
		Subtotal:   order.TotalAmount,
	})
	if errors.Is(err, invoicing.ErrInvoiceExists) {
		// lost the race to a concurrent issuance for this order
		existing, findErr := s.invoices.FindByOrder(ctx, order.ID)
		if findErr == nil {
			result.Invoice = &existing
			return
		}
		err = findErr
	}
	if err != nil {
		logger.Error("issue invoice", slog.Any("error", err))
		result.InvoiceError = err
		return
	}
	result.Invoice = &res.Invoice
	result.InvoiceCreated = res.Created
	if res.Created {
		s.publish(ctx, events.New(events.InvoiceIssued, order.ID, result.Delivery.ID, s.cfg.Now(), map[string]any{
			"invoice_id": res.Invoice.ID,
			"number":     res.Invoice.Number,
			"total":      res.Invoice.Total.StringFixed(2),
			"due_date":   res.Invoice.DueDate.Format(time.DateOnly),
		}))
	}
}

// ============================================================================
// QUERIES
// ============================================================================

// ListOrders returns orders in the given status, or all when empty.
func (s *Service) ListOrders(ctx context.Context, status OrderStatus) ([]Order, error) {
	if status != "" && !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown order status %q", ErrInvalidRequest, status)
	}
	out, err := s.repo.ListOrders(ctx, status)
	return out, storeErr("list orders", err)
}

// GetOrder returns one order.
func (s *Service) GetOrder(ctx context.Context, id int64) (Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	return o, storeErr("get order", err)
}

// ListDeliveries returns deliveries, newest first.
func (s *Service) ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown delivery status %q", ErrInvalidRequest, filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	out, err := s.repo.ListDeliveries(ctx, filter)
	return out, storeErr("list deliveries", err)
}

// GetDelivery returns one delivery.
func (s *Service) GetDelivery(ctx context.Context, id int64) (Delivery, error) {
	d, err := s.repo.GetDelivery(ctx, id)
	return d, storeErr("get delivery", err)
}

// Snapshot returns the delivery joined with its order, truck and driver.
func (s *Service) Snapshot(ctx context.Context, deliveryID int64) (Snapshot, error) {
	snap, err := s.repo.GetSnapshot(ctx, deliveryID)
	return snap, storeErr("load snapshot", err)
}

// HasPassingCertificate reports whether the order may be dispatched or delivered.
func (s *Service) HasPassingCertificate(ctx context.Context, orderID int64) (bool, error) {
	ok, err := s.repo.HasPassingCertificate(ctx, orderID)
	return ok, storeErr("check certificate", err)
}

// ============================================================================
// HELPERS
// ============================================================================

// waitMinutes is the whole minutes between a previously recorded arrival and now.
func waitMinutes(arrival *time.Time, now time.Time) int {
	if arrival == nil {
		return 0
	}
	minutes := math.Round(now.Sub(*arrival).Minutes())
	if minutes < 0 {
		return 0
	}
	return int(minutes)
}

func auditEntry(op string, d Delivery, at time.Time, meta map[string]any) shared.AuditLog {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["status"] = string(d.Status)
	return shared.AuditLog{
		Action:   "delivery." + op,
		Entity:   "delivery",
		EntityID: strconv.FormatInt(d.ID, 10),
		Meta:     meta,
		At:       at,
	}
}

// storeErr keeps taxonomy errors intact and reports anything else as a store failure.
func storeErr(op string, err error) error {
	if err == nil || shared.Classified(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, shared.ErrStoreUnavailable, err)
}

func (s *Service) publish(ctx context.Context, evt events.Event) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish lifecycle event", slog.String("type", evt.Type), slog.Any("error", err))
	}
}

func (s *Service) observe(op string, start time.Time, err *error) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveOperation(op, *err, time.Since(start))
}
