package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/quarryline/quarryline/internal/fleet"
	"github.com/quarryline/quarryline/internal/platform/db"
	"github.com/quarryline/quarryline/internal/shared"
)

// Partial unique indexes allowing one active delivery per truck and per driver.
const (
	constraintActiveTruck  = "deliveries_active_truck_uniq"
	constraintActiveDriver = "deliveries_active_driver_uniq"
)

type txRepo struct {
	tx pgx.Tx
}

func (r *txRepo) LockOrder(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(r.tx.QueryRow(ctx, `SELECT `+orderColumns+orderFrom+` WHERE o.id = $1 FOR UPDATE OF o`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("lock order: %w", err)
	}
	return o, nil
}

func (r *txRepo) LockTruck(ctx context.Context, id int64) (fleet.Truck, error) {
	t, err := fleet.ScanTruck(r.tx.QueryRow(ctx, `SELECT `+fleet.TruckColumns+` FROM trucks WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return fleet.Truck{}, fleet.ErrTruckNotFound
	}
	if err != nil {
		return fleet.Truck{}, fmt.Errorf("lock truck: %w", err)
	}
	return t, nil
}

func (r *txRepo) LockDriver(ctx context.Context, id int64) (fleet.Driver, error) {
	d, err := fleet.ScanDriver(r.tx.QueryRow(ctx, `SELECT `+fleet.DriverColumns+` FROM drivers WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return fleet.Driver{}, fleet.ErrDriverNotFound
	}
	if err != nil {
		return fleet.Driver{}, fmt.Errorf("lock driver: %w", err)
	}
	return d, nil
}

func (r *txRepo) LockDelivery(ctx context.Context, id int64) (Delivery, error) {
	d, err := scanDelivery(r.tx.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Delivery{}, ErrDeliveryNotFound
	}
	if err != nil {
		return Delivery{}, fmt.Errorf("lock delivery: %w", err)
	}
	return d, nil
}

func (r *txRepo) FindPassingCertificate(ctx context.Context, orderID int64) (*Certificate, error) {
	var c Certificate
	err := r.tx.QueryRow(ctx, `SELECT id, order_id, status, qc_truck_id, tested_at FROM certificates
	WHERE order_id = $1 AND status = $2 ORDER BY tested_at DESC NULLS LAST, id DESC LIMIT 1 FOR UPDATE`,
		orderID, CertificatePassed).Scan(&c.ID, &c.OrderID, &c.Status, &c.QCTruckID, &c.TestedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	return &c, nil
}

func (r *txRepo) StampCertificateTruck(ctx context.Context, certificateID, truckID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE certificates SET qc_truck_id = $2 WHERE id = $1`, certificateID, truckID)
	if err != nil {
		return fmt.Errorf("stamp certificate: %w", err)
	}
	return nil
}

func (r *txRepo) CreateDelivery(ctx context.Context, d Delivery) (Delivery, error) {
	cps, track, sig, err := encodeTrail(d)
	if err != nil {
		return Delivery{}, err
	}
	err = r.tx.QueryRow(ctx, `INSERT INTO deliveries
	(order_id, truck_id, driver_id, status, eta, actual_arrival, wait_time_minutes, checkpoints, gps_track, signature, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	RETURNING id`,
		d.OrderID, d.TruckID, d.DriverID, d.Status, d.ETA, d.ActualArrival, d.WaitTimeMinutes, cps, track, sig, d.CreatedAt).Scan(&d.ID)
	switch {
	case db.IsUniqueViolation(err, constraintActiveTruck):
		return Delivery{}, fmt.Errorf("%w: truck already on an active delivery", ErrTruckUnavailable)
	case db.IsUniqueViolation(err, constraintActiveDriver):
		return Delivery{}, fmt.Errorf("%w: driver already on an active delivery", ErrDriverUnavailable)
	case err != nil:
		return Delivery{}, fmt.Errorf("insert delivery: %w", err)
	}
	return d, nil
}

func (r *txRepo) UpdateDelivery(ctx context.Context, d Delivery) error {
	cps, track, sig, err := encodeTrail(d)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `UPDATE deliveries SET status = $2, actual_arrival = $3, wait_time_minutes = $4,
	checkpoints = $5, gps_track = $6, signature = $7, updated_at = $8 WHERE id = $1`,
		d.ID, d.Status, d.ActualArrival, d.WaitTimeMinutes, cps, track, sig, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

func (r *txRepo) SetOrderStatus(ctx context.Context, orderID int64, status OrderStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`, orderID, status)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *txRepo) ClaimTruck(ctx context.Context, truckID, orderID, driverID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE trucks SET status = $2, assigned_order_id = $3, assigned_driver_id = $4, updated_at = NOW()
	WHERE id = $1 AND status = $5`, truckID, fleet.TruckAssigned, orderID, driverID, fleet.TruckAvailable)
	if err != nil {
		return fmt.Errorf("claim truck: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTruckUnavailable
	}
	return nil
}

func (r *txRepo) ClaimDriver(ctx context.Context, driverID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE drivers SET available = FALSE, updated_at = NOW() WHERE id = $1 AND available`, driverID)
	if err != nil {
		return fmt.Errorf("claim driver: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDriverUnavailable
	}
	return nil
}

// ReleaseTruck frees the truck only while it is still bound to orderID.
func (r *txRepo) ReleaseTruck(ctx context.Context, truckID, orderID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE trucks SET status = $3, assigned_order_id = NULL, assigned_driver_id = NULL, updated_at = NOW()
	WHERE id = $1 AND assigned_order_id = $2`, truckID, orderID, fleet.TruckAvailable)
	if err != nil {
		return fmt.Errorf("release truck: %w", err)
	}
	return nil
}

func (r *txRepo) ReleaseDriver(ctx context.Context, driverID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE drivers SET available = TRUE, updated_at = NOW() WHERE id = $1`, driverID)
	if err != nil {
		return fmt.Errorf("release driver: %w", err)
	}
	return nil
}

func (r *txRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return shared.WriteAudit(ctx, r.tx, log)
}

func encodeTrail(d Delivery) (cps, track, sig []byte, err error) {
	if cps, err = json.Marshal(orEmpty(d.Checkpoints)); err != nil {
		return nil, nil, nil, fmt.Errorf("encode checkpoints: %w", err)
	}
	if track, err = json.Marshal(orEmpty(d.GPSTrack)); err != nil {
		return nil, nil, nil, fmt.Errorf("encode gps track: %w", err)
	}
	if d.Signature != nil {
		if sig, err = json.Marshal(d.Signature); err != nil {
			return nil, nil, nil, fmt.Errorf("encode signature: %w", err)
		}
	}
	return cps, track, sig, nil
}

// orEmpty keeps JSONB arrays from being stored as null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
