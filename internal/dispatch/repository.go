package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarryline/quarryline/internal/dispatch/signature"
	"github.com/quarryline/quarryline/internal/fleet"
	"github.com/quarryline/quarryline/internal/platform/db"
)

const (
	orderColumns = `o.id, o.order_number, o.customer_id, c.name,
	o.quarry_name, o.quarry_lat, o.quarry_lng, o.well_site_name, o.well_site_lat, o.well_site_lng,
	o.total_amount, o.msa_id, o.status, o.created_at, o.updated_at`
	orderFrom = ` FROM orders o JOIN customers c ON c.id = o.customer_id`

	deliveryColumns = `id, order_id, truck_id, driver_id, status, eta, actual_arrival, wait_time_minutes,
	checkpoints, gps_track, signature, created_at, updated_at`
)

// Repository provides PostgreSQL backed persistence for orders and deliveries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn in a repeatable-read transaction. Rows touched by an operation
// are locked FOR UPDATE, so a concurrent writer fails with a serialization
// error that surfaces as a conflict.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Number, &o.CustomerID, &o.CustomerName,
		&o.Quarry.Name, &o.Quarry.Lat, &o.Quarry.Lng, &o.WellSite.Name, &o.WellSite.Lat, &o.WellSite.Lng,
		&o.TotalAmount, &o.MSAID, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func scanDelivery(row pgx.Row) (Delivery, error) {
	var (
		d                 Delivery
		cps, track, sigJS []byte
	)
	if err := row.Scan(&d.ID, &d.OrderID, &d.TruckID, &d.DriverID, &d.Status, &d.ETA, &d.ActualArrival,
		&d.WaitTimeMinutes, &cps, &track, &sigJS, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Delivery{}, err
	}
	if err := json.Unmarshal(cps, &d.Checkpoints); err != nil {
		return Delivery{}, fmt.Errorf("decode checkpoints: %w", err)
	}
	if err := json.Unmarshal(track, &d.GPSTrack); err != nil {
		return Delivery{}, fmt.Errorf("decode gps track: %w", err)
	}
	if len(sigJS) > 0 {
		var sig signature.Signature
		if err := json.Unmarshal(sigJS, &sig); err != nil {
			return Delivery{}, fmt.Errorf("decode signature: %w", err)
		}
		d.Signature = &sig
	}
	return d, nil
}

// ListOrders returns orders, optionally filtered by status.
func (r *Repository) ListOrders(ctx context.Context, status OrderStatus) ([]Order, error) {
	query := `SELECT ` + orderColumns + orderFrom + ` WHERE ($1::text = '' OR o.status = $1::text) ORDER BY o.created_at DESC, o.id DESC`
	rows, err := r.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, db.Classify(fmt.Errorf("list orders: %w", err))
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, db.Classify(fmt.Errorf("scan order: %w", err))
		}
		out = append(out, o)
	}
	return out, db.Classify(rows.Err())
}

// GetOrder fetches a single order.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+orderFrom+` WHERE o.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, db.Classify(fmt.Errorf("get order: %w", err))
	}
	return o, nil
}

// ListDeliveries returns deliveries newest first.
func (r *Repository) ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries
	WHERE ($1::text = '' OR status = $1::text) AND ($2::bigint = 0 OR order_id = $2::bigint)
	ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4`
	rows, err := r.pool.Query(ctx, query, string(filter.Status), filter.OrderID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, db.Classify(fmt.Errorf("list deliveries: %w", err))
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, db.Classify(fmt.Errorf("scan delivery: %w", err))
		}
		out = append(out, d)
	}
	return out, db.Classify(rows.Err())
}

// GetDelivery fetches a single delivery.
func (r *Repository) GetDelivery(ctx context.Context, id int64) (Delivery, error) {
	d, err := scanDelivery(r.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Delivery{}, ErrDeliveryNotFound
	}
	if err != nil {
		return Delivery{}, db.Classify(fmt.Errorf("get delivery: %w", err))
	}
	return d, nil
}

// GetSnapshot loads a delivery with its order, truck and driver in one
// read-only transaction so the parts are consistent.
func (r *Repository) GetSnapshot(ctx context.Context, deliveryID int64) (Snapshot, error) {
	var snap Snapshot
	err := db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		d, err := scanDelivery(tx.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, deliveryID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDeliveryNotFound
		}
		if err != nil {
			return fmt.Errorf("snapshot delivery: %w", err)
		}
		o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+orderFrom+` WHERE o.id = $1`, d.OrderID))
		if err != nil {
			return fmt.Errorf("snapshot order: %w", err)
		}
		t, err := fleet.ScanTruck(tx.QueryRow(ctx, `SELECT `+fleet.TruckColumns+` FROM trucks WHERE id = $1`, d.TruckID))
		if err != nil {
			return fmt.Errorf("snapshot truck: %w", err)
		}
		dr, err := fleet.ScanDriver(tx.QueryRow(ctx, `SELECT `+fleet.DriverColumns+` FROM drivers WHERE id = $1`, d.DriverID))
		if err != nil {
			return fmt.Errorf("snapshot driver: %w", err)
		}
		snap = Snapshot{Delivery: d, Order: o, Truck: t, Driver: dr}
		return nil
	})
	return snap, err
}

// HasPassingCertificate reports whether any passed certificate exists for the order.
func (r *Repository) HasPassingCertificate(ctx context.Context, orderID int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM certificates WHERE order_id = $1 AND status = $2)`,
		orderID, CertificatePassed).Scan(&ok)
	if err != nil {
		return false, db.Classify(fmt.Errorf("check certificate: %w", err))
	}
	return ok, nil
}
