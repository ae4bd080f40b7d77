package fleet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarryline/quarryline/internal/platform/db"
)

// Repository provides PostgreSQL backed reads over the ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TruckColumns is the select list ScanTruck expects.
const TruckColumns = `id, license_plate, capacity_tons, truck_type, status, assigned_order_id, assigned_driver_id, updated_at`

// DriverColumns is the select list ScanDriver expects.
const DriverColumns = `id, name, available, hours_worked, hours_limit, updated_at`

// ScanTruck scans a row selected with the truck column list.
func ScanTruck(row pgx.Row) (Truck, error) {
	var t Truck
	err := row.Scan(&t.ID, &t.LicensePlate, &t.CapacityTons, &t.Type, &t.Status,
		&t.AssignedOrderID, &t.AssignedDriverID, &t.UpdatedAt)
	return t, err
}

// ScanDriver scans a row selected with the driver column list.
func ScanDriver(row pgx.Row) (Driver, error) {
	var d Driver
	err := row.Scan(&d.ID, &d.Name, &d.Available, &d.HoursWorked, &d.HoursLimit, &d.UpdatedAt)
	return d, err
}

// ListTrucks returns trucks filtered by status; empty status returns all.
func (r *Repository) ListTrucks(ctx context.Context, status TruckStatus) ([]Truck, error) {
	query := `SELECT ` + TruckColumns + ` FROM trucks WHERE ($1::text = '' OR status = $1::text) ORDER BY license_plate`
	rows, err := r.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, db.Classify(fmt.Errorf("list trucks: %w", err))
	}
	defer rows.Close()

	var trucks []Truck
	for rows.Next() {
		t, err := ScanTruck(rows)
		if err != nil {
			return nil, db.Classify(fmt.Errorf("scan truck: %w", err))
		}
		trucks = append(trucks, t)
	}
	return trucks, db.Classify(rows.Err())
}

// GetTruck fetches a single truck.
func (r *Repository) GetTruck(ctx context.Context, id int64) (Truck, error) {
	t, err := ScanTruck(r.pool.QueryRow(ctx, `SELECT `+TruckColumns+` FROM trucks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Truck{}, ErrTruckNotFound
	}
	if err != nil {
		return Truck{}, db.Classify(fmt.Errorf("get truck: %w", err))
	}
	return t, nil
}

// ListDrivers returns drivers, optionally only the available ones.
func (r *Repository) ListDrivers(ctx context.Context, availableOnly bool) ([]Driver, error) {
	query := `SELECT ` + DriverColumns + ` FROM drivers WHERE (NOT $1::boolean OR available) ORDER BY name`
	rows, err := r.pool.Query(ctx, query, availableOnly)
	if err != nil {
		return nil, db.Classify(fmt.Errorf("list drivers: %w", err))
	}
	defer rows.Close()

	var drivers []Driver
	for rows.Next() {
		d, err := ScanDriver(rows)
		if err != nil {
			return nil, db.Classify(fmt.Errorf("scan driver: %w", err))
		}
		drivers = append(drivers, d)
	}
	return drivers, db.Classify(rows.Err())
}

// GetDriver fetches a single driver.
func (r *Repository) GetDriver(ctx context.Context, id int64) (Driver, error) {
	d, err := ScanDriver(r.pool.QueryRow(ctx, `SELECT `+DriverColumns+` FROM drivers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Driver{}, ErrDriverNotFound
	}
	if err != nil {
		return Driver{}, db.Classify(fmt.Errorf("get driver: %w", err))
	}
	return d, nil
}
