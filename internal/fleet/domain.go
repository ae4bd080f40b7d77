// Package fleet holds the resource availability ledger: trucks and drivers and
// whether each can take a new delivery. Only the dispatch engine mutates it.
package fleet

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quarryline/quarryline/internal/shared"
)

// TruckStatus is the ledger state of a truck.
type TruckStatus string

const (
	TruckAvailable TruckStatus = "available"
	TruckAssigned  TruckStatus = "assigned"
)

// IsValid checks if the status is known.
func (s TruckStatus) IsValid() bool {
	return s == TruckAvailable || s == TruckAssigned
}

var (
	ErrTruckNotFound  = fmt.Errorf("truck %w", shared.ErrNotFound)
	ErrDriverNotFound = fmt.Errorf("driver %w", shared.ErrNotFound)
	ErrInvalidStatus  = fmt.Errorf("%w: unknown truck status", shared.ErrValidationFailed)
)

// Truck is a hauling vehicle.
type Truck struct {
	ID               int64           `json:"id"`
	LicensePlate     string          `json:"license_plate"`
	CapacityTons     decimal.Decimal `json:"capacity_tons"`
	Type             string          `json:"type"`
	Status           TruckStatus     `json:"status"`
	AssignedOrderID  *int64          `json:"assigned_order_id,omitempty"`
	AssignedDriverID *int64          `json:"assigned_driver_id,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Available reports whether the truck can be claimed.
func (t Truck) Available() bool {
	return t.Status == TruckAvailable
}

// Driver is a licensed operator.
type Driver struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Available   bool            `json:"available"`
	HoursWorked decimal.Decimal `json:"hours_worked"`
	HoursLimit  decimal.Decimal `json:"hours_limit"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// OverHours reports whether the driver reached the hours limit. Informational only.
func (d Driver) OverHours() bool {
	return d.HoursLimit.IsPositive() && d.HoursWorked.GreaterThanOrEqual(d.HoursLimit)
}

// DriverView is the listing shape of a driver.
type DriverView struct {
	Driver
	OverHours bool `json:"over_hours"`
}

// Availability summarises the pool.
type Availability struct {
	TrucksTotal      int `json:"trucks_total"`
	TrucksAvailable  int `json:"trucks_available"`
	DriversTotal     int `json:"drivers_total"`
	DriversAvailable int `json:"drivers_available"`
	DriversOverHours int `json:"drivers_over_hours"`
}
