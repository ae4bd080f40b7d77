// Package dispatch implements the delivery lifecycle engine: assignment of a
// truck and driver to an order, transit, arrival, unloading and confirmed
// delivery with its proof-of-delivery evidence.
package dispatch

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quarryline/quarryline/internal/dispatch/signature"
	"github.com/quarryline/quarryline/internal/dispatch/trail"
	"github.com/quarryline/quarryline/internal/fleet"
)

// ============================================================================
// DELIVERY STATUS
// ============================================================================

// Status is the lifecycle state of a delivery.
type Status string

const (
	StatusAssigned   Status = "assigned"
	StatusInTransit  Status = "in_transit"
	StatusArrived    Status = "arrived"
	StatusDelivering Status = "delivering"
	StatusDelivered  Status = "delivered"
)

// transitions is the forward-only graph. Confirmation may skip the
// externally driven arrived and delivering states.
var transitions = map[Status][]Status{
	StatusAssigned:   {StatusInTransit},
	StatusInTransit:  {StatusArrived, StatusDelivered},
	StatusArrived:    {StatusDelivering, StatusDelivered},
	StatusDelivering: {StatusDelivered},
}

// IsValid checks if the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusAssigned, StatusInTransit, StatusArrived, StatusDelivering, StatusDelivered:
		return true
	default:
		return false
	}
}

// CanTransition reports whether next directly follows s.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CanConfirm checks if proof of delivery may be recorded.
func (s Status) CanConfirm() bool {
	return s.CanTransition(StatusDelivered)
}

// Active reports whether the delivery still holds its truck and driver.
func (s Status) Active() bool {
	return s != StatusDelivered
}

// ============================================================================
// ORDER
// ============================================================================

// OrderStatus is the commercial state of an order.
type OrderStatus string

const (
	OrderDraft      OrderStatus = "draft"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderReady      OrderStatus = "ready"
	OrderDispatched OrderStatus = "dispatched"
	OrderDelivered  OrderStatus = "delivered"
	OrderInvoiced   OrderStatus = "invoiced"
)

// IsValid checks if the status is known.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderDraft, OrderConfirmed, OrderReady, OrderDispatched, OrderDelivered, OrderInvoiced:
		return true
	default:
		return false
	}
}

// Dispatchable reports whether a truck may be assigned.
func (s OrderStatus) Dispatchable() bool {
	return s == OrderReady || s == OrderConfirmed
}

// Location is a named coordinate.
type Location struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// Order is a customer purchase of sand.
type Order struct {
	ID           int64           `json:"id"`
	Number       string          `json:"order_number"`
	CustomerID   int64           `json:"customer_id"`
	CustomerName string          `json:"customer_name"`
	Quarry       Location        `json:"quarry"`
	WellSite     Location        `json:"well_site"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	MSAID        *int64          `json:"msa_id,omitempty"`
	Status       OrderStatus     `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Route returns the haul endpoints.
func (o Order) Route() trail.Route {
	return trail.Route{
		OriginName:      o.Quarry.Name,
		Origin:          trail.Point{Lat: o.Quarry.Lat, Lng: o.Quarry.Lng},
		DestinationName: o.WellSite.Name,
		Destination:     trail.Point{Lat: o.WellSite.Lat, Lng: o.WellSite.Lng},
	}
}

// CertificatePassed is the only certificate status that gates dispatch.
const CertificatePassed = "passed"

// Certificate is a QC pass record created by the lab.
type Certificate struct {
	ID        int64      `json:"id"`
	OrderID   int64      `json:"order_id"`
	Status    string     `json:"status"`
	QCTruckID *int64     `json:"qc_truck_id,omitempty"`
	TestedAt  *time.Time `json:"tested_at,omitempty"`
}

// ============================================================================
// DELIVERY
// ============================================================================

// Delivery is a tracked shipment. Deliveries are never deleted.
type Delivery struct {
	ID              int64                `json:"id"`
	OrderID         int64                `json:"order_id"`
	TruckID         int64                `json:"truck_id"`
	DriverID        int64                `json:"driver_id"`
	Status          Status               `json:"status"`
	ETA             time.Time            `json:"eta"`
	ActualArrival   *time.Time           `json:"actual_arrival,omitempty"`
	WaitTimeMinutes int                  `json:"wait_time_minutes"`
	Checkpoints     []trail.Checkpoint   `json:"checkpoints"`
	GPSTrack        []trail.GPSPoint     `json:"gps_track"`
	Signature       *signature.Signature `json:"signature,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// Snapshot is a delivery joined with the records a report needs.
type Snapshot struct {
	Delivery Delivery     `json:"delivery"`
	Order    Order        `json:"order"`
	Truck    fleet.Truck  `json:"truck"`
	Driver   fleet.Driver `json:"driver"`
}

// DeliveryFilter narrows ListDeliveries.
type DeliveryFilter struct {
	Status  Status
	OrderID int64
	Limit   int
	Offset  int
}
