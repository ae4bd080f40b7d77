package fleet

import (
	"context"
)

// RepositoryPort defines data access methods for the ledger.
type RepositoryPort interface {
	ListTrucks(ctx context.Context, status TruckStatus) ([]Truck, error)
	GetTruck(ctx context.Context, id int64) (Truck, error)
	ListDrivers(ctx context.Context, availableOnly bool) ([]Driver, error)
	GetDriver(ctx context.Context, id int64) (Driver, error)
}

// Ledger answers availability questions over trucks and drivers.
type Ledger struct {
	repo RepositoryPort
}

// NewLedger builds a Ledger.
func NewLedger(repo RepositoryPort) *Ledger {
	return &Ledger{repo: repo}
}

// ListTrucks returns trucks with the given status, or all of them when status is empty.
func (l *Ledger) ListTrucks(ctx context.Context, status TruckStatus) ([]Truck, error) {
	if status != "" && !status.IsValid() {
		return nil, ErrInvalidStatus
	}
	return l.repo.ListTrucks(ctx, status)
}

// GetTruck returns a truck by id.
func (l *Ledger) GetTruck(ctx context.Context, id int64) (Truck, error) {
	return l.repo.GetTruck(ctx, id)
}

// ListDrivers returns drivers with their hours flag.
func (l *Ledger) ListDrivers(ctx context.Context, availableOnly bool) ([]DriverView, error) {
	drivers, err := l.repo.ListDrivers(ctx, availableOnly)
	if err != nil {
		return nil, err
	}
	out := make([]DriverView, 0, len(drivers))
	for _, d := range drivers {
		out = append(out, DriverView{Driver: d, OverHours: d.OverHours()})
	}
	return out, nil
}

// Availability counts the pool.
func (l *Ledger) Availability(ctx context.Context) (Availability, error) {
	trucks, err := l.repo.ListTrucks(ctx, "")
	if err != nil {
		return Availability{}, err
	}
	drivers, err := l.repo.ListDrivers(ctx, false)
	if err != nil {
		return Availability{}, err
	}
	var a Availability
	a.TrucksTotal = len(trucks)
	for _, t := range trucks {
		if t.Available() {
			a.TrucksAvailable++
		}
	}
	a.DriversTotal = len(drivers)
	for _, d := range drivers {
		if d.Available {
			a.DriversAvailable++
		}
		if d.OverHours() {
			a.DriversOverHours++
		}
	}
	return a, nil
}
