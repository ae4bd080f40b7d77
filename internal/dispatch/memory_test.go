package dispatch

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/quarryline/quarryline/internal/fleet"
	"github.com/quarryline/quarryline/internal/invoicing"
	"github.com/quarryline/quarryline/internal/shared"
)

// memoryStore backs both the engine and invoicing in tests. Transactions are
// serialised by the mutex and rolled back by restoring a copy of the maps.
type memoryStore struct {
	mu         sync.Mutex
	orders     map[int64]Order
	trucks     map[int64]fleet.Truck
	drivers    map[int64]fleet.Driver
	certs      map[int64]Certificate
	deliveries map[int64]Delivery
	invoices   map[int64]invoicing.Invoice
	terms      map[int64]*string
	audits     []shared.AuditLog
	nextID     int64

	// failUpdate makes UpdateDelivery fail with the given error.
	failUpdate error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		orders:     make(map[int64]Order),
		trucks:     make(map[int64]fleet.Truck),
		drivers:    make(map[int64]fleet.Driver),
		certs:      make(map[int64]Certificate),
		deliveries: make(map[int64]Delivery),
		invoices:   make(map[int64]invoicing.Invoice),
		terms:      make(map[int64]*string),
	}
}

type memoryState struct {
	orders     map[int64]Order
	trucks     map[int64]fleet.Truck
	drivers    map[int64]fleet.Driver
	certs      map[int64]Certificate
	deliveries map[int64]Delivery
	invoices   map[int64]invoicing.Invoice
	audits     int
	nextID     int64
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memoryStore) save() memoryState {
	return memoryState{
		orders:     cloneMap(m.orders),
		trucks:     cloneMap(m.trucks),
		drivers:    cloneMap(m.drivers),
		certs:      cloneMap(m.certs),
		deliveries: cloneMap(m.deliveries),
		invoices:   cloneMap(m.invoices),
		audits:     len(m.audits),
		nextID:     m.nextID,
	}
}

func (m *memoryStore) restore(s memoryState) {
	m.orders, m.trucks, m.drivers, m.certs = s.orders, s.trucks, s.drivers, s.certs
	m.deliveries, m.invoices = s.deliveries, s.invoices
	m.audits = m.audits[:s.audits]
	m.nextID = s.nextID
}

func (m *memoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// ----------------------------------------------------------------------------
// dispatch RepositoryPort
// ----------------------------------------------------------------------------

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := m.save()
	if err := fn(ctx, memoryTx{m}); err != nil {
		m.restore(saved)
		return err
	}
	return nil
}

func (m *memoryStore) ListOrders(ctx context.Context, status OrderStatus) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if status == "" || o.Status == status {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) GetOrder(ctx context.Context, id int64) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (m *memoryStore) ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Delivery
	for _, d := range m.deliveries {
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.OrderID != 0 && d.OrderID != filter.OrderID {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memoryStore) GetDelivery(ctx context.Context, id int64) (Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return Delivery{}, ErrDeliveryNotFound
	}
	return d, nil
}

func (m *memoryStore) GetSnapshot(ctx context.Context, deliveryID int64) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[deliveryID]
	if !ok {
		return Snapshot{}, ErrDeliveryNotFound
	}
	return Snapshot{Delivery: d, Order: m.orders[d.OrderID], Truck: m.trucks[d.TruckID], Driver: m.drivers[d.DriverID]}, nil
}

func (m *memoryStore) HasPassingCertificate(ctx context.Context, orderID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memoryTx{m}.passing(orderID) != nil, nil
}

type memoryTx struct {
	m *memoryStore
}

func (t memoryTx) passing(orderID int64) *Certificate {
	for _, c := range t.m.certs {
		if c.OrderID == orderID && c.Status == CertificatePassed {
			c := c
			return &c
		}
	}
	return nil
}

func (t memoryTx) LockOrder(ctx context.Context, id int64) (Order, error) {
	o, ok := t.m.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (t memoryTx) LockTruck(ctx context.Context, id int64) (fleet.Truck, error) {
	tr, ok := t.m.trucks[id]
	if !ok {
		return fleet.Truck{}, fleet.ErrTruckNotFound
	}
	return tr, nil
}

func (t memoryTx) LockDriver(ctx context.Context, id int64) (fleet.Driver, error) {
	d, ok := t.m.drivers[id]
	if !ok {
		return fleet.Driver{}, fleet.ErrDriverNotFound
	}
	return d, nil
}

func (t memoryTx) LockDelivery(ctx context.Context, id int64) (Delivery, error) {
	d, ok := t.m.deliveries[id]
	if !ok {
		return Delivery{}, ErrDeliveryNotFound
	}
	return d, nil
}

func (t memoryTx) FindPassingCertificate(ctx context.Context, orderID int64) (*Certificate, error) {
	return t.passing(orderID), nil
}

func (t memoryTx) StampCertificateTruck(ctx context.Context, certificateID, truckID int64) error {
	c := t.m.certs[certificateID]
	c.QCTruckID = &truckID
	t.m.certs[certificateID] = c
	return nil
}

func (t memoryTx) CreateDelivery(ctx context.Context, d Delivery) (Delivery, error) {
	for _, existing := range t.m.deliveries {
		if existing.Status.Active() && existing.TruckID == d.TruckID {
			return Delivery{}, ErrTruckUnavailable
		}
		if existing.Status.Active() && existing.DriverID == d.DriverID {
			return Delivery{}, ErrDriverUnavailable
		}
	}
	d.ID = t.m.id()
	t.m.deliveries[d.ID] = d
	return d, nil
}

func (t memoryTx) UpdateDelivery(ctx context.Context, d Delivery) error {
	if t.m.failUpdate != nil {
		return t.m.failUpdate
	}
	if _, ok := t.m.deliveries[d.ID]; !ok {
		return ErrDeliveryNotFound
	}
	t.m.deliveries[d.ID] = d
	return nil
}

func (t memoryTx) SetOrderStatus(ctx context.Context, orderID int64, status OrderStatus) error {
	o, ok := t.m.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = status
	t.m.orders[orderID] = o
	return nil
}

func (t memoryTx) ClaimTruck(ctx context.Context, truckID, orderID, driverID int64) error {
	tr := t.m.trucks[truckID]
	if !tr.Available() {
		return ErrTruckUnavailable
	}
	tr.Status = fleet.TruckAssigned
	tr.AssignedOrderID = &orderID
	tr.AssignedDriverID = &driverID
	t.m.trucks[truckID] = tr
	return nil
}

func (t memoryTx) ClaimDriver(ctx context.Context, driverID int64) error {
	d := t.m.drivers[driverID]
	if !d.Available {
		return ErrDriverUnavailable
	}
	d.Available = false
	t.m.drivers[driverID] = d
	return nil
}

func (t memoryTx) ReleaseTruck(ctx context.Context, truckID, orderID int64) error {
	tr := t.m.trucks[truckID]
	if tr.AssignedOrderID == nil || *tr.AssignedOrderID != orderID {
		return nil
	}
	tr.Status = fleet.TruckAvailable
	tr.AssignedOrderID, tr.AssignedDriverID = nil, nil
	t.m.trucks[truckID] = tr
	return nil
}

func (t memoryTx) ReleaseDriver(ctx context.Context, driverID int64) error {
	d := t.m.drivers[driverID]
	d.Available = true
	t.m.drivers[driverID] = d
	return nil
}

func (t memoryTx) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	t.m.audits = append(t.m.audits, log)
	return nil
}

// ----------------------------------------------------------------------------
// invoicing RepositoryPort over the same state
// ----------------------------------------------------------------------------

type memoryInvoices struct {
	m *memoryStore
}

func (r memoryInvoices) WithTx(ctx context.Context, fn func(context.Context, invoicing.TxRepository) error) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	saved := r.m.save()
	if err := fn(ctx, memoryInvoiceTx{r.m}); err != nil {
		r.m.restore(saved)
		return err
	}
	return nil
}

func (r memoryInvoices) FindByOrder(ctx context.Context, orderID int64) (invoicing.Invoice, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if inv := (memoryInvoiceTx{r.m}).byOrder(orderID); inv != nil {
		return *inv, nil
	}
	return invoicing.Invoice{}, invoicing.ErrInvoiceNotFound
}

func (r memoryInvoices) ListByStatus(ctx context.Context, status invoicing.PaymentStatus, p shared.Pagination) ([]invoicing.Invoice, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []invoicing.Invoice
	for _, inv := range r.m.invoices {
		if inv.PaymentStatus == status {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r memoryInvoices) UpdateAging(ctx context.Context, id int64, days int, status invoicing.PaymentStatus) error {
	return nil
}

func (r memoryInvoices) ListUninvoiced(ctx context.Context, limit int) ([]invoicing.IssueRequest, error) {
	return nil, nil
}

type memoryInvoiceTx struct {
	m *memoryStore
}

func (t memoryInvoiceTx) byOrder(orderID int64) *invoicing.Invoice {
	for _, inv := range t.m.invoices {
		if inv.OrderID == orderID {
			inv := inv
			return &inv
		}
	}
	return nil
}

func (t memoryInvoiceTx) LockYear(ctx context.Context, year int) error { return nil }

func (t memoryInvoiceTx) FindByOrder(ctx context.Context, orderID int64) (*invoicing.Invoice, error) {
	return t.byOrder(orderID), nil
}

func (t memoryInvoiceTx) CountForYear(ctx context.Context, year int) (int, error) {
	prefix := strings.TrimSuffix(invoicing.NumberPattern(year), "%")
	n := 0
	for _, inv := range t.m.invoices {
		if strings.HasPrefix(inv.Number, prefix) {
			n++
		}
	}
	return n, nil
}

func (t memoryInvoiceTx) PaymentTerms(ctx context.Context, msaID int64) (*string, error) {
	return t.m.terms[msaID], nil
}

func (t memoryInvoiceTx) Create(ctx context.Context, inv invoicing.Invoice) (invoicing.Invoice, error) {
	for _, existing := range t.m.invoices {
		if existing.OrderID == inv.OrderID {
			return invoicing.Invoice{}, invoicing.ErrInvoiceExists
		}
		if existing.Number == inv.Number {
			return invoicing.Invoice{}, invoicing.ErrNumberTaken
		}
	}
	inv.ID = t.m.id()
	t.m.invoices[inv.ID] = inv
	return inv, nil
}

func (t memoryInvoiceTx) MarkOrderInvoiced(ctx context.Context, orderID int64) error {
	o := t.m.orders[orderID]
	if o.Status != OrderDelivered {
		return invoicing.ErrOrderNotDelivered
	}
	o.Status = OrderInvoiced
	t.m.orders[orderID] = o
	return nil
}

func (t memoryInvoiceTx) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	t.m.audits = append(t.m.audits, log)
	return nil
}
