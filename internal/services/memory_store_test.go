package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/repositories"
	"github.com/hanko-field/orders/internal/shipping"
)

type fakeRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e fakeRepoError) Error() string       { return e.msg }
func (e fakeRepoError) IsNotFound() bool    { return e.notFound }
func (e fakeRepoError) IsConflict() bool    { return e.conflict }
func (e fakeRepoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr(what string) error {
	return fakeRepoError{msg: what + " not found", notFound: true}
}

// memoryStore is an in-memory stand-in for Firestore. Transactions are serialised and
// rolled back on error.
type memoryStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	orders   map[string]domain.Order
	numbers  map[string]string
	products map[string]domain.Product
	coupons  map[string]domain.Coupon
	methods  map[string]domain.ShippingMethod
	tasks    map[string]domain.FulfillmentTask

	orderUpdates int
	stockWrites  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		orders:   map[string]domain.Order{},
		numbers:  map[string]string{},
		products: map[string]domain.Product{},
		coupons:  map[string]domain.Coupon{},
		methods:  map[string]domain.ShippingMethod{},
		tasks:    map[string]domain.FulfillmentTask{},
	}
}

func (m *memoryStore) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.snapshot()
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.restore(snapshot)
		m.mu.Unlock()
		return err
	}
	return nil
}

type storeSnapshot struct {
	orders   map[string]domain.Order
	numbers  map[string]string
	products map[string]domain.Product
	coupons  map[string]domain.Coupon
	tasks    map[string]domain.FulfillmentTask
}

func (m *memoryStore) snapshot() storeSnapshot {
	snap := storeSnapshot{
		orders:   make(map[string]domain.Order, len(m.orders)),
		numbers:  maps.Clone(m.numbers),
		products: make(map[string]domain.Product, len(m.products)),
		coupons:  maps.Clone(m.coupons),
		tasks:    maps.Clone(m.tasks),
	}
	for id, order := range m.orders {
		snap.orders[id] = cloneOrder(order)
	}
	for id, product := range m.products {
		snap.products[id] = cloneProduct(product)
	}
	return snap
}

func (m *memoryStore) restore(snap storeSnapshot) {
	m.orders = snap.orders
	m.numbers = snap.numbers
	m.products = snap.products
	m.coupons = snap.coupons
	m.tasks = snap.tasks
}

func (m *memoryStore) order(id string) domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneOrder(m.orders[id])
}

func (m *memoryStore) product(id string) domain.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneProduct(m.products[id])
}

func (m *memoryStore) coupon(code string) domain.Coupon {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coupons[code]
}

func (m *memoryStore) task(orderID string) (domain.FulfillmentTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[orderID]
	return task, ok
}

func (m *memoryStore) putOrder(order domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = cloneOrder(order)
	if order.Number != "" {
		m.numbers[order.Number] = order.ID
	}
}

func (m *memoryStore) putProduct(product domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[product.ID] = cloneProduct(product)
}

func (m *memoryStore) putTask(task domain.FulfillmentTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.OrderID] = task
}

func (m *memoryStore) deleteProduct(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.products, id)
}

func cloneOrder(order domain.Order) domain.Order {
	out := order
	out.Items = slices.Clone(order.Items)
	out.InventoryWarnings = slices.Clone(order.InventoryWarnings)
	out.Payment.Refunds = slices.Clone(order.Payment.Refunds)
	out.Shipment.Events = slices.Clone(order.Shipment.Events)
	if order.Coupon != nil {
		coupon := *order.Coupon
		out.Coupon = &coupon
	}
	return out
}

func cloneProduct(product domain.Product) domain.Product {
	out := product
	out.AttributeNames = slices.Clone(product.AttributeNames)
	out.Variations = slices.Clone(product.Variations)
	return out
}

// Orders ---------------------------------------------------------------------

type memoryOrders struct{ store *memoryStore }

func (r memoryOrders) Insert(_ context.Context, order domain.Order) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.numbers[order.Number]; ok {
		return fakeRepoError{msg: "number taken", conflict: true}
	}
	if _, ok := r.store.orders[order.ID]; ok {
		return fakeRepoError{msg: "order exists", conflict: true}
	}
	r.store.orders[order.ID] = cloneOrder(order)
	r.store.numbers[order.Number] = order.ID
	return nil
}

func (r memoryOrders) Update(_ context.Context, order domain.Order) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.orders[order.ID] = cloneOrder(order)
	r.store.orderUpdates++
	return nil
}

func (r memoryOrders) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	order, ok := r.store.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundErr("order " + orderID)
	}
	return cloneOrder(order), nil
}

func (r memoryOrders) FindByNumber(_ context.Context, number string) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, order := range r.store.orders {
		if order.Number == number {
			return cloneOrder(order), nil
		}
	}
	return domain.Order{}, notFoundErr("order " + number)
}

func (r memoryOrders) FindByShipmentRef(_ context.Context, ref repositories.ShipmentRef) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, order := range r.store.orders {
		switch {
		case ref.OrderNumber != "" && order.Number == ref.OrderNumber,
			ref.ShipmentID != "" && order.Shipment.ShipmentID == ref.ShipmentID,
			ref.TrackingCode != "" && order.Shipment.TrackingCode == ref.TrackingCode:
			return cloneOrder(order), nil
		}
	}
	return domain.Order{}, notFoundErr("shipment")
}

func (r memoryOrders) NumberTaken(_ context.Context, number string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, ok := r.store.numbers[number]
	return ok, nil
}

func (r memoryOrders) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var items []domain.Order
	for _, order := range r.store.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, string(order.Status)) {
			continue
		}
		if filter.PaymentStatus != "" && string(order.Payment.Status) != filter.PaymentStatus {
			continue
		}
		items = append(items, cloneOrder(order))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return domain.CursorPage[domain.Order]{Items: items}, nil
}

// Catalogue ------------------------------------------------------------------

type memoryProducts struct{ store *memoryStore }

func (r memoryProducts) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	product, ok := r.store.products[productID]
	if !ok {
		return domain.Product{}, notFoundErr("product " + productID)
	}
	return cloneProduct(product), nil
}

func (r memoryProducts) UpdateStock(_ context.Context, product domain.Product) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.products[product.ID]; !ok {
		return notFoundErr("product " + product.ID)
	}
	r.store.products[product.ID] = cloneProduct(product)
	r.store.stockWrites++
	return nil
}

type memoryCoupons struct{ store *memoryStore }

func (r memoryCoupons) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	coupon, ok := r.store.coupons[code]
	if !ok {
		return domain.Coupon{}, notFoundErr("coupon " + code)
	}
	return coupon, nil
}

func (r memoryCoupons) UpdateUsage(_ context.Context, code string, usedCount int, updatedAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	coupon, ok := r.store.coupons[code]
	if !ok {
		return notFoundErr("coupon " + code)
	}
	coupon.UsedCount = usedCount
	coupon.UpdatedAt = updatedAt
	r.store.coupons[code] = coupon
	return nil
}

type memoryShippingMethods struct{ store *memoryStore }

func (r memoryShippingMethods) FindByID(_ context.Context, methodID string) (domain.ShippingMethod, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	method, ok := r.store.methods[methodID]
	if !ok {
		return domain.ShippingMethod{}, notFoundErr("shipping method " + methodID)
	}
	return method, nil
}

type memoryTasks struct{ store *memoryStore }

func (r memoryTasks) Get(_ context.Context, orderID string) (domain.FulfillmentTask, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	task, ok := r.store.tasks[orderID]
	if !ok {
		return domain.FulfillmentTask{}, notFoundErr("task " + orderID)
	}
	return task, nil
}

func (r memoryTasks) Save(_ context.Context, task domain.FulfillmentTask) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.tasks[task.OrderID] = task
	return nil
}

func (r memoryTasks) ListDue(_ context.Context, now time.Time, limit int) ([]domain.FulfillmentTask, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var due []domain.FulfillmentTask
	for _, task := range r.store.tasks {
		if task.Due(now) {
			due = append(due, task)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Collaborators --------------------------------------------------------------

type recordingEvents struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (r *recordingEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Type)
	}
	return out
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, notification Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, notification)
	return nil
}

func (r *recordingNotifier) kinds() []NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NotificationKind, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

type stubGateway struct {
	mu            sync.Mutex
	createFn      func(payments.SessionRequest) (payments.Session, error)
	statusFn      func(payments.StatusRequest) (payments.StatusResult, error)
	refundFn      func(payments.RefundRequest) (payments.RefundResult, error)
	sessions      []payments.SessionRequest
	statusQueries []payments.StatusRequest
	refunds       []payments.RefundRequest
}

func (g *stubGateway) CreateSession(_ context.Context, req payments.SessionRequest) (payments.Session, error) {
	g.mu.Lock()
	g.sessions = append(g.sessions, req)
	g.mu.Unlock()
	if g.createFn != nil {
		return g.createFn(req)
	}
	return payments.Session{ID: "cs_test_1", Provider: payments.ProviderStripe, PaymentURL: "https://pay.example/cs_test_1"}, nil
}

func (g *stubGateway) GetStatus(_ context.Context, req payments.StatusRequest) (payments.StatusResult, error) {
	g.mu.Lock()
	g.statusQueries = append(g.statusQueries, req)
	g.mu.Unlock()
	if g.statusFn != nil {
		return g.statusFn(req)
	}
	return payments.StatusResult{VendorStatus: payments.VendorStatusPending}, nil
}

func (g *stubGateway) Refund(_ context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
	g.mu.Lock()
	g.refunds = append(g.refunds, req)
	g.mu.Unlock()
	if g.refundFn != nil {
		return g.refundFn(req)
	}
	return payments.RefundResult{ProviderRefundID: fmt.Sprintf("re_%d", len(g.refunds)), Status: domain.RefundStatusProcessing}, nil
}

type stubProvider struct {
	mu       sync.Mutex
	createFn func(shipping.ShipmentRequest) (shipping.ShipmentResult, error)
	trackFn  func(string) (shipping.TrackingResult, error)
	requests []shipping.ShipmentRequest
}

func (p *stubProvider) Authenticate(context.Context) (shipping.Token, error) {
	return shipping.Token{Value: "token"}, nil
}

func (p *stubProvider) CreateShipment(_ context.Context, req shipping.ShipmentRequest) (shipping.ShipmentResult, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.createFn != nil {
		return p.createFn(req)
	}
	return shipping.ShipmentResult{
		ProviderOrderID: "sr-1",
		ShipmentID:      "ship-1",
		TrackingCode:    "AWB123",
		CourierName:     "BlueDart",
		CourierID:       "12",
		Status:          "NEW",
	}, nil
}

func (p *stubProvider) TrackShipment(_ context.Context, code string) (shipping.TrackingResult, error) {
	if p.trackFn != nil {
		return p.trackFn(code)
	}
	return shipping.TrackingResult{TrackingCode: code, Status: domain.ShipmentStatusShipped}, nil
}

func (p *stubProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

type recordingDispatcher struct {
	mu     sync.Mutex
	orders []string
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, orderID string, trigger DispatchTrigger) (DispatchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orders = append(d.orders, orderID+":"+string(trigger))
	return DispatchResult{OrderID: orderID, Success: d.err == nil}, d.err
}

func (d *recordingDispatcher) calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.orders)
}

var errBoom = errors.New("boom")

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	_ repositories.OrderRepository           = memoryOrders{}
	_ repositories.ProductRepository         = memoryProducts{}
	_ repositories.CouponRepository          = memoryCoupons{}
	_ repositories.ShippingMethodRepository  = memoryShippingMethods{}
	_ repositories.FulfillmentTaskRepository = memoryTasks{}
	_ repositories.UnitOfWork                = (*memoryStore)(nil)
	_ payments.Gateway                       = (*stubGateway)(nil)
	_ shipping.Provider                      = (*stubProvider)(nil)
)
