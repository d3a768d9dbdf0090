package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	Coupons() CouponRepository
	ShippingMethods() ShippingMethodRepository
	FulfillmentTasks() FulfillmentTaskRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary. Repositories
// called with the context handed to fn join the transaction; every read must happen before
// the first write.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists the order aggregate including its payment and shipment sub-states.
type OrderRepository interface {
	// Insert creates the order and its number reservation. A taken number yields a conflict.
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, number string) (domain.Order, error)
	// FindByShipmentRef looks up an order by provider shipment id or tracking code.
	FindByShipmentRef(ctx context.Context, ref ShipmentRef) (domain.Order, error)
	// NumberTaken reports whether an order number has already been reserved.
	NumberTaken(ctx context.Context, number string) (bool, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// ProductRepository reads catalogue products and writes their stock counters.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// UpdateStock writes stock, sold count and variation stock of the product.
	UpdateStock(ctx context.Context, product domain.Product) error
}

// CouponRepository reads coupons and maintains their usage counters.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	UpdateUsage(ctx context.Context, code string, usedCount int, updatedAt time.Time) error
}

// ShippingMethodRepository resolves shipping options selectable at checkout.
type ShippingMethodRepository interface {
	FindByID(ctx context.Context, methodID string) (domain.ShippingMethod, error)
}

// FulfillmentTaskRepository stores the durable shipment dispatch retry records.
type FulfillmentTaskRepository interface {
	Get(ctx context.Context, orderID string) (domain.FulfillmentTask, error)
	Save(ctx context.Context, task domain.FulfillmentTask) error
	// ListDue returns scheduled tasks whose next attempt is due and in-flight tasks whose
	// lease expired, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.FulfillmentTask, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

// OrderListFilter narrows order listings. Empty fields do not filter.
type OrderListFilter struct {
	UserID         string
	Status         []string
	PaymentStatus  string
	ShipmentStatus string
	DateRange      domain.RangeQuery[time.Time]
	Pagination     domain.Pagination
}

// ShipmentRef identifies a shipment by any of the references a provider pushes back.
type ShipmentRef struct {
	OrderNumber  string
	ShipmentID   string
	TrackingCode string
}
