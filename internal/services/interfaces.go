package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
	"github.com/hanko-field/orders/internal/shipping"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderLineItem      = domain.OrderLineItem
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	ShipmentStatus     = domain.ShipmentStatus
	Address            = domain.Address
	Customer           = domain.Customer
	Coupon             = domain.Coupon
	Product            = domain.Product
	FulfillmentTask    = domain.FulfillmentTask
	SystemHealthReport = domain.SystemHealthReport
	OrderListFilter    = repositories.OrderListFilter
)

// OrderService turns carts into orders and manages their lifecycle outside of payment and
// fulfillment.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetOrderByNumber(ctx context.Context, number string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// CouponService exposes coupon lookups and discount previews.
type CouponService interface {
	Lookup(ctx context.Context, code string) (Coupon, error)
	Preview(ctx context.Context, cmd CouponPreviewCommand) (CouponPreview, error)
}

// PaymentService drives the gateway handshake and reconciles its outcome onto orders.
type PaymentService interface {
	Initiate(ctx context.Context, cmd InitiatePaymentCommand) (PaymentSession, error)
	Reconcile(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error)
	CheckStatus(ctx context.Context, cmd CheckPaymentStatusCommand) (ReconcileResult, error)
	HandleGatewayEvent(ctx context.Context, payload []byte, signature string) (ReconcileResult, error)
	Refund(ctx context.Context, cmd RefundCommand) (Order, error)
}

// FulfillmentDispatcher starts a shipment dispatch for a charged order.
type FulfillmentDispatcher interface {
	Dispatch(ctx context.Context, orderID string, trigger DispatchTrigger) (DispatchResult, error)
}

// FulfillmentService hands charged orders to the shipping provider and tracks them afterwards.
type FulfillmentService interface {
	FulfillmentDispatcher
	ManualRetry(ctx context.Context, cmd ManualRetryCommand) (DispatchResult, error)
	Sweep(ctx context.Context) (SweepReport, error)
	HandleWebhook(ctx context.Context, hook ShipmentWebhook) (Order, error)
	Track(ctx context.Context, orderID string) (shipping.TrackingResult, error)
}

// SystemService aggregates utility endpoints (health checks).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// ActorRole distinguishes customers from staff when authorising order mutations.
type ActorRole string

const (
	ActorRoleUser   ActorRole = "user"
	ActorRoleStaff  ActorRole = "staff"
	ActorRoleAdmin  ActorRole = "admin"
	ActorRoleSystem ActorRole = "system"
)

// Staff reports whether the role may act on orders it does not own.
func (r ActorRole) Staff() bool {
	return r == ActorRoleStaff || r == ActorRoleAdmin || r == ActorRoleSystem
}

// CreateOrderItem is one cart line submitted for checkout.
type CreateOrderItem struct {
	ProductID   string
	VariationID string
	Quantity    int
	UnitPrice   int64
}

// CreateOrderCommand carries the cart and the client asserted totals.
type CreateOrderCommand struct {
	UserID           string
	Customer         Customer
	ShippingAddress  Address
	BillingAddress   *Address
	ShippingMethodID string
	Items            []CreateOrderItem
	CouponCode       string
	Subtotal         int64
	Tax              int64
	Total            int64
	Notes            string
	Source           domain.OrderSource
}

// UpdateOrderStatusCommand is the staff status/tracking update.
type UpdateOrderStatusCommand struct {
	OrderID        string
	Status         OrderStatus
	TrackingNumber *string
	Carrier        *string
	ActorID        string
}

// CancelOrderCommand requests cancellation of an order before it is charged.
type CancelOrderCommand struct {
	OrderID   string
	Reason    string
	ActorID   string
	ActorRole ActorRole
}

// CouponPreviewCommand asks what a coupon would take off a cart.
type CouponPreviewCommand struct {
	Code         string
	Subtotal     int64
	ShippingCost int64
}

// CouponPreview is the outcome of applying a valid coupon to a cart.
type CouponPreview struct {
	Coupon         Coupon
	DiscountAmount int64
	NewTotal       int64
}

// InitiatePaymentCommand opens a hosted payment session for an order.
type InitiatePaymentCommand struct {
	OrderID   string
	ActorID   string
	ActorRole ActorRole
	ReturnURL string
	CancelURL string
}

// PaymentSession is what a client needs to redirect the customer to the gateway.
type PaymentSession struct {
	OrderID     string
	OrderNumber string
	SessionID   string
	PaymentURL  string
	Amount      int64
	Currency    string
	ExpiresAt   *time.Time
}

// ReconcileSource records whether a status came from a gateway push or a poll.
type ReconcileSource string

const (
	ReconcileSourcePush ReconcileSource = "push"
	ReconcileSourcePull ReconcileSource = "pull"
)

// ReconcileCommand applies a gateway status to an order. An empty VendorStatus polls the gateway.
type ReconcileCommand struct {
	OrderID       string
	OrderNumber   string
	SessionID     string
	VendorStatus  string
	TransactionID string
	Method        domain.PaymentMethod
	Amount        int64
	ErrorCode     string
	ErrorMessage  string
	Source        ReconcileSource
}

// ReconcileResult reports the payment state after reconciliation.
type ReconcileResult struct {
	Order         Order
	PaymentStatus PaymentStatus
	VendorStatus  string
	Changed       bool
	Ignored       bool
}

// CheckPaymentStatusCommand polls the gateway on behalf of a customer or staff member.
type CheckPaymentStatusCommand struct {
	OrderID   string
	ActorID   string
	ActorRole ActorRole
}

// RefundCommand refunds part or all of a charged order. A nil Amount refunds the remainder.
type RefundCommand struct {
	OrderID string
	Amount  *int64
	Reason  string
	ActorID string
}

// DispatchTrigger identifies what started a shipment dispatch.
type DispatchTrigger string

const (
	DispatchTriggerPayment DispatchTrigger = "payment"
	DispatchTriggerSweep   DispatchTrigger = "sweep"
	DispatchTriggerManual  DispatchTrigger = "manual"
)

// DispatchResult is the outcome of one dispatch attempt.
type DispatchResult struct {
	OrderID  string
	Success  bool
	Shipment domain.ShipmentState
	Error    string
}

// ManualRetryCommand is a staff request to dispatch a failed shipment again.
type ManualRetryCommand struct {
	OrderID string
	ActorID string
}

// SweepReport summarises one pass over the due fulfillment tasks.
type SweepReport struct {
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
}

// ShipmentWebhook is a status push from the shipping provider.
type ShipmentWebhook struct {
	OrderNumber  string
	ShipmentID   string
	TrackingCode string
	Status       string
	Reason       string
	CourierName  string
	Payload      map[string]any
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// NotificationKind selects the customer message template.
type NotificationKind string

const (
	NotificationOrderConfirmed  NotificationKind = "order_confirmed"
	NotificationOrderCancelled  NotificationKind = "order_cancelled"
	NotificationOrderShipped    NotificationKind = "order_shipped"
	NotificationOrderDelivered  NotificationKind = "order_delivered"
	NotificationRefundInitiated NotificationKind = "refund_initiated"
)

// Notification is a customer facing message about an order.
type Notification struct {
	Kind           NotificationKind
	OrderID        string
	OrderNumber    string
	UserID         string
	Email          string
	Name           string
	Amount         int64
	Currency       string
	Reason         string
	TrackingNumber string
	Carrier        string
	OccurredAt     time.Time
}

// Notifier delivers customer notifications. Failures are logged by callers and never
// affect the order.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// AsyncRunner runs work after the triggering request finished.
type AsyncRunner interface {
	Go(ctx context.Context, name string, fn func(ctx context.Context) error)
}
