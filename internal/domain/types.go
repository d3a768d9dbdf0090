package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderSource identifies the surface an order was placed from.
type OrderSource string

const (
	OrderSourceWeb    OrderSource = "web"
	OrderSourceMobile OrderSource = "mobile"
	OrderSourceAdmin  OrderSource = "admin"
)

// Address represents postal address structures shared by customer and order layers.
type Address struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// Customer stores the contact snapshot used for payment sessions and notifications.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// Order is the aggregate root for a customer purchase. Payment and shipment progress are
// embedded sub-states with their own status machines.
type Order struct {
	ID                 string
	Number             string
	UserID             string
	Status             OrderStatus
	Customer           Customer
	ShippingAddress    Address
	BillingAddress     Address
	ShippingMethod     ShippingMethodSnapshot
	Items              []OrderLineItem
	Pricing            OrderPricing
	Coupon             *AppliedCoupon
	InventoryUpdated   bool
	InventoryUpdatedAt *time.Time
	InventoryWarnings  []string
	Payment            PaymentState
	Shipment           ShipmentState
	TrackingNumber     string
	Carrier            string
	Notes              string
	Source             OrderSource
	ConfirmationSentAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ShippedAt          *time.Time
	DeliveredAt        *time.Time
	CancelledAt        *time.Time
	CancelReason       string
	CancelledBy        string
}

// OrderLineItem is the immutable snapshot of a purchased product taken at order time.
type OrderLineItem struct {
	ProductID         string
	VariationID       string
	Quantity          int
	UnitPrice         int64
	OriginalUnitPrice int64
	LineTotal         int64
	Name              string
	Image             string
	SKU               string
	Attributes        Attributes
}

// ShippingMethodSnapshot copies the chosen shipping method onto the order.
type ShippingMethodSnapshot struct {
	ID            string
	Name          string
	Price         int64
	EstimatedDays string
}

// AppliedCoupon records the coupon resolved at creation. It never changes afterwards.
type AppliedCoupon struct {
	Code           string
	Type           CouponType
	Value          int64
	DiscountAmount int64
}

// PaymentState is the embedded payment sub-document of an order.
type PaymentState struct {
	Status        PaymentStatus
	Provider      string
	Method        PaymentMethod
	SessionID     string
	TransactionID string
	PaymentURL    string
	GatewayStatus string
	ErrorCode     string
	ErrorMessage  string
	AttemptCount  int
	LastAttemptAt *time.Time
	ChargedAt     *time.Time
	Refunds       []Refund
	TotalRefunded int64
}

// PaymentMethod enumerates the instruments reported by gateways.
type PaymentMethod string

const (
	PaymentMethodUnknown    PaymentMethod = ""
	PaymentMethodCard       PaymentMethod = "card"
	PaymentMethodNetbanking PaymentMethod = "netbanking"
	PaymentMethodUPI        PaymentMethod = "upi"
	PaymentMethodWallet     PaymentMethod = "wallet"
	PaymentMethodEMI        PaymentMethod = "emi"
)

// RefundStatus tracks the gateway side progress of a refund.
type RefundStatus string

const (
	RefundStatusInitiated  RefundStatus = "initiated"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusCompleted  RefundStatus = "completed"
	RefundStatusFailed     RefundStatus = "failed"
)

// Refund is one refund record appended to the payment sub-state.
type Refund struct {
	ID               string
	ProviderRefundID string
	Amount           int64
	Status           RefundStatus
	Reason           string
	InitiatedBy      string
	InitiatedAt      time.Time
}

// ShipmentState is the embedded shipment sub-document of an order.
type ShipmentState struct {
	Status          ShipmentStatus
	ProviderOrderID string
	ShipmentID      string
	TrackingCode    string
	CourierName     string
	CourierID       string
	LabelURL        string
	RetryCount      int
	LastAttemptAt   *time.Time
	LastError       *ShipmentError
	IsReturn        bool
	ReturnReason    string
	Events          []ShipmentEvent
}

// ShipmentError captures the structured failure of the last dispatch attempt.
type ShipmentError struct {
	Message    string
	HTTPStatus int
	Code       string
	OccurredAt time.Time
}

// ShipmentEvent is an append-only record of a provider status push.
type ShipmentEvent struct {
	Event      string
	Status     ShipmentStatus
	Payload    map[string]any
	ReceivedAt time.Time
}

// Product is the subset of catalogue data the order engine reads and mutates.
type Product struct {
	ID             string
	Name           string
	SKU            string
	Image          string
	Price          int64
	Stock          int
	SoldCount      int
	IsActive       bool
	Status         ProductStatus
	AttributeNames []string
	Variations     []Variation
	UpdatedAt      time.Time
}

// ProductStatus is the publication state of a product.
type ProductStatus string

const (
	ProductStatusDraft     ProductStatus = "draft"
	ProductStatusPublished ProductStatus = "published"
	ProductStatusArchived  ProductStatus = "archived"
)

// Purchasable reports whether new orders may include the product.
func (p Product) Purchasable() bool {
	if !p.IsActive {
		return false
	}
	return p.Status == "" || p.Status == ProductStatusPublished
}

// Variation returns the variation with the given id.
func (p Product) Variation(id string) (Variation, int, bool) {
	for i, v := range p.Variations {
		if v.ID == id {
			return v, i, true
		}
	}
	return Variation{}, -1, false
}

// Variation is a purchasable option of a product with its own stock and price.
type Variation struct {
	ID         string
	SKU        string
	Price      int64
	Stock      int
	Image      string
	Attributes Attributes
}

// CouponType enumerates the supported discount kinds.
type CouponType string

const (
	CouponTypePercentage   CouponType = "percentage"
	CouponTypeFixed        CouponType = "fixed"
	CouponTypeFreeShipping CouponType = "free_shipping"
)

// Coupon is an admin-managed discount code. Value is expressed in basis points for
// percentage coupons and in minor currency units for fixed coupons.
type Coupon struct {
	Code           string
	Type           CouponType
	Value          int64
	MaxDiscount    *int64
	MinOrderAmount int64
	MaxUses        *int
	UsedCount      int
	ValidFrom      *time.Time
	ValidUntil     *time.Time
	IsActive       bool
	Description    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ShippingMethod describes a selectable delivery option.
type ShippingMethod struct {
	ID            string
	Name          string
	Price         int64
	EstimatedDays string
	IsActive      bool
}

// FulfillmentTaskStatus describes the state of a row in the fulfillment retry table.
type FulfillmentTaskStatus string

const (
	FulfillmentTaskScheduled FulfillmentTaskStatus = "scheduled"
	FulfillmentTaskInFlight  FulfillmentTaskStatus = "in_flight"
	FulfillmentTaskDone      FulfillmentTaskStatus = "done"
	FulfillmentTaskExhausted FulfillmentTaskStatus = "exhausted"
	FulfillmentTaskCancelled FulfillmentTaskStatus = "cancelled"
)

// FulfillmentTask is the durable retry record for one order's shipment dispatch.
type FulfillmentTask struct {
	OrderID       string
	OrderNumber   string
	Attempt       int
	Status        FulfillmentTaskStatus
	NextAttemptAt time.Time
	LeaseUntil    *time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Due reports whether the sweep may pick the task up at the given instant.
func (t FulfillmentTask) Due(now time.Time) bool {
	switch t.Status {
	case FulfillmentTaskScheduled:
		return !t.NextAttemptAt.After(now)
	case FulfillmentTaskInFlight:
		return t.LeaseUntil == nil || !t.LeaseUntil.After(now)
	default:
		return false
	}
}
