package domain

// OrderStatus is the top-level lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPendingPayment   OrderStatus = "pending_payment"
	OrderStatusPaymentInitiated OrderStatus = "payment_initiated"
	OrderStatusSuccess          OrderStatus = "order_success"
	OrderStatusProcessing       OrderStatus = "processing"
	OrderStatusShipped          OrderStatus = "shipped"
	OrderStatusDelivered        OrderStatus = "delivered"
	OrderStatusCancelled        OrderStatus = "cancelled"
	OrderStatusRefunded         OrderStatus = "refunded"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPendingPayment: {
		OrderStatusPaymentInitiated,
		OrderStatusSuccess,
		OrderStatusCancelled,
	},
	OrderStatusPaymentInitiated: {
		OrderStatusPaymentInitiated,
		OrderStatusPendingPayment,
		OrderStatusSuccess,
		OrderStatusCancelled,
	},
	OrderStatusSuccess: {
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusRefunded,
	},
	OrderStatusProcessing: {
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusRefunded,
	},
	OrderStatusShipped: {
		OrderStatusDelivered,
		OrderStatusRefunded,
	},
	// delivered is terminal for fulfillment; a full refund is the only exit.
	OrderStatusDelivered: {
		OrderStatusRefunded,
	},
}

// Valid reports whether the status is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPendingPayment, OrderStatusPaymentInitiated, OrderStatusSuccess,
		OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered,
		OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further lifecycle progress is expected.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled || s == OrderStatusRefunded
}

// CanTransitionOrder reports whether the order may move from one status to another.
func CanTransitionOrder(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentStatus is the state of the embedded payment sub-document.
type PaymentStatus string

const (
	PaymentStatusPending              PaymentStatus = "pending"
	PaymentStatusInitiated            PaymentStatus = "initiated"
	PaymentStatusProcessing           PaymentStatus = "processing"
	PaymentStatusPendingVBV           PaymentStatus = "pending_vbv"
	PaymentStatusCharged              PaymentStatus = "charged"
	PaymentStatusAuthenticationFailed PaymentStatus = "authentication_failed"
	PaymentStatusAuthorizationFailed  PaymentStatus = "authorization_failed"
	PaymentStatusFailed               PaymentStatus = "failed"
	PaymentStatusPartiallyRefunded    PaymentStatus = "partially_refunded"
	PaymentStatusRefunded             PaymentStatus = "refunded"
)

// Failed reports whether the status ends a payment attempt unsuccessfully.
func (s PaymentStatus) Failed() bool {
	switch s {
	case PaymentStatusAuthenticationFailed, PaymentStatusAuthorizationFailed, PaymentStatusFailed:
		return true
	}
	return false
}

// PostCharge reports whether money has been captured for the order.
func (s PaymentStatus) PostCharge() bool {
	switch s {
	case PaymentStatusCharged, PaymentStatusPartiallyRefunded, PaymentStatusRefunded:
		return true
	}
	return false
}

// InFlight reports whether the gateway is still working on the attempt.
func (s PaymentStatus) InFlight() bool {
	switch s {
	case PaymentStatusInitiated, PaymentStatusProcessing, PaymentStatusPendingVBV:
		return true
	}
	return false
}

// CanTransitionPayment reports whether the payment sub-state may move between statuses.
// Same-status moves are handled by callers as idempotent no-ops and are not listed here.
func CanTransitionPayment(from, to PaymentStatus) bool {
	if from == to {
		return false
	}
	switch {
	case from == PaymentStatusPending:
		return to == PaymentStatusInitiated || to.InFlight() || to == PaymentStatusCharged || to.Failed()
	case from.InFlight():
		return to.InFlight() || to == PaymentStatusCharged || to.Failed()
	case from.Failed():
		// a new attempt, or a late success for the previous one
		return to.InFlight() || to == PaymentStatusCharged || to.Failed()
	case from == PaymentStatusCharged:
		return to == PaymentStatusPartiallyRefunded || to == PaymentStatusRefunded
	case from == PaymentStatusPartiallyRefunded:
		return to == PaymentStatusRefunded
	}
	return false
}

// DeriveOrderStatus returns the order status implied by a payment status change. It is
// invoked after every payment transition so that a charged payment never coexists with an
// order awaiting payment.
func DeriveOrderStatus(current OrderStatus, payment PaymentStatus) OrderStatus {
	awaiting := current == OrderStatusPendingPayment || current == OrderStatusPaymentInitiated
	switch {
	case payment == PaymentStatusCharged && awaiting:
		return OrderStatusSuccess
	case payment == PaymentStatusInitiated && current == OrderStatusPendingPayment:
		return OrderStatusPaymentInitiated
	case payment.Failed() && awaiting:
		return OrderStatusPendingPayment
	case payment == PaymentStatusRefunded && current != OrderStatusCancelled && current != OrderStatusRefunded:
		return OrderStatusRefunded
	}
	return current
}

// ShipmentStatus is the state of the embedded shipment sub-document.
type ShipmentStatus string

const (
	ShipmentStatusPending   ShipmentStatus = "pending"
	ShipmentStatusCreated   ShipmentStatus = "created"
	ShipmentStatusPickup    ShipmentStatus = "pickup"
	ShipmentStatusShipped   ShipmentStatus = "shipped"
	ShipmentStatusDelivered ShipmentStatus = "delivered"
	ShipmentStatusFailed    ShipmentStatus = "failed"
	ShipmentStatusCancelled ShipmentStatus = "cancelled"
)

// Dispatchable reports whether a create-shipment call may be attempted.
func (s ShipmentStatus) Dispatchable() bool {
	return s == "" || s == ShipmentStatusPending || s == ShipmentStatusFailed
}

// rank orders the forward shipment statuses so provider pushes never move a shipment back.
func (s ShipmentStatus) rank() int {
	switch s {
	case ShipmentStatusCreated:
		return 1
	case ShipmentStatusPickup:
		return 2
	case ShipmentStatusShipped:
		return 3
	case ShipmentStatusDelivered:
		return 4
	}
	return 0
}

// CanApplyShipmentPush reports whether a provider status push may overwrite the current
// shipment status. Repeated pushes of the same status are accepted so duplicates stay
// harmless.
func CanApplyShipmentPush(current, next ShipmentStatus) bool {
	switch {
	case current == next:
		return true
	case current == ShipmentStatusDelivered || current == ShipmentStatusCancelled:
		return false
	case next == ShipmentStatusCancelled:
		return true
	case current == ShipmentStatusFailed || current == ShipmentStatusPending || current == "":
		return next.rank() > 0
	}
	return next.rank() > current.rank()
}
