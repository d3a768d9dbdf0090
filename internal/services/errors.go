package services

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderMissingFields signals required checkout fields were absent.
	ErrOrderMissingFields = fmt.Errorf("%w: missing required fields", ErrOrderInvalidInput)
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderNotCancellable indicates the order progressed past the point of cancellation.
	ErrOrderNotCancellable = errors.New("order: not cancellable")
	// ErrOrderInvalidShippingMethod indicates the shipping method is unknown or inactive.
	ErrOrderInvalidShippingMethod = errors.New("order: invalid shipping method")
	// ErrOrderProductUnavailable indicates a product is missing, inactive or lacks the variation.
	ErrOrderProductUnavailable = errors.New("order: product unavailable")
	// ErrOrderInsufficientStock indicates a requested quantity exceeds current stock.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
	// ErrOrderPriceMismatch indicates client asserted prices disagree with the catalogue.
	ErrOrderPriceMismatch = errors.New("order: price mismatch")
	// ErrOrderNumberExhausted indicates no unique order number could be allocated.
	ErrOrderNumberExhausted = errors.New("order: order number allocation exhausted")
	// ErrOrderUnavailable indicates the backing store could not be reached.
	ErrOrderUnavailable = errors.New("order: repository unavailable")

	// ErrCouponInvalid is wrapped by every CouponError.
	ErrCouponInvalid = errors.New("coupon: invalid")

	// ErrPaymentNotAllowed indicates the order cannot start or continue a payment.
	ErrPaymentNotAllowed = errors.New("payment: not allowed for order state")
	// ErrPaymentAlreadyCharged indicates the order has already been paid.
	ErrPaymentAlreadyCharged = errors.New("payment: already charged")
	// ErrPaymentNotInitiated indicates there is no gateway session to reconcile against.
	ErrPaymentNotInitiated = errors.New("payment: not initiated")
	// ErrPaymentInvalidTransition indicates a gateway status that the payment state machine rejects.
	ErrPaymentInvalidTransition = errors.New("payment: invalid status transition")
	// ErrPaymentGateway wraps failures returned by the payment gateway.
	ErrPaymentGateway = errors.New("payment: gateway error")
	// ErrPaymentSignature indicates a webhook whose signature could not be verified.
	ErrPaymentSignature = errors.New("payment: invalid webhook signature")

	// ErrRefundNotAllowed indicates the payment is not in a refundable state.
	ErrRefundNotAllowed = errors.New("refund: not allowed for payment state")
	// ErrRefundExceedsBalance indicates the refund is larger than the remaining balance.
	ErrRefundExceedsBalance = errors.New("refund: amount exceeds refundable balance")

	// ErrFulfillmentNotEligible indicates the order cannot be shipped in its current state.
	ErrFulfillmentNotEligible = errors.New("fulfillment: order not eligible")
	// ErrFulfillmentInProgress indicates another dispatch holds the task lease.
	ErrFulfillmentInProgress = errors.New("fulfillment: dispatch in progress")
	// ErrFulfillmentExhausted indicates automatic retries reached the ceiling.
	ErrFulfillmentExhausted = errors.New("fulfillment: retries exhausted")
	// ErrFulfillmentNoShipment indicates the order has no provider shipment yet.
	ErrFulfillmentNoShipment = errors.New("fulfillment: shipment not created")
	// ErrFulfillmentProvider wraps failures returned by the shipping provider.
	ErrFulfillmentProvider = errors.New("fulfillment: provider error")
)

// CouponReason enumerates why a coupon was rejected.
type CouponReason string

const (
	CouponReasonNotFound       CouponReason = "not_found"
	CouponReasonNotYetActive   CouponReason = "not_yet_active"
	CouponReasonExpired        CouponReason = "expired"
	CouponReasonUsageExhausted CouponReason = "usage_exhausted"
	CouponReasonBelowMinimum   CouponReason = "below_minimum"
)

// CouponError describes a rejected coupon.
type CouponError struct {
	Code    string
	Reason  CouponReason
	Message string
}

func (e *CouponError) Error() string {
	if e == nil {
		return ErrCouponInvalid.Error()
	}
	return fmt.Sprintf("%s: %s (%s)", ErrCouponInvalid.Error(), e.Message, e.Reason)
}

func (e *CouponError) Unwrap() error {
	return ErrCouponInvalid
}

// StockError reports a cart line that asks for more units than are available.
type StockError struct {
	ProductID   string
	ProductName string
	VariationID string
	Requested   int
	Available   int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%s: %q has %d available, %d requested", ErrOrderInsufficientStock.Error(), e.ProductName, e.Available, e.Requested)
}

func (e *StockError) Unwrap() error {
	return ErrOrderInsufficientStock
}
