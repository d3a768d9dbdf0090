package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/requestctx"
	"github.com/hanko-field/orders/internal/services"
	"github.com/hanko-field/orders/internal/shipping"
)

// writeServiceError translates service failures into the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	httpx.WriteError(ctx, w, serviceError(ctx, err))
}

func serviceError(ctx context.Context, err error) httpx.Error {
	var couponErr *services.CouponError
	if errors.As(err, &couponErr) {
		return httpx.NewError("coupon_invalid", couponErr.Message, http.StatusBadRequest).
			WithDetails(map[string]any{
				"coupon_code":   couponErr.Code,
				"coupon_reason": string(couponErr.Reason),
			})
	}
	var stockErr *services.StockError
	if errors.As(err, &stockErr) {
		details := map[string]any{
			"product_id": stockErr.ProductID,
			"available":  stockErr.Available,
			"requested":  stockErr.Requested,
		}
		if stockErr.VariationID != "" {
			details["variation_id"] = stockErr.VariationID
		}
		return httpx.NewError("insufficient_stock", stockErr.Error(), http.StatusConflict).WithDetails(details)
	}

	switch {
	case errors.Is(err, services.ErrPaymentGateway):
		return upstreamError(ctx, "payment_gateway", err)
	case errors.Is(err, services.ErrFulfillmentProvider):
		return upstreamError(ctx, "shipping_provider", err)
	case errors.Is(err, services.ErrOrderInvalidShippingMethod):
		return httpx.NewError("invalid_shipping_method", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrOrderProductUnavailable):
		return httpx.NewError("product_unavailable", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrOrderPriceMismatch):
		return httpx.NewError("price_mismatch", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrPaymentSignature):
		return httpx.NewError("invalid_signature", "webhook signature could not be verified", http.StatusBadRequest)
	case errors.Is(err, services.ErrRefundExceedsBalance):
		return httpx.NewError("refund_exceeds_balance", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrOrderInvalidInput):
		return httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrOrderNotFound):
		return httpx.NewError("order_not_found", "order not found", http.StatusNotFound)
	case errors.Is(err, services.ErrOrderNotCancellable):
		return httpx.NewError("order_not_cancellable", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrOrderInvalidState):
		return httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrOrderConflict):
		return httpx.NewError("order_conflict", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrPaymentAlreadyCharged):
		return httpx.NewError("payment_already_charged", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrPaymentNotInitiated):
		return httpx.NewError("payment_not_initiated", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrPaymentNotAllowed),
		errors.Is(err, services.ErrPaymentInvalidTransition):
		return httpx.NewError("payment_invalid_state", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrRefundNotAllowed):
		return httpx.NewError("refund_not_allowed", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrFulfillmentInProgress):
		return httpx.NewError("fulfillment_in_progress", err.Error(), http.StatusConflict).WithRetryable(true)
	case errors.Is(err, services.ErrFulfillmentNotEligible),
		errors.Is(err, services.ErrFulfillmentExhausted):
		return httpx.NewError("fulfillment_not_eligible", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrFulfillmentNoShipment):
		return httpx.NewError("shipment_not_created", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrOrderUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return httpx.NewError("service_unavailable", "service temporarily unavailable", http.StatusServiceUnavailable).WithRetryable(true)
	case errors.Is(err, services.ErrOrderNumberExhausted):
		requestctx.Logger(ctx).Error("order number allocation exhausted", zap.Error(err))
		return httpx.NewError("order_number_exhausted", "could not allocate an order number", http.StatusInternalServerError)
	default:
		requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
		return httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError)
	}
}

// upstreamError maps gateway and provider failures: transient ones become a retryable 503,
// the rest a 502 that is logged for operators.
func upstreamError(ctx context.Context, code string, err error) httpx.Error {
	retryable := false
	message := ""
	if gwErr, ok := payments.AsGatewayError(err); ok {
		retryable = gwErr.Retryable()
		message = gwErr.Message
	} else if providerErr, ok := shipping.AsProviderError(err); ok {
		retryable = providerErr.Retryable()
		message = providerErr.Message
	}
	if message == "" {
		message = err.Error()
	}
	if retryable {
		return httpx.NewError(code+"_unavailable", message, http.StatusServiceUnavailable).WithRetryable(true)
	}
	requestctx.Logger(ctx).Error("upstream call failed", zap.String("upstream", code), zap.Error(err))
	return httpx.NewError(code+"_error", message, http.StatusBadGateway)
}
