package handlers

import (
	"context"
	"errors"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/services"
	"github.com/hanko-field/orders/internal/shipping"
)

var errStubNotImplemented = errors.New("not implemented")

type stubOrderService struct {
	createFn      func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn         func(context.Context, string) (services.Order, error)
	getByNumberFn func(context.Context, string) (services.Order, error)
	listFn        func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	updateFn      func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error)
	cancelFn      func(context.Context, services.CancelOrderCommand) (services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) GetOrderByNumber(ctx context.Context, number string) (services.Order, error) {
	if s.getByNumberFn != nil {
		return s.getByNumberFn(ctx, number)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) UpdateOrderStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

type stubPaymentService struct {
	initiateFn  func(context.Context, services.InitiatePaymentCommand) (services.PaymentSession, error)
	reconcileFn func(context.Context, services.ReconcileCommand) (services.ReconcileResult, error)
	checkFn     func(context.Context, services.CheckPaymentStatusCommand) (services.ReconcileResult, error)
	eventFn     func(context.Context, []byte, string) (services.ReconcileResult, error)
	refundFn    func(context.Context, services.RefundCommand) (services.Order, error)
}

func (s *stubPaymentService) Initiate(ctx context.Context, cmd services.InitiatePaymentCommand) (services.PaymentSession, error) {
	if s.initiateFn != nil {
		return s.initiateFn(ctx, cmd)
	}
	return services.PaymentSession{}, errStubNotImplemented
}

func (s *stubPaymentService) Reconcile(ctx context.Context, cmd services.ReconcileCommand) (services.ReconcileResult, error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, cmd)
	}
	return services.ReconcileResult{}, errStubNotImplemented
}

func (s *stubPaymentService) CheckStatus(ctx context.Context, cmd services.CheckPaymentStatusCommand) (services.ReconcileResult, error) {
	if s.checkFn != nil {
		return s.checkFn(ctx, cmd)
	}
	return services.ReconcileResult{}, errStubNotImplemented
}

func (s *stubPaymentService) HandleGatewayEvent(ctx context.Context, payload []byte, signature string) (services.ReconcileResult, error) {
	if s.eventFn != nil {
		return s.eventFn(ctx, payload, signature)
	}
	return services.ReconcileResult{}, errStubNotImplemented
}

func (s *stubPaymentService) Refund(ctx context.Context, cmd services.RefundCommand) (services.Order, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

type stubFulfillmentService struct {
	dispatchFn func(context.Context, string, services.DispatchTrigger) (services.DispatchResult, error)
	retryFn    func(context.Context, services.ManualRetryCommand) (services.DispatchResult, error)
	sweepFn    func(context.Context) (services.SweepReport, error)
	webhookFn  func(context.Context, services.ShipmentWebhook) (services.Order, error)
	trackFn    func(context.Context, string) (shipping.TrackingResult, error)
}

func (s *stubFulfillmentService) Dispatch(ctx context.Context, orderID string, trigger services.DispatchTrigger) (services.DispatchResult, error) {
	if s.dispatchFn != nil {
		return s.dispatchFn(ctx, orderID, trigger)
	}
	return services.DispatchResult{}, errStubNotImplemented
}

func (s *stubFulfillmentService) ManualRetry(ctx context.Context, cmd services.ManualRetryCommand) (services.DispatchResult, error) {
	if s.retryFn != nil {
		return s.retryFn(ctx, cmd)
	}
	return services.DispatchResult{}, errStubNotImplemented
}

func (s *stubFulfillmentService) Sweep(ctx context.Context) (services.SweepReport, error) {
	if s.sweepFn != nil {
		return s.sweepFn(ctx)
	}
	return services.SweepReport{}, errStubNotImplemented
}

func (s *stubFulfillmentService) HandleWebhook(ctx context.Context, hook services.ShipmentWebhook) (services.Order, error) {
	if s.webhookFn != nil {
		return s.webhookFn(ctx, hook)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubFulfillmentService) Track(ctx context.Context, orderID string) (shipping.TrackingResult, error) {
	if s.trackFn != nil {
		return s.trackFn(ctx, orderID)
	}
	return shipping.TrackingResult{}, errStubNotImplemented
}

type stubCouponService struct {
	lookupFn  func(context.Context, string) (services.Coupon, error)
	previewFn func(context.Context, services.CouponPreviewCommand) (services.CouponPreview, error)
}

func (s *stubCouponService) Lookup(ctx context.Context, code string) (services.Coupon, error) {
	if s.lookupFn != nil {
		return s.lookupFn(ctx, code)
	}
	return services.Coupon{}, errStubNotImplemented
}

func (s *stubCouponService) Preview(ctx context.Context, cmd services.CouponPreviewCommand) (services.CouponPreview, error) {
	if s.previewFn != nil {
		return s.previewFn(ctx, cmd)
	}
	return services.CouponPreview{}, errStubNotImplemented
}

func sampleOrder() services.Order {
	created := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	return services.Order{
		ID:       "ord_1",
		Number:   "ORD-20260310-12345ABC",
		UserID:   "user-1",
		Status:   domain.OrderStatusPendingPayment,
		Customer: domain.Customer{Name: "Asha", Email: "asha@example.com"},
		ShippingAddress: domain.Address{
			Line1: "12 MG Road", City: "Bengaluru", PostalCode: "560001", Country: "IN",
		},
		ShippingMethod: domain.ShippingMethodSnapshot{ID: "std", Name: "Standard", Price: 5000},
		Items: []domain.OrderLineItem{{
			ProductID: "prod_1", Quantity: 2, UnitPrice: 10000, OriginalUnitPrice: 10000, LineTotal: 20000, Name: "Mug",
			Attributes: domain.Attributes{{Name: "color", Value: "blue"}},
		}},
		Pricing:   domain.OrderPricing{Currency: "inr", Subtotal: 20000, Tax: 3600, ShippingCost: 5000, Total: 28600},
		Payment:   domain.PaymentState{Status: domain.PaymentStatusPending},
		Shipment:  domain.ShipmentState{Status: domain.ShipmentStatusPending},
		Source:    domain.OrderSourceWeb,
		CreatedAt: created,
		UpdatedAt: created,
	}
}
