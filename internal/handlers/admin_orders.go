package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/services"
)

const maxAdminOrderBodySize = 8 * 1024

type updateOrderStatusRequest struct {
	Status         string  `json:"status" validate:"required"`
	TrackingNumber *string `json:"tracking_number" validate:"omitempty,max=64"`
	Carrier        *string `json:"carrier" validate:"omitempty,max=64"`
}

type adminCancelOrderRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type refundOrderRequest struct {
	Amount *int64 `json:"amount" validate:"omitempty,gt=0"`
	Reason string `json:"reason" validate:"required,max=500"`
}

type dispatchResponse struct {
	OrderID  string               `json:"order_id"`
	Success  bool                 `json:"success"`
	Error    string               `json:"error,omitempty"`
	Shipment orderShipmentPayload `json:"shipment"`
}

type trackingResponse struct {
	OrderID      string                  `json:"order_id"`
	TrackingCode string                  `json:"tracking_code"`
	Status       string                  `json:"status,omitempty"`
	RawStatus    string                  `json:"raw_status,omitempty"`
	Courier      string                  `json:"courier,omitempty"`
	TrackURL     string                  `json:"track_url,omitempty"`
	ETD          string                  `json:"etd,omitempty"`
	Activities   []trackingActivityEntry `json:"activities,omitempty"`
}

type trackingActivityEntry struct {
	Date     string `json:"date,omitempty"`
	Status   string `json:"status,omitempty"`
	Activity string `json:"activity,omitempty"`
	Location string `json:"location,omitempty"`
}

type couponResponse struct {
	Code           string `json:"code"`
	Type           string `json:"type"`
	Value          int64  `json:"value"`
	MaxDiscount    *int64 `json:"max_discount,omitempty"`
	MinOrderAmount int64  `json:"min_order_amount"`
	MaxUses        *int   `json:"max_uses,omitempty"`
	UsedCount      int    `json:"used_count"`
	ValidFrom      string `json:"valid_from,omitempty"`
	ValidUntil     string `json:"valid_until,omitempty"`
	IsActive       bool   `json:"is_active"`
	Description    string `json:"description,omitempty"`
}

// AdminOrderHandlers exposes the staff console endpoints for order operations.
type AdminOrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	payments    services.PaymentService
	fulfillment services.FulfillmentService
	coupons     services.CouponService
}

// NewAdminOrderHandlers constructs staff order handlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentService, fulfillment services.FulfillmentService, coupons services.CouponService) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:       authn,
		orders:      orders,
		payments:    payments,
		fulfillment: fulfillment,
		coupons:     coupons,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Route("/orders", func(rt chi.Router) {
		rt.Get("/", h.listOrders)
		rt.Get("/{orderID}", h.getOrder)
		rt.Put("/{orderID}/status", h.updateStatus)
		rt.Post("/{orderID}:cancel", h.cancelOrder)
		rt.Post("/{orderID}:refund", h.refundOrder)
		rt.Post("/{orderID}/fulfillment:retry", h.retryFulfillment)
		rt.Get("/{orderID}/fulfillment:track", h.trackShipment)
	})
	r.Get("/coupons/{code}", h.getCoupon)
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := requireIdentity(w, r); !ok {
		return
	}
	filter, herr := parseOrderListFilter(r.URL.Query())
	if herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	filter.UserID = strings.TrimSpace(r.URL.Query().Get("user_id"))

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := requireIdentity(w, r); !ok {
		return
	}
	ref := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if ref == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, ref)
	if errors.Is(err, services.ErrOrderNotFound) {
		order, err = h.orders.GetOrderByNumber(ctx, ref)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))

	var req updateOrderStatusRequest
	if herr := decodeRequest(r, maxAdminOrderBodySize, &req, false); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateOrderStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID:        orderID,
		Status:         status,
		TrackingNumber: trimmedPointer(req.TrackingNumber),
		Carrier:        trimmedPointer(req.Carrier),
		ActorID:        identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req adminCancelOrderRequest
	if herr := decodeRequest(r, maxAdminOrderBodySize, &req, false); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID:   strings.TrimSpace(chi.URLParam(r, "orderID")),
		Reason:    strings.TrimSpace(req.Reason),
		ActorID:   identity.UID,
		ActorRole: actorRole(identity),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if !identity.HasRole(auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "refunds require the admin role", http.StatusForbidden))
		return
	}

	var req refundOrderRequest
	if herr := decodeRequest(r, maxAdminOrderBodySize, &req, false); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}

	order, err := h.payments.Refund(ctx, services.RefundCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		Amount:  req.Amount,
		Reason:  strings.TrimSpace(req.Reason),
		ActorID: identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) retryFulfillment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_service_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	result, err := h.fulfillment.ManualRetry(ctx, services.ManualRetryCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		ActorID: identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusAccepted
	}
	writeJSONResponse(w, status, dispatchResponse{
		OrderID:  result.OrderID,
		Success:  result.Success,
		Error:    result.Error,
		Shipment: buildShipmentPayload(result.Shipment),
	})
}

func (h *AdminOrderHandlers) trackShipment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_service_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := requireIdentity(w, r); !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))

	result, err := h.fulfillment.Track(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := trackingResponse{
		OrderID:      orderID,
		TrackingCode: result.TrackingCode,
		Status:       string(result.Status),
		RawStatus:    result.RawStatus,
		Courier:      result.CourierName,
		TrackURL:     result.TrackURL,
		ETD:          result.ETD,
	}
	for _, activity := range result.Activities {
		resp.Activities = append(resp.Activities, trackingActivityEntry{
			Date:     activity.Date,
			Status:   activity.Status,
			Activity: activity.Activity,
			Location: activity.Location,
		})
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminOrderHandlers) getCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := requireIdentity(w, r); !ok {
		return
	}

	coupon, err := h.coupons.Lookup(ctx, strings.TrimSpace(chi.URLParam(r, "code")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, couponResponse{
		Code:           coupon.Code,
		Type:           string(coupon.Type),
		Value:          coupon.Value,
		MaxDiscount:    coupon.MaxDiscount,
		MinOrderAmount: coupon.MinOrderAmount,
		MaxUses:        coupon.MaxUses,
		UsedCount:      coupon.UsedCount,
		ValidFrom:      formatTime(pointerTime(coupon.ValidFrom)),
		ValidUntil:     formatTime(pointerTime(coupon.ValidUntil)),
		IsActive:       coupon.IsActive,
		Description:    coupon.Description,
	})
}

func trimmedPointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}
