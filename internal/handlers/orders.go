package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/services"
)

const (
	defaultOrderPageSize   = 20
	maxOrderPageSize       = 100
	maxOrderCreateBodySize = 64 * 1024
	maxOrderCancelBodySize = 4 * 1024
)

type addressRequest struct {
	Name       string `json:"name" validate:"omitempty,max=120"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2" validate:"omitempty,max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"omitempty,max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,max=2"`
	Phone      string `json:"phone" validate:"omitempty,max=32"`
}

func (a addressRequest) toDomain() domain.Address {
	return domain.Address{
		Name:       strings.TrimSpace(a.Name),
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      strings.TrimSpace(a.Line2),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(a.Country)),
		Phone:      strings.TrimSpace(a.Phone),
	}
}

type createOrderRequest struct {
	Customer struct {
		Name  string `json:"name" validate:"required,max=120"`
		Email string `json:"email" validate:"required,email"`
		Phone string `json:"phone" validate:"omitempty,max=32"`
	} `json:"customer"`
	ShippingAddress  addressRequest           `json:"shipping_address"`
	BillingAddress   *addressRequest          `json:"billing_address" validate:"omitempty"`
	ShippingMethodID string                   `json:"shipping_method_id" validate:"required"`
	Items            []createOrderItemRequest `json:"items" validate:"required,min=1,max=50,dive"`
	CouponCode       string                   `json:"coupon_code" validate:"omitempty,max=64"`
	Subtotal         int64                    `json:"subtotal" validate:"gte=0"`
	Tax              int64                    `json:"tax" validate:"gte=0"`
	Total            int64                    `json:"total" validate:"gte=0"`
	Notes            string                   `json:"notes" validate:"omitempty,max=1000"`
	Source           string                   `json:"source" validate:"omitempty,oneof=web mobile"`
}

type createOrderItemRequest struct {
	ProductID   string `json:"product_id" validate:"required"`
	VariationID string `json:"variation_id"`
	Quantity    int    `json:"quantity" validate:"gt=0,lte=100"`
	UnitPrice   int64  `json:"unit_price" validate:"gte=0"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

type initiatePaymentRequest struct {
	ReturnURL string `json:"return_url" validate:"omitempty,http_url"`
	CancelURL string `json:"cancel_url" validate:"omitempty,http_url"`
}

type paymentSessionResponse struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	SessionID   string `json:"session_id"`
	PaymentURL  string `json:"payment_url"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

type paymentStatusResponse struct {
	OrderID       string `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	OrderStatus   string `json:"order_status"`
	PaymentStatus string `json:"payment_status"`
	VendorStatus  string `json:"vendor_status,omitempty"`
	Changed       bool   `json:"changed"`
}

// OrderHandlers exposes checkout and order endpoints for authenticated customers.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	payments    services.PaymentService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderIdempotency wraps order creation so retried submissions replay the first response.
// The middleware runs after authentication.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:    authn,
		orders:   orders,
		payments: payments,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	if h.idempotency != nil {
		r.With(h.idempotency).Post("/", h.createOrder)
	} else {
		r.Post("/", h.createOrder)
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}/payments:initiate", h.initiatePayment)
	r.Get("/{orderID}/payments:status", h.paymentStatus)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if herr := decodeRequest(r, maxOrderCreateBodySize, &req, false); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}

	cmd := services.CreateOrderCommand{
		UserID: identity.UID,
		Customer: domain.Customer{
			Name:  strings.TrimSpace(req.Customer.Name),
			Email: strings.TrimSpace(req.Customer.Email),
			Phone: strings.TrimSpace(req.Customer.Phone),
		},
		ShippingAddress:  req.ShippingAddress.toDomain(),
		ShippingMethodID: strings.TrimSpace(req.ShippingMethodID),
		Items:            make([]services.CreateOrderItem, 0, len(req.Items)),
		CouponCode:       strings.TrimSpace(req.CouponCode),
		Subtotal:         req.Subtotal,
		Tax:              req.Tax,
		Total:            req.Total,
		Notes:            strings.TrimSpace(req.Notes),
		Source:           domain.OrderSource(req.Source),
	}
	if cmd.Source == "" {
		cmd.Source = domain.OrderSourceWeb
	}
	if req.BillingAddress != nil {
		billing := req.BillingAddress.toDomain()
		cmd.BillingAddress = &billing
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.CreateOrderItem{
			ProductID:   strings.TrimSpace(item.ProductID),
			VariationID: strings.TrimSpace(item.VariationID),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+url.PathEscape(order.ID))
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	filter, herr := parseOrderListFilter(r.URL.Query())
	if herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	filter.UserID = strings.TrimSpace(identity.UID)
	filter.PaymentStatus = ""
	filter.ShipmentStatus = ""

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
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
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if order.UserID != identity.UID && !actorRole(identity).Staff() {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
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
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	if herr := decodeRequest(r, maxOrderCancelBodySize, &req, true); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID:   orderID,
		Reason:    strings.TrimSpace(req.Reason),
		ActorID:   identity.UID,
		ActorRole: services.ActorRoleUser,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) initiatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req initiatePaymentRequest
	if herr := decodeRequest(r, maxOrderCancelBodySize, &req, true); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}

	session, err := h.payments.Initiate(ctx, services.InitiatePaymentCommand{
		OrderID:   orderID,
		ActorID:   identity.UID,
		ActorRole: services.ActorRoleUser,
		ReturnURL: strings.TrimSpace(req.ReturnURL),
		CancelURL: strings.TrimSpace(req.CancelURL),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := paymentSessionResponse{
		OrderID:     session.OrderID,
		OrderNumber: session.OrderNumber,
		SessionID:   session.SessionID,
		PaymentURL:  session.PaymentURL,
		Amount:      session.Amount,
		Currency:    strings.ToUpper(session.Currency),
		ExpiresAt:   formatTime(pointerTime(session.ExpiresAt)),
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *OrderHandlers) paymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	result, err := h.payments.CheckStatus(ctx, services.CheckPaymentStatusCommand{
		OrderID:   orderID,
		ActorID:   identity.UID,
		ActorRole: services.ActorRoleUser,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPaymentStatusResponse(result))
}

func buildPaymentStatusResponse(result services.ReconcileResult) paymentStatusResponse {
	return paymentStatusResponse{
		OrderID:       result.Order.ID,
		OrderNumber:   result.Order.Number,
		OrderStatus:   string(result.Order.Status),
		PaymentStatus: string(result.PaymentStatus),
		VendorStatus:  result.VendorStatus,
		Changed:       result.Changed,
	}
}

func buildOrderListResponse(page domain.CursorPage[services.Order]) orderListResponse {
	resp := orderListResponse{
		Items:         make([]orderSummaryPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		resp.Items = append(resp.Items, buildOrderSummary(order))
	}
	return resp
}

// parseOrderListFilter reads the status, date range and paging query parameters shared by the
// customer and staff listings.
func parseOrderListFilter(query url.Values) (services.OrderListFilter, *httpx.Error) {
	var filter services.OrderListFilter

	statuses := parseFilterValues(query["status"])
	for _, status := range statuses {
		if !domain.OrderStatus(status).Valid() {
			e := httpx.NewError("invalid_request", "unknown order status "+strconv.Quote(status), http.StatusBadRequest)
			return filter, &e
		}
	}
	filter.Status = statuses
	filter.PaymentStatus = strings.ToLower(strings.TrimSpace(query.Get("payment_status")))
	filter.ShipmentStatus = strings.ToLower(strings.TrimSpace(query.Get("shipment_status")))

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			e := httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest)
			return filter, &e
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			e := httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest)
			return filter, &e
		}
		dateRange.To = &ts
	}
	if dateRange.From != nil && dateRange.To != nil && dateRange.To.Before(*dateRange.From) {
		e := httpx.NewError("invalid_request", "created_before must not precede created_after", http.StatusBadRequest)
		return filter, &e
	}
	filter.DateRange = dateRange

	page, err := pagination.Parse(query, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		e := httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest)
		return filter, &e
	}
	filter.Pagination = services.Pagination{
		PageSize:  page.PageSize,
		PageToken: page.PageToken,
	}
	return filter, nil
}
