package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/idempotency"
	"github.com/hanko-field/orders/internal/services"
)

func newOrderRouter(orders services.OrderService, pay services.PaymentService) chi.Router {
	handler := NewOrderHandlers(nil, orders, pay)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func asUser(req *http.Request, uid string, roles ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: roles}))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return body
}

const validCreateOrderBody = `{
	"customer": {"name": "Asha", "email": "asha@example.com"},
	"shipping_address": {"line1": "12 MG Road", "city": "Bengaluru", "postal_code": "560001", "country": "in"},
	"shipping_method_id": "std",
	"items": [{"product_id": "prod_1", "quantity": 2, "unit_price": 10000}],
	"coupon_code": " SAVE10 ",
	"subtotal": 20000,
	"tax": 3600,
	"total": 28600
}`

func TestOrderHandlers_CreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(svc, nil)

	req := asUser(httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(validCreateOrderBody)), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/api/v1/orders/ord_1" {
		t.Fatalf("unexpected location %q", loc)
	}
	if captured.UserID != "user-1" || captured.CouponCode != "SAVE10" || captured.Source != domain.OrderSourceWeb {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.ShippingAddress.Country != "IN" || captured.BillingAddress != nil {
		t.Fatalf("unexpected addresses %+v %+v", captured.ShippingAddress, captured.BillingAddress)
	}
	if len(captured.Items) != 1 || captured.Items[0].Quantity != 2 || captured.Items[0].UnitPrice != 10000 {
		t.Fatalf("unexpected items %+v", captured.Items)
	}

	var resp orderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Order.OrderNumber != "ORD-20260310-12345ABC" || resp.Order.Pricing.Currency != "INR" || resp.Order.Pricing.Total != 28600 {
		t.Fatalf("unexpected payload %+v", resp.Order)
	}
	if resp.Order.Items[0].Attributes["color"] != "blue" {
		t.Fatalf("expected attributes in payload, got %+v", resp.Order.Items[0])
	}
	if resp.Order.Cancellation != nil {
		t.Fatal("pending order must not carry cancellation data")
	}
}

func TestOrderHandlers_CreateOrderValidation(t *testing.T) {
	called := false
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			called = true
			return services.Order{}, nil
		},
	}
	router := newOrderRouter(svc, nil)

	body := `{"customer": {"name": "Asha", "email": "not-an-email"}, "shipping_address": {"line1": "x", "city": "y", "postal_code": "1", "country": "IN"}, "shipping_method_id": "std", "items": []}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(body)), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if called {
		t.Fatal("service must not be called for invalid input")
	}
	fields, ok := decodeBody(t, rec)["fields"].(map[string]any)
	if !ok {
		t.Fatalf("expected field errors, got %s", rec.Body.String())
	}
	if _, ok := fields["customer.email"]; !ok {
		t.Fatalf("expected customer.email error, got %v", fields)
	}
	if _, ok := fields["items"]; !ok {
		t.Fatalf("expected items error, got %v", fields)
	}

	req = asUser(httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(`{"unknown": true}`)), "user-1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown fields, got %d", rec.Code)
	}
}

func TestOrderHandlers_CreateOrderServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"coupon", &services.CouponError{Code: "SAVE10", Reason: services.CouponReasonExpired, Message: "coupon has expired"}, http.StatusBadRequest, "coupon_invalid"},
		{"stock", &services.StockError{ProductID: "prod_1", ProductName: "Mug", Requested: 2, Available: 1}, http.StatusConflict, "insufficient_stock"},
		{"price", fmt.Errorf("%w: subtotal 1 != 2", services.ErrOrderPriceMismatch), http.StatusConflict, "price_mismatch"},
		{"shipping", services.ErrOrderInvalidShippingMethod, http.StatusBadRequest, "invalid_shipping_method"},
		{"unavailable", services.ErrOrderUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			router := newOrderRouter(svc, nil)
			req := asUser(httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(validCreateOrderBody)), "user-1")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			if got := decodeBody(t, rec)["error"]; got != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, got)
			}
		})
	}
}

func TestOrderHandlers_RequiresIdentity(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, &stubPaymentService{})
	for _, target := range []string{"/orders/", "/orders/ord_1", "/orders/ord_1/payments:status"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", target, rec.Code)
		}
	}
}

func TestOrderHandlers_ListOrders(t *testing.T) {
	var captured services.OrderListFilter
	svc := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder()}, NextPageToken: "next"}, nil
		},
	}
	router := newOrderRouter(svc, nil)

	target := "/orders/?status=pending_payment,order_success&created_after=2026-03-01&page_size=500&payment_status=charged&page_token=abc"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, target, nil), "user-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.UserID != "user-1" || len(captured.Status) != 2 || captured.Pagination.PageSize != maxOrderPageSize {
		t.Fatalf("unexpected filter %+v", captured)
	}
	if captured.PaymentStatus != "" {
		t.Fatal("customer listing must not filter by payment status")
	}
	if captured.DateRange.From == nil || !captured.DateRange.From.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date range %+v", captured.DateRange)
	}
	if captured.Pagination.PageToken != "abc" {
		t.Fatalf("unexpected page token %q", captured.Pagination.PageToken)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ItemCount != 2 || resp.NextPageToken != "next" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOrderHandlers_ListOrdersRejectsBadFilters(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, nil)
	for _, query := range []string{"status=teleported", "created_after=yesterday", "page_size=ten", "created_after=2026-03-02&created_before=2026-03-01"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/orders/?"+query, nil), "user-1"))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rec.Code)
		}
	}
}

func TestOrderHandlers_GetOrderHidesOtherUsers(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(context.Context, string) (services.Order, error) {
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(svc, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil), "user-2"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's order, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil), "staff-1", auth.RoleStaff))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected staff to read any order, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil), "user-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected owner to read order, got %d", rec.Code)
	}
}

func TestOrderHandlers_CancelOrder(t *testing.T) {
	var captured services.CancelOrderCommand
	svc := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
			order.Status = domain.OrderStatusCancelled
			order.CancelReason = cmd.Reason
			order.CancelledBy = cmd.ActorID
			order.CancelledAt = &now
			return order, nil
		},
	}
	router := newOrderRouter(svc, nil)

	req := asUser(httptest.NewRequest(http.MethodPost, "/orders/ord_1:cancel", strings.NewReader(`{"reason":" changed my mind "}`)), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Reason != "changed my mind" || captured.ActorRole != services.ActorRoleUser {
		t.Fatalf("unexpected command %+v", captured)
	}
	var resp orderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Order.Cancellation == nil || resp.Order.Cancellation.Reason != "changed my mind" {
		t.Fatalf("expected cancellation data, got %+v", resp.Order.Cancellation)
	}

	svc.cancelFn = func(context.Context, services.CancelOrderCommand) (services.Order, error) {
		return services.Order{}, fmt.Errorf("%w: order already charged", services.ErrOrderNotCancellable)
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/orders/ord_1:cancel", nil), "user-1"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestOrderHandlers_InitiatePayment(t *testing.T) {
	expires := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	var captured services.InitiatePaymentCommand
	pay := &stubPaymentService{
		initiateFn: func(_ context.Context, cmd services.InitiatePaymentCommand) (services.PaymentSession, error) {
			captured = cmd
			return services.PaymentSession{
				OrderID:     "ord_1",
				OrderNumber: "ORD-20260310-12345ABC",
				SessionID:   "cs_test_1",
				PaymentURL:  "https://checkout.stripe.com/c/pay/cs_test_1",
				Amount:      28600,
				Currency:    "inr",
				ExpiresAt:   &expires,
			}, nil
		},
	}
	router := newOrderRouter(&stubOrderService{}, pay)

	body := `{"return_url":"https://shop.example/return"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/orders/ord_1/payments:initiate", strings.NewReader(body)), "user-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.ActorID != "user-1" || captured.ReturnURL != "https://shop.example/return" {
		t.Fatalf("unexpected command %+v", captured)
	}
	var resp paymentSessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PaymentURL == "" || resp.Currency != "INR" || resp.ExpiresAt != "2026-03-10T10:00:00Z" {
		t.Fatalf("unexpected session %+v", resp)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/orders/ord_1/payments:initiate", strings.NewReader(`{"return_url":"not a url"}`)), "user-1"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid return url, got %d", rec.Code)
	}
}

func TestOrderHandlers_InitiatePaymentGatewayFailures(t *testing.T) {
	transient := &payments.GatewayError{Op: "create_session", Kind: payments.ErrorKindTransient, Message: "timeout"}
	rejected := &payments.GatewayError{Op: "create_session", Kind: payments.ErrorKindRequest, Message: "amount too small"}
	cases := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{"transient", fmt.Errorf("%w: %w", services.ErrPaymentGateway, transient), http.StatusServiceUnavailable, "payment_gateway_unavailable", true},
		{"rejected", fmt.Errorf("%w: %w", services.ErrPaymentGateway, rejected), http.StatusBadGateway, "payment_gateway_error", false},
		{"charged", services.ErrPaymentAlreadyCharged, http.StatusConflict, "payment_already_charged", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pay := &stubPaymentService{
				initiateFn: func(context.Context, services.InitiatePaymentCommand) (services.PaymentSession, error) {
					return services.PaymentSession{}, tc.err
				},
			}
			router := newOrderRouter(&stubOrderService{}, pay)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/orders/ord_1/payments:initiate", nil), "user-1"))
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			body := decodeBody(t, rec)
			if body["error"] != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, body["error"])
			}
			if _, ok := body["retryable"]; ok != tc.retryable {
				t.Fatalf("unexpected retryable flag in %v", body)
			}
		})
	}
}

func TestOrderHandlers_PaymentStatus(t *testing.T) {
	var captured services.CheckPaymentStatusCommand
	pay := &stubPaymentService{
		checkFn: func(_ context.Context, cmd services.CheckPaymentStatusCommand) (services.ReconcileResult, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusSuccess
			return services.ReconcileResult{Order: order, PaymentStatus: domain.PaymentStatusCharged, VendorStatus: "paid", Changed: true}, nil
		},
	}
	router := newOrderRouter(&stubOrderService{}, pay)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/orders/ord_1/payments:status", nil), "user-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.ActorRole != services.ActorRoleUser {
		t.Fatalf("unexpected command %+v", captured)
	}
	var resp paymentStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PaymentStatus != "charged" || resp.OrderStatus != "order_success" || !resp.Changed {
		t.Fatalf("unexpected response %+v", resp)
	}

	pay.checkFn = func(context.Context, services.CheckPaymentStatusCommand) (services.ReconcileResult, error) {
		return services.ReconcileResult{}, errors.New("boom")
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/orders/ord_1/payments:status", nil), "user-1"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestOrderHandlers_ServiceUnavailable(t *testing.T) {
	router := newOrderRouter(nil, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/orders/", nil), "user-1"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestOrderHandlers_CreateOrderReplaysIdempotentRetry(t *testing.T) {
	creates := 0
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			creates++
			return sampleOrder(), nil
		},
	}
	handler := NewOrderHandlers(nil, svc, nil, WithOrderIdempotency(idempotency.Middleware(idempotency.NewMemoryStore())))
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	submit := func(body string) *httptest.ResponseRecorder {
		req := asUser(httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(body)), "user-1")
		req.Header.Set("Idempotency-Key", "checkout-7f3a")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	first := submit(validCreateOrderBody)
	second := submit(validCreateOrderBody)
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected both attempts to return 201, got %d and %d", first.Code, second.Code)
	}
	if creates != 1 {
		t.Fatalf("expected a single order creation, got %d", creates)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replayed body differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}

	changed := submit(strings.Replace(validCreateOrderBody, `"quantity": 2`, `"quantity": 3`, 1))
	if changed.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for reused key, got %d: %s", changed.Code, changed.Body.String())
	}
}
