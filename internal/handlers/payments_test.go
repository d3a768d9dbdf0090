package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/services"
)

func newPaymentRouter(pay services.PaymentService) chi.Router {
	handler := NewPaymentHandlers(pay, "https://shop.example/orders/order-success", "https://shop.example/orders/order-failed")
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)
	return router
}

func redirectTarget(t *testing.T, rec *httptest.ResponseRecorder) *url.URL {
	t.Helper()
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d: %s", rec.Code, rec.Body.String())
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	return loc
}

func TestPaymentHandlers_CallbackCharged(t *testing.T) {
	var captured services.CheckPaymentStatusCommand
	pay := &stubPaymentService{
		checkFn: func(_ context.Context, cmd services.CheckPaymentStatusCommand) (services.ReconcileResult, error) {
			captured = cmd
			return services.ReconcileResult{Order: sampleOrder(), PaymentStatus: domain.PaymentStatusCharged}, nil
		},
	}
	router := newPaymentRouter(pay)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payments/callback?order_id=ord_1", nil))

	loc := redirectTarget(t, rec)
	if loc.Path != "/orders/order-success" || loc.Query().Get("orderNumber") != "ORD-20260310-12345ABC" {
		t.Fatalf("unexpected redirect %s", loc)
	}
	if captured.OrderID != "ord_1" || captured.ActorRole != services.ActorRoleSystem {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestPaymentHandlers_CallbackFailureRedirects(t *testing.T) {
	pay := &stubPaymentService{
		checkFn: func(_ context.Context, cmd services.CheckPaymentStatusCommand) (services.ReconcileResult, error) {
			if cmd.OrderID == "missing" {
				return services.ReconcileResult{}, services.ErrOrderNotFound
			}
			if cmd.OrderID == "broken" {
				return services.ReconcileResult{}, fmt.Errorf("%w: timeout", services.ErrPaymentGateway)
			}
			return services.ReconcileResult{Order: sampleOrder(), PaymentStatus: domain.PaymentStatusAuthorizationFailed}, nil
		},
	}
	router := newPaymentRouter(pay)

	form := strings.NewReader(url.Values{"order_id": {"ord_1"}}.Encode())
	req := httptest.NewRequest(http.MethodPost, "/payments/callback", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	loc := redirectTarget(t, rec)
	if loc.Path != "/orders/order-failed" || loc.Query().Get("status") != "authorization_failed" {
		t.Fatalf("unexpected redirect %s", loc)
	}

	cases := map[string]string{
		"/payments/callback":                  "missing_order",
		"/payments/callback?order_id=missing": "order_not_found",
		"/payments/callback?order_id=broken":  "processing_error",
	}
	for target, code := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		loc := redirectTarget(t, rec)
		if loc.Path != "/orders/order-failed" || loc.Query().Get("error") != code {
			t.Fatalf("%s: unexpected redirect %s", target, loc)
		}
	}
}

func TestPaymentHandlers_StripeWebhook(t *testing.T) {
	var (
		gotPayload   string
		gotSignature string
	)
	pay := &stubPaymentService{
		eventFn: func(_ context.Context, payload []byte, signature string) (services.ReconcileResult, error) {
			gotPayload = string(payload)
			gotSignature = signature
			order := sampleOrder()
			return services.ReconcileResult{Order: order, PaymentStatus: domain.PaymentStatusCharged, Changed: true}, nil
		},
	}
	router := newPaymentRouter(pay)

	req := httptest.NewRequest(http.MethodPost, "/payments/stripe/webhook", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotPayload != `{"id":"evt_1"}` || gotSignature != "t=1,v1=abc" {
		t.Fatalf("unexpected forwarded payload %q / %q", gotPayload, gotSignature)
	}
	body := decodeBody(t, rec)
	if body["received"] != true || body["payment_status"] != "charged" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestPaymentHandlers_StripeWebhookRejections(t *testing.T) {
	pay := &stubPaymentService{
		eventFn: func(context.Context, []byte, string) (services.ReconcileResult, error) {
			return services.ReconcileResult{}, fmt.Errorf("%w: bad mac", services.ErrPaymentSignature)
		},
	}
	router := newPaymentRouter(pay)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/stripe/webhook", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without signature header, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/stripe/webhook", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || decodeBody(t, rec)["error"] != "invalid_signature" {
		t.Fatalf("expected invalid_signature, got %d %s", rec.Code, rec.Body.String())
	}

	pay.eventFn = func(context.Context, []byte, string) (services.ReconcileResult, error) {
		return services.ReconcileResult{Ignored: true}, nil
	}
	req = httptest.NewRequest(http.MethodPost, "/payments/stripe/webhook", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=ok")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["ignored"] != true {
		t.Fatalf("expected ignored acknowledgement, got %d %s", rec.Code, rec.Body.String())
	}

	pay.eventFn = func(context.Context, []byte, string) (services.ReconcileResult, error) {
		return services.ReconcileResult{}, errors.New("firestore down")
	}
	req = httptest.NewRequest(http.MethodPost, "/payments/stripe/webhook", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=ok")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so the gateway retries, got %d", rec.Code)
	}
}
