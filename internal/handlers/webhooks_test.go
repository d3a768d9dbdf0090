package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/services"
)

func TestParseShipmentWebhook(t *testing.T) {
	body := `{"order_id":"ORD-20260310-12345ABC","shipment_id":98765,"awb":"AWB123","current_status":"IN TRANSIT","courier_name":"Delhivery","data":{"reason":"n/a"}}`
	hook, err := parseShipmentWebhook([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if hook.OrderNumber != "ORD-20260310-12345ABC" || hook.ShipmentID != "98765" || hook.TrackingCode != "AWB123" {
		t.Fatalf("unexpected identifiers %+v", hook)
	}
	if hook.Status != "IN TRANSIT" || hook.CourierName != "Delhivery" || hook.Reason != "n/a" {
		t.Fatalf("unexpected fields %+v", hook)
	}
	if hook.Payload["awb"] != "AWB123" {
		t.Fatalf("expected raw payload retained, got %v", hook.Payload)
	}

	nested := `{"data":{"awb_code":"AWB9","status":"DELIVERED"}}`
	hook, err = parseShipmentWebhook([]byte(nested))
	if err != nil || hook.TrackingCode != "AWB9" || hook.Status != "DELIVERED" {
		t.Fatalf("expected nested fields, got %+v %v", hook, err)
	}

	if _, err := parseShipmentWebhook([]byte(`{"awb":"AWB1"}`)); err == nil {
		t.Fatal("expected error without status")
	}
	if _, err := parseShipmentWebhook([]byte(`[1,2]`)); err == nil {
		t.Fatal("expected error for non-object body")
	}
}

func TestWebhookHandlers_ShippingStatus(t *testing.T) {
	var captured services.ShipmentWebhook
	svc := &stubFulfillmentService{
		webhookFn: func(_ context.Context, hook services.ShipmentWebhook) (services.Order, error) {
			captured = hook
			order := sampleOrder()
			order.Status = domain.OrderStatusShipped
			order.Shipment.Status = domain.ShipmentStatusShipped
			return order, nil
		},
	}
	router := chi.NewRouter()
	router.Route("/webhooks", NewWebhookHandlers(svc).Routes)

	body := `{"order_id":"ORD-20260310-12345ABC","shipment_id":"ship-1","awb":"AWB123","status":"IN TRANSIT"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/shipping", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.ShipmentID != "ship-1" || captured.Status != "IN TRANSIT" {
		t.Fatalf("unexpected hook %+v", captured)
	}
	var resp shipmentWebhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Received || resp.OrderStatus != "shipped" || resp.ShipmentStatus != "shipped" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestWebhookHandlers_ShippingStatusErrors(t *testing.T) {
	svc := &stubFulfillmentService{
		webhookFn: func(context.Context, services.ShipmentWebhook) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	router := chi.NewRouter()
	router.Route("/webhooks", NewWebhookHandlers(svc, WithWebhookRateLimit(2, func() time.Time { return now })).Routes)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/shipping", strings.NewReader(`{"awb":"AWB1","status":"DELIVERED"}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown shipment, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/shipping", strings.NewReader(`not json`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid body, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/shipping", strings.NewReader(`{"status":"DELIVERED"}`)))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the burst is spent, got %d", rec.Code)
	}
}
