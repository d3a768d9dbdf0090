package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/orders/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "trace-1"})

	rr := httptest.NewRecorder()
	WriteError(ctx, rr, NewError("gateway_unavailable", "payment gateway\nunavailable", http.StatusServiceUnavailable).
		WithRetryable(true).
		WithDetails(map[string]any{"order_id": "ord_1"}))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "gateway_unavailable" || body["message"] != "payment gateway unavailable" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if body["retryable"] != true || body["request_id"] != "req-1" || body["trace_id"] != "trace-1" {
		t.Fatalf("expected retryable, request and trace ids, got %v", body)
	}
	if body["order_id"] != "ord_1" {
		t.Fatalf("expected details merged, got %v", body)
	}
}

func TestWriteErrorOmitsRetryableByDefault(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(context.Background(), rr, NewError("order_not_found", "order not found", 0))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected zero status to default to 500, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["retryable"]; ok {
		t.Fatalf("retryable must be omitted when false, got %v", body)
	}
}

func TestWriteErrorEnvelopeKeysWinOverDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(context.Background(), rr, NewError("coupon_invalid", "expired", http.StatusBadRequest).
		WithDetails(map[string]any{"error": "spoofed", "retryable": true, "coupon_code": "SPRING"}))

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "coupon_invalid" || body["coupon_code"] != "SPRING" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if _, ok := body["retryable"]; ok {
		t.Fatalf("details must not mark an error retryable, got %v", body)
	}
}

func TestCleanTruncatesOnRuneBoundary(t *testing.T) {
	if got := clean("  a\tb\r\nc ", 80); got != "a b c" {
		t.Fatalf("unexpected whitespace handling %q", got)
	}
	if got := clean("ééé", 3); got != "é" {
		t.Fatalf("expected truncation on a rune boundary, got %q", got)
	}
}
