package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orders/internal/services"
)

func TestInternalHandlers_Sweep(t *testing.T) {
	calls := 0
	svc := &stubFulfillmentService{
		sweepFn: func(context.Context) (services.SweepReport, error) {
			calls++
			return services.SweepReport{Processed: 3, Succeeded: 2, Failed: 1}, nil
		},
	}
	router := chi.NewRouter()
	router.Route("/internal", NewInternalHandlers(svc).Routes)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/fulfillment:sweep", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp sweepResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if calls != 1 || resp.Processed != 3 || resp.Succeeded != 2 || resp.Failed != 1 {
		t.Fatalf("unexpected response %+v (calls=%d)", resp, calls)
	}

	svc.sweepFn = func(context.Context) (services.SweepReport, error) {
		return services.SweepReport{}, services.ErrOrderUnavailable
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/fulfillment:sweep", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
