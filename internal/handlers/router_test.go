package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func serve(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	var body map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s %s: expected JSON body: %v", method, path, err)
		}
	}
	return rr, body
}

func TestRouterPlaceholdersAndProbes(t *testing.T) {
	router := NewRouter()

	cases := []struct {
		method, path string
		status       int
		code         string
	}{
		{http.MethodGet, "/healthz", http.StatusOK, ""},
		{http.MethodGet, "/api/v1/orders", http.StatusNotImplemented, "not_implemented"},
		{http.MethodPost, "/api/v1/admin/orders/ord_1:refund", http.StatusNotImplemented, "not_implemented"},
		{http.MethodPost, "/api/v1/coupons:preview", http.StatusNotImplemented, "not_implemented"},
		{http.MethodGet, "/does/not/exist", http.StatusNotFound, "route_not_found"},
		{http.MethodPost, "/healthz", http.StatusMethodNotAllowed, "method_not_allowed"},
	}
	for _, tc := range cases {
		rr, body := serve(t, router, tc.method, tc.path)
		if rr.Code != tc.status {
			t.Errorf("%s %s: expected %d, got %d", tc.method, tc.path, tc.status, rr.Code)
			continue
		}
		if tc.code != "" && body["error"] != tc.code {
			t.Errorf("%s %s: expected error %q, got %v", tc.method, tc.path, tc.code, body["error"])
		}
	}
}

func TestRouterMountsRegistrars(t *testing.T) {
	noContent := func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	}
	coupons := func(r chi.Router) {
		r.Post("/coupons:preview", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })
	}
	router := NewRouter(WithPaymentRoutes(noContent), WithInternalRoutes(noContent), WithCouponRoutes(coupons))

	for path, want := range map[string]int{
		"/api/v1/payments": http.StatusNoContent,
		"/api/v1/internal": http.StatusNoContent,
		"/api/v1/admin":    http.StatusNotImplemented,
	} {
		if rr, _ := serve(t, router, http.MethodGet, path); rr.Code != want {
			t.Errorf("%s: expected %d, got %d", path, want, rr.Code)
		}
	}
	if rr, _ := serve(t, router, http.MethodPost, "/api/v1/coupons:preview"); rr.Code != http.StatusAccepted {
		t.Errorf("expected coupon registrar to serve the preview verb, got %d", rr.Code)
	}
}

func TestRouterGroupMiddlewareStaysInGroup(t *testing.T) {
	tag := func(value string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Add("X-Group", value)
				next.ServeHTTP(w, r)
			})
		}
	}
	router := NewRouter(
		WithWebhookMiddlewares(tag("webhooks"), nil),
		WithInternalMiddlewares(tag("internal")),
		WithMiddlewares(tag("global")),
	)

	cases := map[string][]string{
		"/api/v1/webhooks/shipping": {"global", "webhooks"},
		"/api/v1/internal/sweep":    {"global", "internal"},
		"/api/v1/admin/orders":      {"global"},
	}
	for path, want := range cases {
		rr, _ := serve(t, router, http.MethodGet, path)
		got := rr.Header().Values("X-Group")
		if len(got) != len(want) {
			t.Errorf("%s: expected middlewares %v, got %v", path, want, got)
			continue
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s: expected middlewares %v, got %v", path, want, got)
			}
		}
	}
}
