package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hanko-field/orders/internal/platform/auth"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type countingHandler struct {
	calls  int
	status int
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.calls++
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/api/v1/orders/ord_1")
	w.WriteHeader(h.status)
	_, _ = w.Write([]byte(`{"id":"ord_1"}`))
}

func orderRequest(uid, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
	}
	return req
}

func newTestMiddleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	return Middleware(store, append([]Option{WithClock(func() time.Time { return testNow })}, opts...)...)
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	code, _ := payload["error"].(string)
	return code
}

func TestMiddlewareReplaysCompletedResponse(t *testing.T) {
	next := &countingHandler{status: http.StatusCreated}
	handler := newTestMiddleware(NewMemoryStore())(next)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, orderRequest("user-1", "k1", `{"items":[]}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, orderRequest("user-1", "k1", `{"items":[]}`))

	if next.calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", next.calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != `{"id":"ord_1"}` {
		t.Fatalf("unexpected replay %d %q", second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" || second.Header().Get("Location") == "" {
		t.Fatalf("expected replay headers, got %v", second.Header())
	}
	if first.Header().Get("Idempotent-Replayed") != "" {
		t.Fatal("original response must not be marked as replay")
	}
}

func TestMiddlewareScopesKeysPerCaller(t *testing.T) {
	next := &countingHandler{status: http.StatusCreated}
	handler := newTestMiddleware(NewMemoryStore())(next)

	handler.ServeHTTP(httptest.NewRecorder(), orderRequest("user-1", "k1", `{}`))
	handler.ServeHTTP(httptest.NewRecorder(), orderRequest("user-2", "k1", `{}`))
	if next.calls != 2 {
		t.Fatalf("expected separate executions per caller, got %d", next.calls)
	}
}

func TestMiddlewareRejectsReusedKey(t *testing.T) {
	handler := newTestMiddleware(NewMemoryStore())(&countingHandler{status: http.StatusCreated})
	handler.ServeHTTP(httptest.NewRecorder(), orderRequest("user-1", "k1", `{"a":1}`))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, orderRequest("user-1", "k1", `{"a":2}`))
	if rec.Code != http.StatusUnprocessableEntity || errorCode(t, rec) != "idempotency_key_reused" {
		t.Fatalf("expected 422 key reuse, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestMiddlewareReportsInFlight(t *testing.T) {
	store := NewMemoryStore()
	scoped := "user:user-1/k1"
	req := orderRequest("user-1", "k1", `{}`)
	if _, _, err := store.Claim(context.Background(), scoped, fingerprintOf(req, []byte(`{}`)), testNow, time.Hour); err != nil {
		t.Fatalf("claim: %v", err)
	}

	rec := httptest.NewRecorder()
	newTestMiddleware(store)(&countingHandler{status: http.StatusCreated}).ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "idempotency_in_progress" {
		t.Fatalf("expected 409 in progress, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestMiddlewareReleasesKeyOnServerError(t *testing.T) {
	next := &countingHandler{status: http.StatusServiceUnavailable}
	handler := newTestMiddleware(NewMemoryStore())(next)

	handler.ServeHTTP(httptest.NewRecorder(), orderRequest("user-1", "k1", `{}`))
	next.status = http.StatusCreated
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, orderRequest("user-1", "k1", `{}`))

	if next.calls != 2 || rec.Code != http.StatusCreated {
		t.Fatalf("expected retry after 5xx to execute, calls=%d code=%d", next.calls, rec.Code)
	}
}

func TestMiddlewareKeyOptionalUnlessRequired(t *testing.T) {
	next := &countingHandler{status: http.StatusCreated}
	newTestMiddleware(NewMemoryStore())(next).ServeHTTP(httptest.NewRecorder(), orderRequest("user-1", "", `{}`))
	if next.calls != 1 {
		t.Fatal("expected request without key to pass through")
	}

	rec := httptest.NewRecorder()
	newTestMiddleware(NewMemoryStore(), WithRequiredKey())(next).ServeHTTP(rec, orderRequest("user-1", "", `{}`))
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "idempotency_key_required" {
		t.Fatalf("expected 400 when key required, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	newTestMiddleware(NewMemoryStore())(next).ServeHTTP(rec, orderRequest("user-1", strings.Repeat("k", 256), `{}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized key, got %d", rec.Code)
	}
}

type failingStore struct{ Store }

func (failingStore) Claim(context.Context, string, string, time.Time, time.Duration) (Outcome, Entry, error) {
	return 0, Entry{}, errors.New("firestore unavailable")
}

func TestMiddlewareStoreFailure(t *testing.T) {
	next := &countingHandler{status: http.StatusCreated}
	rec := httptest.NewRecorder()
	newTestMiddleware(failingStore{})(next).ServeHTTP(rec, orderRequest("user-1", "k1", `{}`))
	if rec.Code != http.StatusServiceUnavailable || next.calls != 0 {
		t.Fatalf("expected 503 without executing handler, got %d calls=%d", rec.Code, next.calls)
	}
}

func TestMemoryStorePurge(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, _, _ = store.Claim(ctx, "a", "f", testNow, time.Minute)
	_, _, _ = store.Claim(ctx, "b", "f", testNow, time.Hour)

	removed, err := store.Purge(ctx, testNow.Add(10*time.Minute), 0)
	if err != nil || removed != 1 {
		t.Fatalf("expected one expired key removed, got %d %v", removed, err)
	}
	outcome, _, err := store.Claim(ctx, "a", "other", testNow.Add(10*time.Minute), time.Minute)
	if err != nil || outcome != Claimed {
		t.Fatalf("expected purged key to be claimable, got %v %v", outcome, err)
	}
}
