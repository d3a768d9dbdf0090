// Package httpx holds the JSON error envelope shared by handlers and middleware.
package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/orders/internal/platform/requestctx"
)

// Error is an API failure as rendered to clients. Details are merged into the top level of
// the JSON object; the envelope keys win on collision.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Retryable bool
	Details   map[string]any
}

// NewError builds an Error. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: clean(code, 80), Message: clean(message, 512), Status: status}
}

func (e Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// WithRequestID overrides the request id taken from the context.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = clean(id, 80)
	return e
}

// WithTraceID overrides the trace id taken from the context.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = clean(id, 64)
	return e
}

// WithRetryable tells clients the same request may succeed later.
func (e Error) WithRetryable(retryable bool) Error {
	e.Retryable = retryable
	return e
}

// WithDetails attaches extra fields.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) > 0 {
		e.Details = maps.Clone(details)
	}
	return e
}

// MarshalJSON renders the flat envelope.
func (e Error) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Details)+6)
	maps.Copy(out, e.Details)
	out["error"] = e.Code
	out["message"] = e.Message
	out["status"] = e.Status
	if e.RequestID != "" {
		out["request_id"] = e.RequestID
	}
	if e.TraceID != "" {
		out["trace_id"] = e.TraceID
	}
	if e.Retryable {
		out["retryable"] = true
	} else {
		delete(out, "retryable")
	}
	return json.Marshal(out)
}

// WriteError renders err, filling the request and trace ids from ctx when unset.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	if err.RequestID == "" {
		err.RequestID = clean(middleware.GetReqID(ctx), 80)
	}
	if err.TraceID == "" {
		err.TraceID = clean(requestctx.TraceID(ctx), 64)
	}

	body, marshalErr := json.Marshal(err)
	if marshalErr != nil {
		body = []byte(`{"error":"internal","message":"error could not be encoded","status":500}`)
		err.Status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	_, _ = w.Write(append(body, '\n'))
}

// clean collapses whitespace, control characters included, and truncates to limit bytes on
// a rune boundary.
func clean(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	if len(value) <= limit {
		return value
	}
	value = value[:limit]
	for !utf8.ValidString(value) {
		value = value[:len(value)-1]
	}
	return value
}
