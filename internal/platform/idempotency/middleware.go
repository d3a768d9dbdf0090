package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/httpx"
)

const (
	defaultHeader = "Idempotency-Key"
	replayHeader  = "Idempotent-Replayed"
	maxKeyLength  = 255
	maxBodyBytes  = 1 << 20
)

type options struct {
	header   string
	ttl      time.Duration
	required bool
	clock    func() time.Time
	logger   *zap.Logger
}

// Option customises Middleware.
type Option func(*options)

// WithHeader overrides the request header carrying the key.
func WithHeader(name string) Option {
	return func(o *options) {
		if name = strings.TrimSpace(name); name != "" {
			o.header = name
		}
	}
}

// WithTTL sets how long completed responses are replayed.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithRequiredKey rejects requests that carry no key.
func WithRequiredKey() Option {
	return func(o *options) {
		o.required = true
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger logs store failures.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Middleware replays the stored response when a client retries a request with the same key.
// Keys are scoped to the authenticated caller, so it must run after authentication. Responses
// with a 5xx status are not stored and the key is released for another attempt.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	o := options{header: defaultHeader, ttl: DefaultTTL, clock: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(o.header))
			if key == "" {
				if o.required {
					writeError(w, r, http.StatusBadRequest, "idempotency_key_required", o.header+" header is required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				writeError(w, r, http.StatusBadRequest, "invalid_idempotency_key", o.header+" must be at most 255 characters")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "invalid_body", "request body could not be read")
				return
			}
			if len(body) > maxBodyBytes {
				writeError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "request body is too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			scoped := requester(ctx) + "/" + key
			fingerprint := fingerprintOf(r, body)
			logger := o.logger.With(zap.String("idempotencyKey", key), zap.String("path", r.URL.Path))

			outcome, entry, err := store.Claim(ctx, scoped, fingerprint, o.clock().UTC(), o.ttl)
			switch {
			case errors.Is(err, ErrKeyReused):
				writeError(w, r, http.StatusUnprocessableEntity, "idempotency_key_reused", "idempotency key was already used for a different request")
				return
			case err != nil:
				logger.Error("idempotency claim failed", zap.Error(err))
				writeError(w, r, http.StatusServiceUnavailable, "idempotency_unavailable", "idempotency store unavailable")
				return
			}

			switch outcome {
			case Replay:
				replay(w, entry.Response)
				return
			case InFlight:
				writeError(w, r, http.StatusConflict, "idempotency_in_progress", "a request with this idempotency key is still being processed")
				return
			}

			rec := &recorder{header: make(http.Header)}
			next.ServeHTTP(rec, r)
			status := rec.statusCode()

			// A cancelled request context must not leave the key claimed.
			storeCtx := context.WithoutCancel(ctx)
			if status >= http.StatusInternalServerError {
				if err := store.Release(storeCtx, scoped); err != nil {
					logger.Warn("idempotency release failed", zap.Error(err))
				}
			} else {
				resp := StoredResponse{Status: status, Headers: rec.header, Body: rec.body.Bytes()}
				if err := store.Complete(storeCtx, scoped, fingerprint, resp, o.clock().UTC(), o.ttl); err != nil {
					logger.Error("idempotency completion failed", zap.Error(err))
					if err := store.Release(storeCtx, scoped); err != nil {
						logger.Warn("idempotency release failed", zap.Error(err))
					}
				}
			}
			rec.flush(w)
		})
	}
}

func requester(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		return "user:" + identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc.Subject != "" {
		return "service:" + svc.Subject
	}
	return "anonymous"
}

func fingerprintOf(r *http.Request, body []byte) string {
	h := sha256.New()
	io.WriteString(h, r.Method)
	h.Write([]byte{0})
	io.WriteString(h, r.URL.Path)
	h.Write([]byte{0})
	io.WriteString(h, r.URL.RawQuery)
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, resp StoredResponse) {
	for name, values := range resp.Headers {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeader, "true")
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status).WithRetryable(status == http.StatusConflict || status == http.StatusServiceUnavailable))
}

// recorder buffers the handler response until it has been stored.
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *recorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *recorder) flush(w http.ResponseWriter) {
	for name, values := range r.header {
		w.Header()[name] = values
	}
	w.WriteHeader(r.statusCode())
	_, _ = w.Write(r.body.Bytes())
}
