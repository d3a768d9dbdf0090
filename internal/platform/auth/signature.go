package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"
	defaultClockSkew       = 5 * time.Minute
	defaultNonceTTL        = 5 * time.Minute
	maxSignedBodyBytes     = 1 << 20
)

// Reasons reported by SignatureError.
const (
	ReasonMissingHeaders   = "missing_headers"
	ReasonInvalidTimestamp = "invalid_timestamp"
	ReasonStaleTimestamp   = "stale_timestamp"
	ReasonBadSignature     = "bad_signature"
	ReasonReplayedNonce    = "replayed_nonce"
	ReasonUnknownSecret    = "unknown_secret"
)

// SignatureError describes why a signed request was rejected.
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string {
	return "signature rejected: " + e.Reason
}

func rejected(reason string) error {
	return &SignatureError{Reason: reason}
}

// SecretProvider resolves signing secrets by name.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SignedRequest is the material covered by a webhook signature.
type SignedRequest struct {
	Method    string
	Path      string
	Timestamp string
	Nonce     string
	Signature string
	Body      []byte
}

// CanonicalString is the newline-joined method, path, timestamp, nonce, and hex SHA-256 of the
// body. Senders sign it with HMAC-SHA256.
func (s SignedRequest) CanonicalString() string {
	sum := sha256.Sum256(s.Body)
	return strings.Join([]string{
		strings.ToUpper(s.Method),
		s.Path,
		s.Timestamp,
		s.Nonce,
		hex.EncodeToString(sum[:]),
	}, "\n")
}

// Sign computes the base64 HMAC-SHA256 of the canonical string.
func Sign(secret string, req SignedRequest) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(req.CanonicalString()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignatureVerifier authenticates webhook deliveries signed with a shared secret.
type SignatureVerifier struct {
	secrets         SecretProvider
	nonces          NonceStore
	signatureHeader string
	timestampHeader string
	nonceHeader     string
	clockSkew       time.Duration
	nonceTTL        time.Duration
	clock           func() time.Time
	logger          *zap.Logger
	recorder        VerificationRecorder
}

// SignatureOption customises SignatureVerifier.
type SignatureOption func(*SignatureVerifier)

// WithSignatureHeaders overrides the header names. Empty values keep the defaults.
func WithSignatureHeaders(signature, timestamp, nonce string) SignatureOption {
	return func(v *SignatureVerifier) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if timestamp != "" {
			v.timestampHeader = timestamp
		}
		if nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

// WithClockSkew bounds how far the timestamp may drift from now.
func WithClockSkew(d time.Duration) SignatureOption {
	return func(v *SignatureVerifier) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithNonceTTL sets how long a nonce is remembered.
func WithNonceTTL(d time.Duration) SignatureOption {
	return func(v *SignatureVerifier) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// WithSignatureClock overrides time.Now.
func WithSignatureClock(clock func() time.Time) SignatureOption {
	return func(v *SignatureVerifier) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// WithSignatureLogger logs rejected deliveries.
func WithSignatureLogger(logger *zap.Logger) SignatureOption {
	return func(v *SignatureVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithSignatureRecorder reports verification outcomes.
func WithSignatureRecorder(recorder VerificationRecorder) SignatureOption {
	return func(v *SignatureVerifier) {
		v.recorder = recorder
	}
}

// NewSignatureVerifier constructs a verifier. A nil nonce store gets a MemoryNonceStore.
func NewSignatureVerifier(secrets SecretProvider, nonces NonceStore, opts ...SignatureOption) (*SignatureVerifier, error) {
	if secrets == nil {
		return nil, errors.New("signature verifier: secret provider is required")
	}
	v := &SignatureVerifier{
		secrets:         secrets,
		nonces:          nonces,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		nonceHeader:     defaultNonceHeader,
		clockSkew:       defaultClockSkew,
		nonceTTL:        defaultNonceTTL,
		clock:           time.Now,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	if v.nonces == nil {
		// Expiry must follow the verifier's clock or a pinned clock never sees its own nonces.
		v.nonces = NewMemoryNonceStore(WithNonceClock(v.clock))
	}
	return v, nil
}

// Verify checks req against the secret called secretName. Rejections are *SignatureError; any
// other error means the secret or nonce store could not be consulted.
func (v *SignatureVerifier) Verify(ctx context.Context, secretName string, req SignedRequest) error {
	if req.Timestamp == "" || req.Nonce == "" || req.Signature == "" {
		return rejected(ReasonMissingHeaders)
	}
	signedAt, err := parseSignatureTimestamp(req.Timestamp)
	if err != nil {
		return rejected(ReasonInvalidTimestamp)
	}
	now := v.clock()
	if drift := now.Sub(signedAt); drift > v.clockSkew || drift < -v.clockSkew {
		return rejected(ReasonStaleTimestamp)
	}

	secret, err := v.secrets.GetSecret(ctx, secretName)
	if err != nil {
		return fmt.Errorf("resolve signing secret %q: %w", secretName, err)
	}
	if secret == "" {
		return rejected(ReasonUnknownSecret)
	}

	provided, ok := decodeSignature(req.Signature)
	if !ok {
		return rejected(ReasonBadSignature)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(req.CanonicalString()))
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return rejected(ReasonBadSignature)
	}

	fresh, err := v.nonces.Remember(ctx, secretName+":"+req.Nonce, now.Add(v.nonceTTL))
	if err != nil {
		return fmt.Errorf("remember nonce: %w", err)
	}
	if !fresh {
		return rejected(ReasonReplayedNonce)
	}
	return nil
}

// RequireSignature verifies each request against the secret chosen by resolve. Requests for
// which resolve finds no secret are rejected.
func (v *SignatureVerifier) RequireSignature(resolve func(*http.Request) (string, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := v.clock()

			secretName, ok := resolve(r)
			if !ok {
				v.reject(w, r, start, ReasonUnknownSecret)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodyBytes+1))
			if err != nil {
				writeAuthError(w, r, http.StatusBadRequest, "invalid_body", "request body could not be read")
				return
			}
			if len(body) > maxSignedBodyBytes {
				writeAuthError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds the signed payload limit")
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			err = v.Verify(ctx, secretName, SignedRequest{
				Method:    r.Method,
				Path:      r.URL.Path,
				Timestamp: strings.TrimSpace(r.Header.Get(v.timestampHeader)),
				Nonce:     strings.TrimSpace(r.Header.Get(v.nonceHeader)),
				Signature: strings.TrimSpace(r.Header.Get(v.signatureHeader)),
				Body:      body,
			})
			var sigErr *SignatureError
			switch {
			case err == nil:
				recordVerification(ctx, v.recorder, "signature", true, "ok", start, v.clock())
				next.ServeHTTP(w, r)
			case errors.As(err, &sigErr):
				v.reject(w, r, start, sigErr.Reason)
			default:
				v.logger.Error("signature verification unavailable", zap.Error(err), zap.String("secret", secretName))
				recordVerification(ctx, v.recorder, "signature", false, "unavailable", start, v.clock())
				writeAuthError(w, r, http.StatusServiceUnavailable, "signature_unavailable", "signature verification is temporarily unavailable")
			}
		})
	}
}

func (v *SignatureVerifier) reject(w http.ResponseWriter, r *http.Request, start time.Time, reason string) {
	v.logger.Warn("signed request rejected", zap.String("reason", reason), zap.String("path", r.URL.Path))
	recordVerification(r.Context(), v.recorder, "signature", false, reason, start, v.clock())
	writeAuthError(w, r, http.StatusUnauthorized, "invalid_signature", "request signature could not be verified")
}

// parseSignatureTimestamp accepts unix seconds or RFC 3339.
func parseSignatureTimestamp(value string) (time.Time, error) {
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0), nil
	}
	return time.Parse(time.RFC3339, value)
}

// decodeSignature accepts base64 (standard or URL alphabet) or hex, with an optional
// "sha256=" prefix.
func decodeSignature(value string) ([]byte, bool) {
	value = strings.TrimPrefix(value, "sha256=")
	if len(value) == sha256.Size*2 {
		if decoded, err := hex.DecodeString(value); err == nil {
			return decoded, true
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(value); err == nil && len(decoded) == sha256.Size {
			return decoded, true
		}
	}
	return nil, false
}
