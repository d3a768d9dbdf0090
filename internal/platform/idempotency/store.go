package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL is how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

// Outcome is the result of claiming a key.
type Outcome int

const (
	// Claimed means the caller owns the key and must Complete or Release it.
	Claimed Outcome = iota
	// Replay means a finished response is stored for the key.
	Replay
	// InFlight means another request holds the key.
	InFlight
)

// ErrKeyReused is returned when a key arrives with a different request fingerprint.
var ErrKeyReused = errors.New("idempotency: key already used for a different request")

// StoredResponse is the replayable part of a handler response.
type StoredResponse struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Entry is one idempotency key as persisted by a Store.
type Entry struct {
	Key         string
	Fingerprint string
	Completed   bool
	Response    StoredResponse
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Store persists idempotency keys. Keys passed in are already scoped to the requester.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error)
	Complete(ctx context.Context, key, fingerprint string, resp StoredResponse, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

func documentID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// replayableHeaders drops hop-by-hop and per-response headers.
func replayableHeaders(header http.Header) http.Header {
	out := make(http.Header, len(header))
	for name, values := range header {
		switch http.CanonicalHeaderKey(name) {
		case "Connection", "Content-Length", "Date", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Trailer",
			"X-Request-Id", "Traceparent":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	return out
}
