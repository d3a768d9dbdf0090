package auth

import (
	"context"
	"sync"
	"time"
)

// NonceStore remembers signature nonces until they expire so a captured request cannot be
// replayed inside the clock skew window.
type NonceStore interface {
	// Remember stores nonce and reports false when it was already present and unexpired.
	Remember(ctx context.Context, nonce string, expiresAt time.Time) (bool, error)
}

// MemoryNonceStore is a process-local NonceStore. Replays across instances are only caught when
// the webhook sender pins requests to one instance.
type MemoryNonceStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	clock   func() time.Time
	sweeps  int
}

// NonceStoreOption customises a MemoryNonceStore.
type NonceStoreOption func(*MemoryNonceStore)

// WithNonceClock overrides time.Now when deciding whether a nonce has expired.
func WithNonceClock(clock func() time.Time) NonceStoreOption {
	return func(s *MemoryNonceStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewMemoryNonceStore returns an empty store.
func NewMemoryNonceStore(opts ...NonceStoreOption) *MemoryNonceStore {
	s := &MemoryNonceStore{entries: make(map[string]time.Time), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *MemoryNonceStore) Remember(_ context.Context, nonce string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	s.sweeps++
	if s.sweeps >= 256 {
		s.sweeps = 0
		for key, exp := range s.entries {
			if !exp.After(now) {
				delete(s.entries, key)
			}
		}
	}

	if exp, ok := s.entries[nonce]; ok && exp.After(now) {
		return false, nil
	}
	s.entries[nonce] = expiresAt
	return true, nil
}
