package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultJWKSTTL        = time.Hour
	defaultJWKSMinRefresh = 30 * time.Second
	defaultJWKSTimeout    = 5 * time.Second
)

// ErrUnknownKey is returned when no signing key matches the token's key id.
var ErrUnknownKey = errors.New("auth: signing key not found")

// JWKSCache fetches and caches a JSON Web Key Set. Keys are refetched when the
// Cache-Control max-age lapses or when a token names an unknown key id.
type JWKSCache struct {
	url        string
	client     *http.Client
	logger     *zap.Logger
	clock      func() time.Time
	minRefresh time.Duration

	group singleflight.Group

	mu          sync.RWMutex
	keys        map[string]jose.JSONWebKey
	expiresAt   time.Time
	lastFetched time.Time
}

// JWKSOption customises JWKSCache.
type JWKSOption func(*JWKSCache)

// WithJWKSHTTPClient overrides the HTTP client.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSLogger logs refresh failures.
func WithJWKSLogger(logger *zap.Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJWKSClock overrides time.Now.
func WithJWKSClock(clock func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithJWKSMinRefresh limits how often an unknown key id may trigger a refetch.
func WithJWKSMinRefresh(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d >= 0 {
			c.minRefresh = d
		}
	}
}

// NewJWKSCache returns a cache for the key set at url. Nothing is fetched until the first lookup.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:        url,
		client:     &http.Client{Timeout: defaultJWKSTimeout},
		logger:     zap.NewNop(),
		clock:      time.Now,
		minRefresh: defaultJWKSMinRefresh,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Key returns the public key for kid.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	now := c.clock()

	c.mu.RLock()
	key, found := c.keys[kid]
	fresh := now.Before(c.expiresAt)
	recentlyFetched := !c.lastFetched.IsZero() && now.Sub(c.lastFetched) < c.minRefresh
	c.mu.RUnlock()

	if found && fresh {
		return key.Key, nil
	}
	if !found && fresh && recentlyFetched {
		return nil, ErrUnknownKey
	}

	if err := c.refresh(ctx); err != nil {
		if found {
			c.logger.Warn("jwks refresh failed; using stale key", zap.Error(err), zap.String("kid", kid))
			return key.Key, nil
		}
		return nil, err
	}

	c.mu.RLock()
	key, found = c.keys[kid]
	c.mu.RUnlock()
	if !found {
		return nil, ErrUnknownKey
	}
	return key.Key, nil
}

// Keyfunc adapts the cache to jwt.Parse, accepting RS256 only.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token has no key id")
		}
		return c.Key(ctx, kid)
	}
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		return nil, c.fetch(ctx)
	})
	return err
}

func (c *JWKSCache) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("auth: build jwks request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("auth: fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&set); err != nil {
		return fmt.Errorf("auth: decode jwks: %w", err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, key := range set.Keys {
		if key.KeyID == "" || !key.Valid() {
			continue
		}
		if key.Use != "" && key.Use != "sig" {
			continue
		}
		keys[key.KeyID] = key
	}
	if len(keys) == 0 {
		return errors.New("auth: jwks contains no usable signing keys")
	}

	now := c.clock()
	ttl := maxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = defaultJWKSTTL
	}

	c.mu.Lock()
	c.keys = keys
	c.lastFetched = now
	c.expiresAt = now.Add(ttl)
	c.mu.Unlock()
	return nil
}

func maxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.ParseInt(strings.Trim(value, `"`), 10, 64)
		if err != nil || seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	return 0
}
