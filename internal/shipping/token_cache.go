package shipping

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const tokenRefreshKey = "token"

// TokenFetcher obtains a fresh provider token.
type TokenFetcher func(ctx context.Context) (Token, error)

// TokenCache holds the current provider token. Concurrent refreshes collapse into one
// upstream login.
type TokenCache struct {
	fetch TokenFetcher
	now   func() time.Time
	skew  time.Duration

	mu    sync.RWMutex
	token Token

	group singleflight.Group
}

// NewTokenCache constructs a cache. Tokens are treated as expired skew before their expiry.
func NewTokenCache(fetch TokenFetcher, skew time.Duration, now func() time.Time) (*TokenCache, error) {
	if fetch == nil {
		return nil, errors.New("shipping: token fetcher is required")
	}
	if now == nil {
		now = time.Now
	}
	if skew < 0 {
		skew = 0
	}
	return &TokenCache{fetch: fetch, now: now, skew: skew}, nil
}

// GetOrRefresh returns the cached token, logging in when it is absent or about to expire.
// The login runs detached from ctx so one caller giving up does not fail the others waiting
// on the same refresh.
func (c *TokenCache) GetOrRefresh(ctx context.Context) (string, error) {
	if token, ok := c.current(); ok {
		return token, nil
	}

	ch := c.group.DoChan(tokenRefreshKey, func() (any, error) {
		if token, ok := c.current(); ok {
			return token, nil
		}
		token, err := c.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}
		if token.Value == "" {
			return "", &ProviderError{Op: "authenticate", Kind: ErrorKindAuth, Message: "empty token in login response"}
		}
		c.mu.Lock()
		c.token = token
		c.mu.Unlock()
		return token.Value, nil
	})

	select {
	case <-ctx.Done():
		return "", transportError("authenticate", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		value, _ := res.Val.(string)
		return value, nil
	}
}

// Invalidate drops the cached token if it is still the rejected one. A token refreshed by
// another caller in the meantime is kept.
func (c *TokenCache) Invalidate(rejected string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.Value == rejected {
		c.token = Token{}
	}
}

func (c *TokenCache) current() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token.Value == "" {
		return "", false
	}
	if !c.now().Add(c.skew).Before(c.token.ExpiresAt) {
		return "", false
	}
	return c.token.Value, true
}
