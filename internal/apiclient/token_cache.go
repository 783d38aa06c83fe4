package apiclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/phrazzld/carsync-api/internal/platform/logger"
	"golang.org/x/sync/singleflight"
)

// DefaultTokenMargin is how long before expiry a cached token is refreshed.
const DefaultTokenMargin = 60 * time.Second

const defaultFlightTimeout = 30 * time.Second

// TokenFetcher obtains a fresh token for key.
type TokenFetcher func(ctx context.Context, key string) (Token, error)

// TokenCacheOption configures a TokenCache.
type TokenCacheOption func(*TokenCache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) { c.now = now }
}

// WithFlightTimeout bounds a single refresh.
func WithFlightTimeout(d time.Duration) TokenCacheOption {
	return func(c *TokenCache) { c.flightTimeout = d }
}

// TokenCache holds one token per provider key and refreshes it lazily.
// Concurrent callers that find the token missing or inside the margin share
// a single refresh.
type TokenCache struct {
	fetch         TokenFetcher
	margin        time.Duration
	now           func() time.Time
	flightTimeout time.Duration
	logger        *slog.Logger

	mu     sync.RWMutex
	tokens map[string]Token
	group  singleflight.Group
}

// NewTokenCache creates a TokenCache backed by fetch.
func NewTokenCache(fetch TokenFetcher, margin time.Duration, logger *slog.Logger, opts ...TokenCacheOption) *TokenCache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &TokenCache{
		fetch:         fetch,
		margin:        margin,
		now:           time.Now,
		flightTimeout: defaultFlightTimeout,
		logger:        logger.With(slog.String("component", "token_cache")),
		tokens:        make(map[string]Token),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetAccessToken returns a token for key that stays valid for at least the margin.
// The refresh runs detached from ctx so one caller giving up does not fail
// the others; each caller still stops waiting when its own ctx ends.
func (c *TokenCache) GetAccessToken(ctx context.Context, key string) (string, error) {
	if tok, ok := c.cached(key); ok {
		return tok.AccessToken, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		if tok, ok := c.cached(key); ok {
			return tok, nil
		}

		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout)
		defer cancel()

		logger.FromContextOrDefault(ctx, c.logger).Debug("refreshing token", slog.String("key", key))
		tok, err := c.fetch(flightCtx, key)
		if err != nil {
			return Token{}, err
		}

		c.mu.Lock()
		c.tokens[key] = tok
		c.mu.Unlock()
		return tok, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("token refresh for %s: %w", key, res.Err)
		}
		return res.Val.(Token).AccessToken, nil
	}
}

// Invalidate drops the cached token for key.
func (c *TokenCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.tokens, key)
	c.mu.Unlock()
}

// Put seeds the cache, replacing any token held for key.
func (c *TokenCache) Put(key string, tok Token) {
	c.mu.Lock()
	c.tokens[key] = tok
	c.mu.Unlock()
}

func (c *TokenCache) cached(key string) (Token, bool) {
	c.mu.RLock()
	tok, ok := c.tokens[key]
	c.mu.RUnlock()
	if !ok || !tok.ValidAt(c.now(), c.margin) {
		return Token{}, false
	}
	return tok, true
}

// ClientCredentialsFetcher fetches service tokens through the strategy of
// the provider named by the cache key.
func ClientCredentialsFetcher(strategies Strategies) TokenFetcher {
	return func(ctx context.Context, key string) (Token, error) {
		strategy, err := strategies.For(domain.Provider(key))
		if err != nil {
			return Token{}, err
		}
		outcome := strategy.ClientCredentials(ctx)
		if !outcome.OK() {
			return Token{}, outcome.Err()
		}
		return outcome.Value, nil
	}
}
