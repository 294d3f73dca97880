package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"tripcards.app/internal/clock"
	"tripcards.app/internal/logging"
	"tripcards.app/internal/metrics"
)

// ErrTokenRejected is returned by a token-using call when upstream refused the
// bearer token. WithToken reacts to it with one forced refresh.
var ErrTokenRejected = errors.New("token rejected")

// RefreshFunc authenticates against one API family and returns a fresh token.
type RefreshFunc func(ctx context.Context) (string, error)

// TokenCache keeps one bearer token per API family. At most one refresh per
// family is in flight; other callers wait for its result.
type TokenCache struct {
	tokens         *TTLStore[string]
	ttls           map[string]time.Duration
	refreshTimeout time.Duration
	group          singleflight.Group
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

type TokenCacheConfig struct {
	// TTLs per family; DefaultTTL applies to families not listed.
	TTLs           map[string]time.Duration
	DefaultTTL     time.Duration
	RefreshTimeout time.Duration
}

func NewTokenCache(cfg TokenCacheConfig, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger) *TokenCache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 12 * time.Hour
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 10 * time.Second
	}
	ttls := make(map[string]time.Duration, len(cfg.TTLs))
	for family, ttl := range cfg.TTLs {
		ttls[family] = ttl
	}
	return &TokenCache{
		tokens:         NewTTLStore[string]("token", 16, cfg.DefaultTTL, clk, m),
		ttls:           ttls,
		refreshTimeout: cfg.RefreshTimeout,
		metrics:        m,
		logger:         logging.Component(logger, "token_cache"),
	}
}

// Get returns the cached token for family, authenticating if there is none.
func (c *TokenCache) Get(ctx context.Context, family string, refresh RefreshFunc) (string, error) {
	if tok, ok := c.tokens.Get(family); ok {
		return tok, nil
	}
	return c.refresh(ctx, family, refresh)
}

// ForceRefresh discards stale and authenticates again. If another caller has
// already replaced stale, that newer token is returned without a new login.
func (c *TokenCache) ForceRefresh(ctx context.Context, family, stale string, refresh RefreshFunc) (string, error) {
	if tok, ok := c.tokens.Get(family); ok {
		if tok != stale {
			return tok, nil
		}
		c.tokens.Remove(family)
	}
	return c.refresh(ctx, family, refresh)
}

// Invalidate drops the cached token for family.
func (c *TokenCache) Invalidate(family string) {
	c.tokens.Remove(family)
}

func (c *TokenCache) refresh(ctx context.Context, family string, refresh RefreshFunc) (string, error) {
	ch := c.group.DoChan(family, func() (any, error) {
		// The login outlives any single waiter so a cancelled request does not
		// abort a refresh other callers are waiting on.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()

		start := time.Now()
		tok, err := refresh(rctx)
		if err == nil && tok == "" {
			err = errors.New("empty token")
		}
		if err != nil {
			c.count(family, "error")
			logging.LogError(c.logger, "token refresh failed", err, slog.String("family", family))
			return "", fmt.Errorf("refreshing %s token: %w", family, err)
		}

		c.tokens.SetWithTTL(family, tok, c.ttlFor(family))
		c.count(family, "ok")
		logging.LogOperation(c.logger, "token_refreshed",
			slog.String("family", family),
			slog.Duration("duration", time.Since(start)))
		return tok, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *TokenCache) ttlFor(family string) time.Duration {
	if ttl, ok := c.ttls[family]; ok && ttl > 0 {
		return ttl
	}
	return c.tokens.TTL()
}

func (c *TokenCache) count(family, outcome string) {
	if c.metrics == nil {
		return
	}
	c.metrics.TokenRefreshesTotal.WithLabelValues(family, outcome).Inc()
}

// WithToken runs call with the family's token. When call reports
// ErrTokenRejected the token is refreshed once and call retried once; a
// second rejection is returned to the caller.
func WithToken[T any](ctx context.Context, c *TokenCache, family string, refresh RefreshFunc, call func(ctx context.Context, token string) (T, error)) (T, error) {
	var zero T
	tok, err := c.Get(ctx, family, refresh)
	if err != nil {
		return zero, err
	}

	out, err := call(ctx, tok)
	if !errors.Is(err, ErrTokenRejected) {
		return out, err
	}

	logging.LogOperation(c.logger, "token_rejected_reauthenticating", slog.String("family", family))
	tok, err = c.ForceRefresh(ctx, family, tok, refresh)
	if err != nil {
		return zero, err
	}
	return call(ctx, tok)
}
