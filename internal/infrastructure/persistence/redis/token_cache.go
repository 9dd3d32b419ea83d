package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/null2264/MoodleBot/internal/domain/account"
	"github.com/null2264/MoodleBot/internal/infrastructure/metrics"
	"github.com/null2264/MoodleBot/pkg/logger"
	"github.com/null2264/MoodleBot/pkg/tokenseal"
)

// TTLToken is the default lifetime of a cached token.
const TTLToken = 10 * time.Minute

// stringStore is the subset of Cache used by TokenCache.
type stringStore interface {
	GetString(ctx context.Context, key string) (string, error)
	SetString(ctx context.Context, key, value string, ttl time.Duration) error
}

// TokenCache is a read-through account.TokenStore decorator.
// Only registered users are cached; a miss always falls through to the
// backing store so a fresh registration is visible immediately. Cached values
// are sealed with the same key as the database rows; without a sealing key the
// cache is bypassed and tokens never reach Redis.
//
// Redis errors never fail a lookup: the backing store is authoritative.
type TokenCache struct {
	next   account.TokenStore
	cache  stringStore
	sealer *tokenseal.Sealer
	ttl    time.Duration
	logger *slog.Logger
}

var _ account.TokenStore = (*TokenCache)(nil)

// NewTokenCache wraps next with a Redis cache.
func NewTokenCache(next account.TokenStore, cache *Cache, sealer *tokenseal.Sealer, ttl time.Duration, log *slog.Logger) *TokenCache {
	return newTokenCache(next, cache, sealer, ttl, log)
}

func newTokenCache(next account.TokenStore, cache stringStore, sealer *tokenseal.Sealer, ttl time.Duration, log *slog.Logger) *TokenCache {
	if ttl <= 0 {
		ttl = TTLToken
	}
	if log == nil {
		log = slog.Default()
	}
	return &TokenCache{
		next:   next,
		cache:  cache,
		sealer: sealer,
		ttl:    ttl,
		logger: log.With(logger.Component("token_cache")),
	}
}

// Get returns the token from Redis, falling back to the backing store.
func (c *TokenCache) Get(ctx context.Context, userID account.UserID) (account.Token, bool, error) {
	if !c.sealer.Enabled() {
		return c.next.Get(ctx, userID)
	}

	key := TokenKey(userID.String())

	stored, err := c.cache.GetString(ctx, key)
	switch {
	case err == nil:
		if value, openErr := c.sealer.Open(stored); openErr == nil {
			metrics.TokenCacheTotal.WithLabelValues("hit").Inc()
			return account.Token{UserID: userID, Value: value}, true, nil
		}
		metrics.TokenCacheTotal.WithLabelValues("error").Inc()
	case errors.Is(err, ErrCacheMiss):
		metrics.TokenCacheTotal.WithLabelValues("miss").Inc()
	default:
		metrics.TokenCacheTotal.WithLabelValues("error").Inc()
		c.logger.Warn("token cache read failed", logger.UserID(userID.String()), logger.Err(err))
	}

	token, ok, err := c.next.Get(ctx, userID)
	if err != nil || !ok {
		return token, ok, err
	}

	c.store(ctx, token)
	return token, true, nil
}

// Put writes to the backing store first and caches only on success.
func (c *TokenCache) Put(ctx context.Context, token account.Token) error {
	if err := c.next.Put(ctx, token); err != nil {
		return err
	}

	c.store(ctx, token)
	return nil
}

func (c *TokenCache) store(ctx context.Context, token account.Token) {
	if !c.sealer.Enabled() {
		return
	}
	sealed, err := c.sealer.Seal(token.Value)
	if err != nil {
		c.logger.Warn("token cache seal failed", logger.UserID(token.UserID.String()), logger.Err(err))
		return
	}
	if err := c.cache.SetString(ctx, TokenKey(token.UserID.String()), sealed, c.ttl); err != nil {
		c.logger.Warn("token cache write failed", logger.UserID(token.UserID.String()), logger.Err(err))
	}
}
