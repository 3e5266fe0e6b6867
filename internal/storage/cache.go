package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedStore keeps recently read archives in Redis in front of a slower store.
// Cache failures are logged and fall through to the backing store.
type CachedStore struct {
	store  ArchiveStore
	cache  *redis.Client
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

// NewCachedStore wraps store. A nil client disables caching.
func NewCachedStore(store ArchiveStore, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedStore{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		prefix: "grading:archive:",
		logger: logger.With().Str("component", "archive_cache").Logger(),
	}
}

func (c *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	cacheKey := c.prefix + key
	if c.cache != nil {
		data, err := c.cache.Get(ctx, cacheKey).Bytes()
		if err == nil {
			c.logger.Debug().Str("key", key).Msg("archive cache hit")
			return data, nil
		}
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("key", key).Msg("failed to read archive cache")
		}
	}

	data, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, data, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("failed to store archive cache")
		}
	}
	return data, nil
}

func (c *CachedStore) Put(ctx context.Context, key string, data []byte) error {
	if err := c.store.Put(ctx, key, data); err != nil {
		return err
	}
	c.invalidate(ctx, key)
	return nil
}

func (c *CachedStore) Delete(ctx context.Context, key string) error {
	err := c.store.Delete(ctx, key)
	c.invalidate(ctx, key)
	return err
}

func (c *CachedStore) List(ctx context.Context, prefix string) ([]string, error) {
	return c.store.List(ctx, prefix)
}

func (c *CachedStore) invalidate(ctx context.Context, key string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Del(ctx, c.prefix+key).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to invalidate archive cache")
	}
}
