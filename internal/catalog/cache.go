package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

type DefinitionCache interface {
	Get(ctx context.Context, testID string) (*model.TestDefinition, error)
	Set(ctx context.Context, def *model.TestDefinition) error
}

type definitionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDefinitionCache(client *redis.Client, ttl time.Duration) DefinitionCache {
	return &definitionCache{client: client, ttl: ttl}
}

func (c *definitionCache) Get(ctx context.Context, testID string) (*model.TestDefinition, error) {
	data, err := c.client.Get(ctx, config.CacheKey.TestDefinitionKey(testID)).Bytes()
	if err != nil {
		return nil, err
	}
	var def model.TestDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func (c *definitionCache) Set(ctx context.Context, def *model.TestDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, config.CacheKey.TestDefinitionKey(def.ID), data, c.ttl).Err()
}

// CachedFetcher serves definitions from the cache, falling back to next on a
// miss. Cache failures never fail a fetch.
type CachedFetcher struct {
	next  Fetcher
	cache DefinitionCache
	log   zerolog.Logger
}

func NewCachedFetcher(next Fetcher, cache DefinitionCache, log zerolog.Logger) *CachedFetcher {
	return &CachedFetcher{
		next:  next,
		cache: cache,
		log:   log.With().Str("component", "catalog_cache").Logger(),
	}
}

func (f *CachedFetcher) FetchTestByID(ctx context.Context, testID string) (*model.TestDefinition, error) {
	def, err := f.cache.Get(ctx, testID)
	if err == nil && def.Validate() == nil {
		return def, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		f.log.Warn().Err(err).Str("test_id", testID).Msg("Definition cache read failed")
	}

	def, err = f.next.FetchTestByID(ctx, testID)
	if err != nil {
		return nil, err
	}
	if err := f.cache.Set(ctx, def); err != nil {
		f.log.Warn().Err(err).Str("test_id", testID).Msg("Definition cache write failed")
	}
	return def, nil
}
