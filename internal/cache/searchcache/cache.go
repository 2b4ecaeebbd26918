// Package searchcache is a TTL'd read-through cache over the catalog search
// operation. It is an optional layer; the core client works without it.
package searchcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/wayfinder-foundry/stac-scope/internal/cache/keys"
	"github.com/wayfinder-foundry/stac-scope/internal/cache/redisstore"
	"github.com/wayfinder-foundry/stac-scope/internal/core/model"
)

// Searcher is the inner search surface being cached.
type Searcher interface {
	Search(ctx context.Context, req model.SearchRequest) ([]model.Item, []string, error)
}

// envelope is the cached payload. Warnings travel with the items so a cached
// partial result stays flagged as partial.
type envelope struct {
	Items    []model.Item `json:"items"`
	Warnings []string     `json:"warnings,omitempty"`
}

type Cache struct {
	logger    *zerolog.Logger
	inner     Searcher
	store     *redisstore.Client
	ttl       time.Duration
	opTimeout time.Duration
}

func New(logger *zerolog.Logger, inner Searcher, store *redisstore.Client, ttl, opTimeout time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if opTimeout <= 0 {
		opTimeout = 250 * time.Millisecond
	}
	return &Cache{logger: logger, inner: inner, store: store, ttl: ttl, opTimeout: opTimeout}
}

// Search serves from Redis when possible, falling through to the catalog on
// miss or any cache error. Cache trouble is never allowed to fail a search.
func (c *Cache) Search(ctx context.Context, req model.SearchRequest) ([]model.Item, []string, error) {
	key := keys.Search(req)

	octx, cancel := context.WithTimeout(ctx, c.opTimeout)
	raw, err := c.store.Get(octx, key)
	cancel()
	if err == nil && raw != nil {
		var env envelope
		if jerr := json.Unmarshal(raw, &env); jerr == nil {
			return env.Items, env.Warnings, nil
		}
	}
	if err != nil && c.logger != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed, going to catalog")
	}

	items, warnings, err := c.inner.Search(ctx, req)
	if err != nil {
		return nil, warnings, err
	}
	c.fill(ctx, key, req, items, warnings)
	return items, warnings, nil
}

func (c *Cache) fill(ctx context.Context, key string, req model.SearchRequest, items []model.Item, warnings []string) {
	raw, err := json.Marshal(envelope{Items: items, Warnings: warnings})
	if err != nil {
		return
	}
	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opTimeout)
	defer cancel()
	if err := c.store.Set(octx, key, raw, c.ttl); err != nil {
		if c.logger != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache fill failed")
		}
		return
	}
	for _, col := range req.Collections {
		_ = c.store.IndexAdd(octx, keys.CollectionIndex(col), key, c.ttl)
	}
}

// InvalidateCollection drops every cached search that touched the
// collection. Returns the number of keys removed.
func (c *Cache) InvalidateCollection(ctx context.Context, collection string) (int, error) {
	index := keys.CollectionIndex(collection)
	members, err := c.store.IndexMembers(ctx, index)
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}
	n, err := c.store.Del(ctx, append(members, index)...)
	if err != nil {
		return 0, err
	}
	if c.logger != nil {
		c.logger.Info().Str("collection", collection).Int64("keys", n).Msg("invalidated cached searches")
	}
	return len(members), nil
}
