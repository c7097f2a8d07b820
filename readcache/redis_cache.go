// Package readcache implements the optional TTL read cache in front of
// the order view store.
package readcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = errors.New("cache miss")

// Cache wraps single-entity reads with a TTL-bound Redis cache. It never
// backs range queries (list-by-customer, search-by-number) — only
// get-by-id lookups, per the read cache's single-entity scope.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a read cache with the given default TTL.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func orderKey(orderID string) string {
	return "order:" + orderID
}

// Get reads the cached value for orderID into out. Any Redis error
// (including a miss) degrades silently to ErrMiss/log-and-continue so the
// caller falls back to the database; a cache outage must never fail a
// read.
func (c *Cache) Get(ctx context.Context, orderID string, out interface{}) error {
	raw, err := c.client.Get(ctx, orderKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		log.Warn().Err(err).Str("order_id", orderID).Msg("read cache unavailable, falling back to database")
		return ErrMiss
	}

	if err := json.Unmarshal(raw, out); err != nil {
		log.Warn().Err(err).Str("order_id", orderID).Msg("read cache entry corrupt, falling back to database")
		return ErrMiss
	}
	return nil
}

// Set populates the cache for orderID. Failures are logged, never
// propagated: a failed cache write must not fail the read that triggered
// it.
func (c *Cache) Set(ctx context.Context, orderID string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Warn().Err(err).Str("order_id", orderID).Msg("failed to marshal value for read cache")
		return
	}

	if err := c.client.Set(ctx, orderKey(orderID), data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("order_id", orderID).Msg("failed to populate read cache")
	}
}

// Invalidate removes orderID from the cache, called by the projection
// pipeline after it updates the backing view so the next read is fresh.
func (c *Cache) Invalidate(ctx context.Context, orderID string) {
	if err := c.client.Del(ctx, orderKey(orderID)).Err(); err != nil {
		log.Warn().Err(err).Str("order_id", orderID).Msg("failed to invalidate read cache entry")
	}
}
