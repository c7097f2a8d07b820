// Package idempotency implements the command pipeline's idempotency
// gate: a Redis-backed key-to-cached-result store with a TTL, so a
// retried command with the same id returns the original result instead
// of re-deciding.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/orders-platform/order-processing/apperr"
	"github.com/orders-platform/order-processing/models"
)

// ErrNotFound is returned by Check when no result is cached for key.
var ErrNotFound = errors.New("idempotency key not found")

// Store checks and records command results keyed by command id + type, the
// way generate_idempotency_key(id, operation) built its Redis key. Redis is
// the fast path; db, when set, backs it with a Postgres row so a result
// survives a cache flush or TTL expiry.
type Store struct {
	client *redis.Client
	db     *gorm.DB
	ttl    time.Duration
}

// NewStore creates a Redis-backed idempotency store with no database
// fallback.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// NewStoreWithFallback creates an idempotency store that also persists (and
// consults, on a cache miss) an IdempotencyRecord row through db.
func NewStoreWithFallback(client *redis.Client, db *gorm.DB, ttl time.Duration) *Store {
	return &Store{client: client, db: db, ttl: ttl}
}

// Key builds the "idempotency:{commandType}:{commandID}" cache key.
func Key(commandType, commandID string) string {
	return "idempotency:" + commandType + ":" + commandID
}

// Check returns the cached result for key, or ErrNotFound if none exists
// anywhere. A Redis miss and a Redis error both fall through to the
// database record (when a fallback is configured) before reporting
// ErrNotFound, since the row there is not subject to Redis's TTL. Only when
// Redis fails and the database lookup fails too is the Redis error
// surfaced as *apperr.Error with KindExternal, so callers can choose to
// degrade (the command pipeline treats that outage as "go ahead and
// process the command" rather than blocking it).
func (s *Store) Check(ctx context.Context, key string, out interface{}) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		return unmarshalResult(raw, out)
	case errors.Is(err, redis.Nil):
		return s.checkDB(ctx, key, out)
	default:
		switch dbErr := s.checkDB(ctx, key, out); {
		case dbErr == nil:
			return nil
		case errors.Is(dbErr, ErrNotFound):
			return ErrNotFound
		default:
			return apperr.External("idempotency store unavailable", err)
		}
	}
}

func (s *Store) checkDB(ctx context.Context, key string, out interface{}) error {
	if s.db == nil {
		return ErrNotFound
	}

	var row models.IdempotencyRecord
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return apperr.Storage("failed to query idempotency record", err)
	}

	// Found in the database but Redis had already expired it: warm the
	// cache back up so the next retry is a fast path again.
	if setErr := s.client.Set(ctx, key, row.Result, s.ttl).Err(); setErr != nil {
		log.Warn().Err(setErr).Str("key", key).Msg("failed to repopulate idempotency cache from database")
	}

	return unmarshalResult(row.Result, out)
}

func unmarshalResult(raw []byte, out interface{}) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Serialization("failed to unmarshal idempotency result", err)
	}
	return nil
}

// Record caches result under key for the store's configured TTL and, if a
// database fallback is configured, persists it as an IdempotencyRecord row
// so it survives past the cache TTL or a cache flush. When a database
// fallback is configured, a Redis outage doesn't fail the record: the
// database write is what makes the result durable, Redis is just the fast
// path back to it.
func (s *Store) Record(ctx context.Context, key, commandType string, result interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return apperr.Serialization("failed to marshal idempotency result", err)
	}

	redisErr := s.client.Set(ctx, key, data, s.ttl).Err()

	if s.db == nil {
		if redisErr != nil {
			return apperr.External("failed to record idempotency result", redisErr)
		}
		return nil
	}

	if redisErr != nil {
		log.Warn().Err(redisErr).Str("key", key).Msg("failed to cache idempotency result, falling back to database")
	}

	row := models.IdempotencyRecord{Key: key, CommandType: commandType, Result: data}
	if err := s.db.WithContext(ctx).
		Where("key = ?", key).
		Assign(row).
		FirstOrCreate(&models.IdempotencyRecord{}).Error; err != nil {
		return apperr.Storage("failed to persist idempotency record", err)
	}
	return nil
}

// Delete removes a cached result from Redis, for manual cache-busting; a
// database fallback row, if any, is left in place.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return apperr.External("failed to delete idempotency record", err)
	}
	return nil
}
