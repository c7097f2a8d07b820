package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/orders-platform/order-processing/models"
)

// unreachableRedisClient points at a port nothing listens on, so every
// Redis call fails fast without needing a live server for the test to be
// meaningful about the database fallback path.
func unreachableRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.IdempotencyRecord{}))
	return db
}

func TestStore_Check_ReturnsNotFoundWithNoFallback(t *testing.T) {
	store := NewStore(unreachableRedisClient(), time.Minute)

	var out struct{ OrderID string }
	err := store.Check(context.Background(), "idempotency:CreateOrder:cmd-1", &out)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RecordAndCheck_DatabaseFallbackSurvivesRedisOutage(t *testing.T) {
	db := newTestDB(t)
	store := NewStoreWithFallback(unreachableRedisClient(), db, time.Minute)

	key := Key("CreateOrder", "cmd-1")
	type result struct {
		OrderID string `json:"order_id"`
	}

	require.NoError(t, store.Record(context.Background(), key, "CreateOrder", result{OrderID: "order-1"}))

	var out result
	err := store.Check(context.Background(), key, &out)
	require.NoError(t, err)
	require.Equal(t, "order-1", out.OrderID)
}

func TestStore_Check_UnknownKeyIsNotFound(t *testing.T) {
	db := newTestDB(t)
	store := NewStoreWithFallback(unreachableRedisClient(), db, time.Minute)

	var out struct{ OrderID string }
	err := store.Check(context.Background(), Key("CreateOrder", "never-recorded"), &out)
	require.ErrorIs(t, err, ErrNotFound)
}
