package eventstore

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/orders-platform/order-processing/apperr"
	"github.com/orders-platform/order-processing/domain"
	"github.com/orders-platform/order-processing/models"
)

func newTestStore(t *testing.T) *GormEventStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Event{}, &models.Snapshot{}))

	return NewGormEventStore(db)
}

func createTestOrder(t *testing.T, store *GormEventStore, orderID string) *domain.OrderAggregate {
	t.Helper()

	agg := domain.NewOrderAggregate(orderID)
	require.NoError(t, agg.Create("customer-1", []domain.OrderItem{
		{ProductID: "sku-1", Quantity: 1, UnitPrice: decimal.NewFromInt(5)},
	}, "USD", domain.ShippingAddress{}))
	return agg
}

func TestGormEventStore_AppendAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agg := domain.NewOrderAggregate("order-1")
	require.NoError(t, agg.Create("customer-1", []domain.OrderItem{
		{ProductID: "sku-1", Quantity: 2, UnitPrice: decimal.NewFromInt(5)},
	}, "USD", domain.ShippingAddress{}))

	require.NoError(t, store.Append(ctx, agg, 0))
	require.Empty(t, agg.GetEvents())

	reloaded := domain.NewOrderAggregate("order-1")
	require.NoError(t, store.Load(ctx, reloaded))
	require.Equal(t, 1, reloaded.GetVersion())
	require.Equal(t, domain.OrderStatusCreated, reloaded.State.Status)
}

func TestGormEventStore_Append_ConflictOnStaleVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agg := domain.NewOrderAggregate("order-1")
	require.NoError(t, agg.Create("customer-1", []domain.OrderItem{
		{ProductID: "sku-1", Quantity: 1, UnitPrice: decimal.NewFromInt(5)},
	}, "USD", domain.ShippingAddress{}))
	require.NoError(t, store.Append(ctx, agg, 0))

	stale := domain.NewOrderAggregate("order-1")
	require.NoError(t, stale.Create("customer-1", []domain.OrderItem{
		{ProductID: "sku-1", Quantity: 1, UnitPrice: decimal.NewFromInt(5)},
	}, "USD", domain.ShippingAddress{}))

	err := store.Append(ctx, stale, 0)
	require.Error(t, err)
	_, isConflict := apperr.AsConflict(err)
	require.True(t, isConflict)
}

func TestGormEventStore_LoadFrom_SkipsEarlierVersions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agg := createTestOrder(t, store, "order-1")
	require.NoError(t, store.Append(ctx, agg, 0))

	reloaded := domain.NewOrderAggregate("order-1")
	require.NoError(t, store.Load(ctx, reloaded))
	require.NoError(t, reloaded.Confirm())
	require.NoError(t, store.Append(ctx, reloaded, 1))

	partial := domain.NewOrderAggregate("order-1")
	require.NoError(t, store.LoadFrom(ctx, partial, 1))
	require.Equal(t, domain.OrderStatusConfirmed, partial.State.Status)
	require.Equal(t, 2, partial.GetVersion())
}

func TestGormEventStore_GetUnprocessedEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agg := createTestOrder(t, store, "order-1")
	require.NoError(t, store.Append(ctx, agg, 0))

	events, err := store.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.NoError(t, store.MarkEventAsProcessed(ctx, events[0].ID))

	remaining, err := store.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestGormEventStore_Exists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exists, err := store.Exists(ctx, "missing-order")
	require.NoError(t, err)
	require.False(t, exists)

	agg := createTestOrder(t, store, "order-1")
	require.NoError(t, store.Append(ctx, agg, 0))

	exists, err = store.Exists(ctx, "order-1")
	require.NoError(t, err)
	require.True(t, exists)
}
