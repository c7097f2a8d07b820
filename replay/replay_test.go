package replay

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/orders-platform/order-processing/domain"
	"github.com/orders-platform/order-processing/eventstore"
	"github.com/orders-platform/order-processing/models"
)

func newTestStore(t *testing.T) eventstore.EventStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Event{}, &models.Snapshot{}))

	return eventstore.NewGormEventStore(db)
}

func seedOrder(t *testing.T, store eventstore.EventStore, orderID string) {
	t.Helper()
	ctx := context.Background()

	agg := domain.NewOrderAggregate(orderID)
	require.NoError(t, agg.Create("customer-1", []domain.OrderItem{
		{ProductID: "sku-1", Quantity: 1, UnitPrice: decimal.NewFromInt(5)},
	}, "USD", domain.ShippingAddress{}))
	require.NoError(t, store.Append(ctx, agg, 0))

	require.NoError(t, store.Load(ctx, agg))
	require.NoError(t, agg.Confirm())
	require.NoError(t, store.Append(ctx, agg, 1))
}

func TestService_ReplayAggregate(t *testing.T) {
	store := newTestStore(t)
	seedOrder(t, store, "order-1")

	service := NewService(store)

	var seen []string
	stats, err := service.ReplayAggregate(context.Background(), "order-1", func(ctx context.Context, event domain.Event) error {
		seen = append(seen, event.Type)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalEvents)
	require.Equal(t, 2, stats.ProcessedEvents)
	require.Equal(t, 0, stats.FailedEvents)
	require.Equal(t, []string{domain.OrderCreated, domain.OrderConfirmed}, seen)
}

func TestService_Replay_HandlerErrorDoesNotAbortBatch(t *testing.T) {
	store := newTestStore(t)
	seedOrder(t, store, "order-1")

	service := NewService(store)

	processed := 0
	stats, err := service.ReplayAggregate(context.Background(), "order-1", func(ctx context.Context, event domain.Event) error {
		if event.Type == domain.OrderCreated {
			return errors.New("boom")
		}
		processed++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalEvents)
	require.Equal(t, 1, stats.ProcessedEvents)
	require.Equal(t, 1, stats.FailedEvents)
	require.Equal(t, 1, processed)
}

func TestService_Current_ReturnsLastRun(t *testing.T) {
	store := newTestStore(t)
	seedOrder(t, store, "order-1")

	service := NewService(store)
	_, err := service.ReplayAggregate(context.Background(), "order-1", func(ctx context.Context, event domain.Event) error {
		return nil
	})
	require.NoError(t, err)

	require.Equal(t, 2, service.Current().ProcessedEvents)
}

type fakeRebuildable struct {
	cleared    bool
	processed  []domain.Event
}

func (f *fakeRebuildable) Clear(ctx context.Context) error {
	f.cleared = true
	return nil
}

func (f *fakeRebuildable) ProcessEvent(ctx context.Context, event domain.Event) error {
	f.processed = append(f.processed, event)
	return nil
}

func TestRebuild_ClearsThenReplays(t *testing.T) {
	store := newTestStore(t)
	seedOrder(t, store, "order-1")

	service := NewService(store)
	target := &fakeRebuildable{}

	stats, err := Rebuild(context.Background(), service, target, Config{AggregateIDs: []string{"order-1"}})
	require.NoError(t, err)
	require.True(t, target.cleared)
	require.Len(t, target.processed, 2)
	require.Equal(t, 2, stats.ProcessedEvents)
}
