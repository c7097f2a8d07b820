package commandpipeline

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/orders-platform/order-processing/apperr"
	"github.com/orders-platform/order-processing/domain"
	"github.com/orders-platform/order-processing/eventstore"
	"github.com/orders-platform/order-processing/idempotency"
	"github.com/orders-platform/order-processing/models"
)

// fakePublisher records every event handed to Publish; it never touches a
// real bus, so command pipeline tests exercise the store/idempotency logic
// without a broker.
type fakePublisher struct {
	published []domain.Event
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, event domain.Event) error {
	p.published = append(p.published, event)
	return nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *fakePublisher) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Event{}, &models.Snapshot{}))

	store := eventstore.NewGormEventStore(db)
	// Points at a port nothing listens on and sets no database fallback:
	// every idempotency check fails fast with ErrNotFound, so each command
	// is processed as new without a live Redis dependency.
	redisClient := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	idemStore := idempotency.NewStore(redisClient, time.Minute)
	publisher := &fakePublisher{}

	return New(store, idemStore, publisher, "order-events"), publisher
}

func testItems() []domain.OrderItem {
	return []domain.OrderItem{{ProductID: "sku-1", Quantity: 1, UnitPrice: decimal.NewFromInt(9)}}
}

func TestPipeline_CreateOrder(t *testing.T) {
	pipeline, publisher := newTestPipeline(t)

	agg, err := pipeline.CreateOrder(context.Background(), CreateOrderCommand{
		CommandID:  "cmd-1",
		CustomerID: "customer-1",
		Items:      testItems(),
		Currency:   "USD",
		ShippingAddress: domain.ShippingAddress{
			Line1: "1 Main St", City: "Springfield", PostalCode: "00000", Country: "US",
		},
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCreated, agg.State.Status)
	require.Len(t, publisher.published, 1)
	require.Equal(t, domain.OrderCreated, publisher.published[0].Type)
}

func TestPipeline_CreateOrder_ValidationFailure(t *testing.T) {
	pipeline, _ := newTestPipeline(t)

	_, err := pipeline.CreateOrder(context.Background(), CreateOrderCommand{
		CommandID: "cmd-1",
		Currency:  "USD",
	})
	require.Error(t, err)
}

func TestPipeline_ConfirmOrder(t *testing.T) {
	pipeline, publisher := newTestPipeline(t)
	ctx := context.Background()

	agg, err := pipeline.CreateOrder(ctx, CreateOrderCommand{
		CommandID:  "cmd-1",
		CustomerID: "customer-1",
		Items:      testItems(),
		Currency:   "USD",
		ShippingAddress: domain.ShippingAddress{
			Line1: "1 Main St", City: "Springfield", PostalCode: "00000", Country: "US",
		},
	})
	require.NoError(t, err)

	confirmed, err := pipeline.ConfirmOrder(ctx, ConfirmOrderCommand{CommandID: "cmd-2", OrderID: agg.GetID()})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusConfirmed, confirmed.State.Status)
	require.Len(t, publisher.published, 2)
}

// newTestPipelineWithIdempotencyDB shares one sqlite database between the
// event store and the idempotency store's database fallback, so a check
// against a previously recorded command id succeeds even with Redis
// unreachable - the scenario the idempotency gate exists for.
func newTestPipelineWithIdempotencyDB(t *testing.T) (*Pipeline, *fakePublisher, eventstore.EventStore) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Event{}, &models.Snapshot{}, &models.IdempotencyRecord{}))

	store := eventstore.NewGormEventStore(db)
	redisClient := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	idemStore := idempotency.NewStoreWithFallback(redisClient, db, time.Minute)
	publisher := &fakePublisher{}

	return New(store, idemStore, publisher, "order-events"), publisher, store
}

func TestPipeline_CreateOrder_IdempotentRetryDoesNotReDecide(t *testing.T) {
	pipeline, publisher, store := newTestPipelineWithIdempotencyDB(t)
	ctx := context.Background()

	cmd := CreateOrderCommand{
		CommandID:  "cmd-1",
		OrderID:    "order-fixed-1",
		CustomerID: "customer-1",
		Items:      testItems(),
		Currency:   "USD",
		ShippingAddress: domain.ShippingAddress{
			Line1: "1 Main St", City: "Springfield", PostalCode: "00000", Country: "US",
		},
	}

	first, err := pipeline.CreateOrder(ctx, cmd)
	require.NoError(t, err)

	second, err := pipeline.CreateOrder(ctx, cmd)
	require.NoError(t, err)

	require.Equal(t, first.GetID(), second.GetID())
	require.Equal(t, first.State.OrderNumber, second.State.OrderNumber)
	require.Len(t, publisher.published, 1)

	events, err := store.GetEvents(ctx, "order-fixed-1")
	require.NoError(t, err)

	created := 0
	for _, event := range events {
		if event.Type == domain.OrderCreated {
			created++
		}
	}
	require.Equal(t, 1, created)
}

func TestPipeline_ConfirmOrder_UnknownOrderReturnsNotFound(t *testing.T) {
	pipeline, _ := newTestPipeline(t)

	_, err := pipeline.ConfirmOrder(context.Background(), ConfirmOrderCommand{CommandID: "cmd-1", OrderID: "does-not-exist"})
	require.Error(t, err)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

// conflictOnceStore wraps a real EventStore and, on the first Append call
// for trackedOrderID, first pushes through a second, independent
// confirmation of the same order directly against the wrapped store -
// standing in for a concurrent writer that lands between this caller's
// load and its own append. The wrapped Append then genuinely observes a
// stale expectedVersion.
type conflictOnceStore struct {
	eventstore.EventStore
	trackedOrderID string
	triggered      bool
}

func (s *conflictOnceStore) Append(ctx context.Context, aggregate domain.Aggregate, expectedVersion int) error {
	if !s.triggered && aggregate.GetID() == s.trackedOrderID {
		s.triggered = true

		rival := domain.NewOrderAggregate(s.trackedOrderID)
		if err := s.EventStore.Load(ctx, rival); err != nil {
			return err
		}
		if err := rival.Confirm(); err != nil {
			return err
		}
		if err := s.EventStore.Append(ctx, rival, expectedVersion); err != nil {
			return err
		}
	}
	return s.EventStore.Append(ctx, aggregate, expectedVersion)
}

func TestPipeline_ConfirmOrder_LosingConcurrentConfirmReturnsConflict(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Event{}, &models.Snapshot{}))

	realStore := eventstore.NewGormEventStore(db)
	redisClient := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	idemStore := idempotency.NewStore(redisClient, time.Minute)
	publisher := &fakePublisher{}

	pipeline := New(realStore, idemStore, publisher, "order-events")
	ctx := context.Background()

	agg, err := pipeline.CreateOrder(ctx, CreateOrderCommand{
		CommandID:  "cmd-1",
		CustomerID: "customer-1",
		Items:      testItems(),
		Currency:   "USD",
		ShippingAddress: domain.ShippingAddress{
			Line1: "1 Main St", City: "Springfield", PostalCode: "00000", Country: "US",
		},
	})
	require.NoError(t, err)

	racyStore := &conflictOnceStore{EventStore: realStore, trackedOrderID: agg.GetID()}
	racyPipeline := New(racyStore, idemStore, publisher, "order-events")

	_, err = racyPipeline.ConfirmOrder(ctx, ConfirmOrderCommand{CommandID: "cmd-2", OrderID: agg.GetID()})
	require.Error(t, err)
	require.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestPipeline_CancelOrder_RejectsShippedOrder(t *testing.T) {
	pipeline, _ := newTestPipeline(t)
	ctx := context.Background()

	agg, err := pipeline.CreateOrder(ctx, CreateOrderCommand{
		CommandID:  "cmd-1",
		CustomerID: "customer-1",
		Items:      testItems(),
		Currency:   "USD",
		ShippingAddress: domain.ShippingAddress{
			Line1: "1 Main St", City: "Springfield", PostalCode: "00000", Country: "US",
		},
	})
	require.NoError(t, err)

	_, err = pipeline.ConfirmOrder(ctx, ConfirmOrderCommand{CommandID: "cmd-2", OrderID: agg.GetID()})
	require.NoError(t, err)

	_, err = pipeline.ShipOrder(ctx, ShipOrderCommand{CommandID: "cmd-3", OrderID: agg.GetID(), TrackingNumber: "T1", Carrier: "ups"})
	require.NoError(t, err)

	_, err = pipeline.CancelOrder(ctx, CancelOrderCommand{CommandID: "cmd-4", OrderID: agg.GetID(), Reason: "too late"})
	require.Error(t, err)
}
