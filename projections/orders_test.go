package projections

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/orders-platform/order-processing/config"
	"github.com/orders-platform/order-processing/domain"
	"github.com/orders-platform/order-processing/models"
)

func newTestProjector(t *testing.T) (*OrderProjector, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.OrderView{}))

	return NewOrderProjector(db, nil, nil, config.Config{}), db
}

func createdEvent(orderID string, version int) domain.Event {
	return domain.Event{
		ID:            "evt-" + orderID,
		AggregateID:   orderID,
		AggregateType: "order",
		Type:          domain.OrderCreated,
		Version:       version,
		Data: domain.OrderCreatedEvent{
			OrderID:     orderID,
			CustomerID:  "customer-1",
			OrderNumber: "ORD-1",
			Items:       []domain.OrderItem{{ProductID: "sku-1", Quantity: 1, UnitPrice: decimal.NewFromInt(9)}},
			TotalAmount: decimal.NewFromInt(9),
			Currency:    "USD",
		},
	}
}

func confirmedEvent(orderID string, version int) domain.Event {
	return domain.Event{
		ID:            "evt-confirm-" + orderID,
		AggregateID:   orderID,
		AggregateType: "order",
		Type:          domain.OrderConfirmed,
		Version:       version,
		Data:          domain.OrderConfirmedEvent{OrderID: orderID},
	}
}

func TestOrderProjector_ApplyCreated(t *testing.T) {
	projector, db := newTestProjector(t)
	ctx := context.Background()

	require.NoError(t, projector.Project(ctx, createdEvent("order-1", 1)))

	var view models.OrderView
	require.NoError(t, db.Where("order_id = ?", "order-1").First(&view).Error)
	require.Equal(t, domain.OrderStatusCreated, view.Status)
	require.Equal(t, 1, view.Version)
}

func TestOrderProjector_StatusTransition(t *testing.T) {
	projector, db := newTestProjector(t)
	ctx := context.Background()

	require.NoError(t, projector.Project(ctx, createdEvent("order-1", 1)))
	require.NoError(t, projector.Project(ctx, confirmedEvent("order-1", 2)))

	var view models.OrderView
	require.NoError(t, db.Where("order_id = ?", "order-1").First(&view).Error)
	require.Equal(t, domain.OrderStatusConfirmed, view.Status)
	require.Equal(t, 2, view.Version)
}

func TestOrderProjector_SkipsStaleEvent(t *testing.T) {
	projector, db := newTestProjector(t)
	ctx := context.Background()

	require.NoError(t, projector.Project(ctx, createdEvent("order-1", 1)))
	require.NoError(t, projector.Project(ctx, confirmedEvent("order-1", 2)))

	// Redelivery of the create event at version 1 must not undo the
	// confirmation already projected at version 2.
	require.NoError(t, projector.Project(ctx, createdEvent("order-1", 1)))

	var view models.OrderView
	require.NoError(t, db.Where("order_id = ?", "order-1").First(&view).Error)
	require.Equal(t, domain.OrderStatusConfirmed, view.Status)
	require.Equal(t, 2, view.Version)
}

func TestOrderProjector_Clear(t *testing.T) {
	projector, db := newTestProjector(t)
	ctx := context.Background()

	require.NoError(t, projector.Project(ctx, createdEvent("order-1", 1)))
	require.NoError(t, projector.Clear(ctx))

	var count int64
	require.NoError(t, db.Model(&models.OrderView{}).Count(&count).Error)
	require.Equal(t, int64(0), count)
}
