package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestItems() []OrderItem {
	return []OrderItem{
		{ProductID: "sku-1", Quantity: 2, UnitPrice: decimal.NewFromInt(10)},
	}
}

func TestOrderAggregate_Create(t *testing.T) {
	agg := NewOrderAggregate("order-1")

	err := agg.Create("customer-1", newTestItems(), "USD", ShippingAddress{Line1: "1 Main St", City: "Springfield", Country: "US"})
	require.NoError(t, err)

	require.Equal(t, OrderStatusCreated, agg.State.Status)
	require.Equal(t, "customer-1", agg.State.CustomerID)
	require.True(t, agg.State.TotalAmount.Equal(decimal.NewFromInt(20)))
	require.Equal(t, 1, agg.GetVersion())
	require.Len(t, agg.GetEvents(), 1)
}

func TestOrderAggregate_Create_RejectsEmptyItems(t *testing.T) {
	agg := NewOrderAggregate("order-1")

	err := agg.Create("customer-1", nil, "USD", ShippingAddress{})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNoItems)
}

func TestOrderAggregate_Create_RejectsInvalidQuantity(t *testing.T) {
	agg := NewOrderAggregate("order-1")

	items := []OrderItem{{ProductID: "sku-1", Quantity: 0, UnitPrice: decimal.NewFromInt(10)}}
	err := agg.Create("customer-1", items, "USD", ShippingAddress{})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestOrderAggregate_Create_RejectsSecondCreate(t *testing.T) {
	agg := NewOrderAggregate("order-1")
	require.NoError(t, agg.Create("customer-1", newTestItems(), "USD", ShippingAddress{}))

	err := agg.Create("customer-1", newTestItems(), "USD", ShippingAddress{})
	require.ErrorIs(t, err, ErrOrderAlreadyExists)
}

func TestOrderAggregate_FullLifecycle(t *testing.T) {
	agg := NewOrderAggregate("order-1")
	require.NoError(t, agg.Create("customer-1", newTestItems(), "USD", ShippingAddress{}))
	require.NoError(t, agg.Confirm())
	require.NoError(t, agg.Ship("TRACK123", "ups"))
	require.NoError(t, agg.Deliver("front desk"))

	require.Equal(t, OrderStatusDelivered, agg.State.Status)
	require.Equal(t, "TRACK123", agg.State.TrackingNumber)
	require.Equal(t, 4, agg.GetVersion())
}

func TestOrderAggregate_Cancel_CreatedIsAllowed(t *testing.T) {
	agg := NewOrderAggregate("order-1")
	require.NoError(t, agg.Create("customer-1", newTestItems(), "USD", ShippingAddress{}))

	require.NoError(t, agg.Cancel("changed my mind"))
	require.Equal(t, OrderStatusCancelled, agg.State.Status)
	require.Equal(t, "changed my mind", agg.State.CancelReason)
}

func TestOrderAggregate_Cancel_ShippedIsRejected(t *testing.T) {
	agg := NewOrderAggregate("order-1")
	require.NoError(t, agg.Create("customer-1", newTestItems(), "USD", ShippingAddress{}))
	require.NoError(t, agg.Confirm())
	require.NoError(t, agg.Ship("TRACK123", "ups"))

	err := agg.Cancel("too late")
	require.ErrorIs(t, err, ErrCannotCancelShipped)
}

func TestOrderAggregate_Confirm_RequiresCreatedStatus(t *testing.T) {
	agg := NewOrderAggregate("order-1")
	require.NoError(t, agg.Create("customer-1", newTestItems(), "USD", ShippingAddress{}))
	require.NoError(t, agg.Confirm())

	err := agg.Confirm()
	require.ErrorIs(t, err, ErrInvalidStateForOp)
}

func TestOrderAggregate_Ship_RequiresConfirmedStatus(t *testing.T) {
	agg := NewOrderAggregate("order-1")
	require.NoError(t, agg.Create("customer-1", newTestItems(), "USD", ShippingAddress{}))

	err := agg.Ship("TRACK123", "ups")
	require.ErrorIs(t, err, ErrInvalidStateForOp)
}
