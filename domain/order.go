package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orders-platform/order-processing/apperr"
)

// Order status values.
const (
	OrderStatusCreated   = "CREATED"
	OrderStatusConfirmed = "CONFIRMED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusShipped   = "SHIPPED"
	OrderStatusDelivered = "DELIVERED"
)

// Sentinel domain errors for the order aggregate's state machine.
var (
	ErrNoItems              = errors.New("order must have at least one item")
	ErrInvalidQuantity      = errors.New("item quantity must be positive")
	ErrInvalidPrice         = errors.New("item unit price must be positive")
	ErrOrderAlreadyExists   = errors.New("order already exists")
	ErrOrderNotFound        = errors.New("order not found")
	ErrInvalidStateForOp    = errors.New("order is not in a valid state for this operation")
	ErrCannotCancelShipped  = errors.New("cannot cancel an order that has already shipped")
	ErrCannotCancelDelivered = errors.New("cannot cancel a delivered order")
)

// OrderState is the folded state of the order aggregate.
type OrderState struct {
	OrderID         string
	CustomerID      string
	OrderNumber     string
	Status          string
	Items           []OrderItem
	TotalAmount     Money
	Currency        string
	ShippingAddress ShippingAddress
	TrackingNumber  string
	Carrier         string
	CancelReason    string
	DeliveredAt     time.Time
}

// OrderAggregate is the CQRS write-side aggregate for an order, composed
// from AggregateBase plus its own applyEvent state machine.
type OrderAggregate struct {
	*AggregateBase
	State OrderState
}

// NewOrderAggregate creates an (empty, version-0) order aggregate ready to
// either receive a Create command or be rehydrated by the event store.
func NewOrderAggregate(id string) *OrderAggregate {
	aggregate := &OrderAggregate{
		State: OrderState{OrderID: id},
	}
	aggregate.AggregateBase = NewAggregateBase(id, "order", aggregate.applyEvent)
	return aggregate
}

func (a *OrderAggregate) applyEvent(event interface{}) error {
	switch e := event.(type) {
	case OrderCreatedEvent:
		a.State.OrderID = e.OrderID
		a.State.CustomerID = e.CustomerID
		a.State.OrderNumber = e.OrderNumber
		a.State.Items = e.Items
		a.State.TotalAmount = e.TotalAmount
		a.State.Currency = e.Currency
		a.State.ShippingAddress = e.ShippingAddress
		a.State.Status = OrderStatusCreated

	case OrderConfirmedEvent:
		a.State.Status = OrderStatusConfirmed

	case OrderCancelledEvent:
		a.State.Status = OrderStatusCancelled
		a.State.CancelReason = e.Reason

	case OrderShippedEvent:
		a.State.Status = OrderStatusShipped
		a.State.TrackingNumber = e.TrackingNumber
		a.State.Carrier = e.Carrier

	case OrderDeliveredEvent:
		a.State.Status = OrderStatusDelivered
		a.State.DeliveredAt = e.DeliveredAt
	}

	return nil
}

// Create validates and applies an OrderCreatedEvent. It is only valid on a
// fresh (version-0) aggregate.
func (a *OrderAggregate) Create(customerID string, items []OrderItem, currency string, shippingAddress ShippingAddress) error {
	if a.GetVersion() != 0 {
		return apperr.Domain("order already created", ErrOrderAlreadyExists)
	}
	if len(items) == 0 {
		return apperr.Domain("cannot create order", ErrNoItems)
	}

	total := ZeroMoney()
	for _, item := range items {
		if item.Quantity <= 0 {
			return apperr.Domain("cannot create order", ErrInvalidQuantity)
		}
		if item.UnitPrice.Sign() <= 0 {
			return apperr.Domain("cannot create order", ErrInvalidPrice)
		}
		total = total.Add(item.UnitPrice.Mul(intToDecimal(item.Quantity)))
	}

	event := OrderCreatedEvent{
		OrderID:         a.GetID(),
		CustomerID:      customerID,
		OrderNumber:     generateOrderNumber(),
		Items:           items,
		TotalAmount:     total,
		Currency:        currency,
		ShippingAddress: shippingAddress,
	}

	return a.Apply(event)
}

// Confirm transitions Created -> Confirmed.
func (a *OrderAggregate) Confirm() error {
	if a.State.Status != OrderStatusCreated {
		return apperr.Domain(fmt.Sprintf("cannot confirm order in status %s", a.State.Status), ErrInvalidStateForOp)
	}
	return a.Apply(OrderConfirmedEvent{OrderID: a.GetID()})
}

// Cancel transitions Created or Confirmed -> Cancelled. Shipped and
// Delivered orders can never be cancelled.
func (a *OrderAggregate) Cancel(reason string) error {
	switch a.State.Status {
	case OrderStatusCreated, OrderStatusConfirmed:
		return a.Apply(OrderCancelledEvent{OrderID: a.GetID(), Reason: reason})
	case OrderStatusShipped:
		return apperr.Domain("cannot cancel shipped order", ErrCannotCancelShipped)
	case OrderStatusDelivered:
		return apperr.Domain("cannot cancel delivered order", ErrCannotCancelDelivered)
	default:
		return apperr.Domain(fmt.Sprintf("cannot cancel order in status %s", a.State.Status), ErrInvalidStateForOp)
	}
}

// Ship transitions Confirmed -> Shipped.
func (a *OrderAggregate) Ship(trackingNumber, carrier string) error {
	if a.State.Status != OrderStatusConfirmed {
		return apperr.Domain(fmt.Sprintf("cannot ship order in status %s", a.State.Status), ErrInvalidStateForOp)
	}
	return a.Apply(OrderShippedEvent{OrderID: a.GetID(), TrackingNumber: trackingNumber, Carrier: carrier})
}

// Deliver transitions Shipped -> Delivered.
func (a *OrderAggregate) Deliver(receivedBy string) error {
	if a.State.Status != OrderStatusShipped {
		return apperr.Domain(fmt.Sprintf("cannot deliver order in status %s", a.State.Status), ErrInvalidStateForOp)
	}
	return a.Apply(OrderDeliveredEvent{OrderID: a.GetID(), DeliveredAt: time.Now(), ReceivedBy: receivedBy})
}

func generateOrderNumber() string {
	return "ORD-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}

func intToDecimal(n int) Money {
	return moneyFromInt(n)
}
