package domain

import "time"

// EventType constants for the order aggregate's event stream.
const (
	OrderCreated   = "V1_ORDER_CREATED"
	OrderConfirmed = "V1_ORDER_CONFIRMED"
	OrderCancelled = "V1_ORDER_CANCELLED"
	OrderShipped   = "V1_ORDER_SHIPPED"
	OrderDelivered = "V1_ORDER_DELIVERED"
)

// Metadata carries request provenance alongside an event, as required for
// correlating a saga step's effects back to the command that triggered it.
type Metadata struct {
	CorrelationID string `json:"correlation_id"`
	CausationID   string `json:"causation_id"`
	ActorID       string `json:"actor_id"`
}

// Event is the envelope persisted for every state transition and carried
// across the bus. Metadata rides alongside the payload so the saga
// worker's correlation bookkeeping never has to reparse Data to find it.
type Event struct {
	ID            string      `json:"id"`
	AggregateID   string      `json:"aggregate_id"`
	AggregateType string      `json:"aggregate_type"`
	Type          string      `json:"type"`
	EventVersion  int         `json:"event_version"`
	Version       int         `json:"version"`
	Timestamp     time.Time   `json:"timestamp"`
	Metadata      Metadata    `json:"metadata"`
	Data          interface{} `json:"data"`
}

// OrderItem is a line item on an order.
type OrderItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
	UnitPrice Money  `json:"unit_price"`
}

// ShippingAddress is the delivery destination captured at order creation.
type ShippingAddress struct {
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required,len=2"`
}

// OrderCreatedEvent records the creation of an order and its initial items.
type OrderCreatedEvent struct {
	OrderID         string          `json:"order_id"`
	CustomerID      string          `json:"customer_id"`
	OrderNumber     string          `json:"order_number"`
	Items           []OrderItem     `json:"items"`
	TotalAmount     Money           `json:"total_amount"`
	Currency        string          `json:"currency"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
}

// OrderConfirmedEvent records that an order passed from Created to Confirmed.
type OrderConfirmedEvent struct {
	OrderID string `json:"order_id"`
}

// OrderCancelledEvent records cancellation, from either Created or Confirmed.
type OrderCancelledEvent struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// OrderShippedEvent records the transition from Confirmed to Shipped.
type OrderShippedEvent struct {
	OrderID        string `json:"order_id"`
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
}

// OrderDeliveredEvent records the transition from Shipped to Delivered.
type OrderDeliveredEvent struct {
	OrderID      string    `json:"order_id"`
	DeliveredAt  time.Time `json:"delivered_at"`
	ReceivedBy   string    `json:"received_by,omitempty"`
}
