package commandpipeline

import "github.com/orders-platform/order-processing/domain"

// CreateOrderCommand creates a new order. OrderID is optional; an empty
// value gets a generated uuid so a client that doesn't care about a
// specific id doesn't have to supply one.
type CreateOrderCommand struct {
	CommandID       string                 `json:"command_id" validate:"required"`
	OrderID         string                 `json:"order_id"`
	CustomerID      string                 `json:"customer_id" validate:"required"`
	Items           []domain.OrderItem     `json:"items" validate:"required,min=1,dive"`
	Currency        string                 `json:"currency" validate:"required,len=3"`
	ShippingAddress domain.ShippingAddress `json:"shipping_address" validate:"required"`
}

// ConfirmOrderCommand confirms a Created order.
type ConfirmOrderCommand struct {
	CommandID string `json:"command_id" validate:"required"`
	OrderID   string `json:"order_id" validate:"required"`
}

// CancelOrderCommand cancels a Created or Confirmed order.
type CancelOrderCommand struct {
	CommandID string `json:"command_id" validate:"required"`
	OrderID   string `json:"order_id" validate:"required"`
	Reason    string `json:"reason" validate:"required"`
}

// ShipOrderCommand transitions a Confirmed order to Shipped.
type ShipOrderCommand struct {
	CommandID      string `json:"command_id" validate:"required"`
	OrderID        string `json:"order_id" validate:"required"`
	TrackingNumber string `json:"tracking_number" validate:"required"`
	Carrier        string `json:"carrier" validate:"required"`
}

// DeliverOrderCommand transitions a Shipped order to Delivered.
type DeliverOrderCommand struct {
	CommandID  string `json:"command_id" validate:"required"`
	OrderID    string `json:"order_id" validate:"required"`
	ReceivedBy string `json:"received_by"`
}
