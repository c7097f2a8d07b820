package domain

import "time"

// Integration event type constants published onto the inventory-events and
// payment-events topics by the order processing saga's steps. Unlike the
// order aggregate's own event stream above, these never get appended to
// the event store under an aggregate id — they are fire-and-forget
// messages a downstream inventory/payment service would consume.
const (
	InventoryReserved = "V1_INVENTORY_RESERVED"
	InventoryReleased = "V1_INVENTORY_RELEASED"
	PaymentAuthorized = "V1_PAYMENT_AUTHORIZED"
	PaymentVoided     = "V1_PAYMENT_VOIDED"
)

// InventoryReservedEvent is published by the reserve_inventory saga step.
type InventoryReservedEvent struct {
	ReservationID string      `json:"reservation_id"`
	OrderID       string      `json:"order_id"`
	Items         []OrderItem `json:"items"`
	ReservedAt    time.Time   `json:"reserved_at"`
}

// InventoryReleasedEvent is published by reserve_inventory's compensation.
type InventoryReleasedEvent struct {
	ReservationID string      `json:"reservation_id"`
	OrderID       string      `json:"order_id"`
	Items         []OrderItem `json:"items"`
	ReleasedAt    time.Time   `json:"released_at"`
	Reason        string      `json:"reason"`
}

// PaymentAuthorizedEvent is published by the authorize_payment saga step.
type PaymentAuthorizedEvent struct {
	PaymentID         string    `json:"payment_id"`
	OrderID           string    `json:"order_id"`
	Amount            Money     `json:"amount"`
	Currency          string    `json:"currency"`
	PaymentMethod     string    `json:"payment_method"`
	AuthorizationCode string    `json:"authorization_code"`
	AuthorizedAt      time.Time `json:"authorized_at"`
}

// PaymentVoidedEvent is published by authorize_payment's compensation.
type PaymentVoidedEvent struct {
	PaymentID string    `json:"payment_id"`
	OrderID   string    `json:"order_id"`
	Amount    Money     `json:"amount"`
	Currency  string    `json:"currency"`
	Reason    string    `json:"reason"`
	VoidedAt  time.Time `json:"voided_at"`
}
