package models

import "time"

// OrderView is the read-side projection of an order, persisted through
// GORM the way every other table in this service is.
type OrderView struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	OrderID         string    `gorm:"uniqueIndex" json:"order_id"`
	CustomerID      string    `gorm:"index" json:"customer_id"`
	OrderNumber     string    `gorm:"uniqueIndex" json:"order_number"`
	Status          string    `gorm:"index" json:"status"`
	TotalAmount     string    `json:"total_amount"`
	Currency        string    `json:"currency"`
	Items           []byte    `json:"items"`
	ShippingAddress []byte    `json:"shipping_address"`
	TrackingNumber  string    `json:"tracking_number"`
	Carrier         string    `json:"carrier"`
	Version         int       `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
