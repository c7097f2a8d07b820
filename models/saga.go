package models

import "time"

// SagaInstance is the persisted form of saga.Instance, stored through
// GORM the way every other aggregate-adjacent table in this service is.
type SagaInstance struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SagaID      string    `gorm:"uniqueIndex" json:"saga_id"`
	SagaType    string    `gorm:"index" json:"saga_type"`
	CurrentStep int       `json:"current_step"`
	Steps       []byte    `json:"steps"`
	Data        []byte    `json:"data"`
	Status      string    `gorm:"index" json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SagaEventLog records every bus event a saga instance has consumed, so
// that redelivery of the event that triggers a saga step doesn't replay
// the step a second time, matching the at-least-once delivery guarantee
// every Service Bus session gives.
type SagaEventLog struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SagaID      string    `gorm:"index" json:"saga_id"`
	EventID     string    `gorm:"uniqueIndex:idx_saga_event_log_unique" json:"event_id"`
	EventType   string    `json:"event_type"`
	ProcessedAt time.Time `json:"processed_at"`
}
