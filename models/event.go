package models

import (
	"time"
)

// Event is the append-only event store row. CorrelationID/CausationID/
// ActorID are first-class columns rather than a buried JSON blob so they
// can be queried directly (CorrelationID is indexed), and the unique
// (aggregate_id, version) index is the storage-level backstop for the
// optimistic concurrency check in eventstore.GormEventStore.Append.
type Event struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	EventID       string    `gorm:"uniqueIndex" json:"event_id"`
	AggregateID   string    `gorm:"uniqueIndex:idx_events_aggregate_version" json:"aggregate_id"`
	AggregateType string    `gorm:"index" json:"aggregate_type"`
	EventType     string    `gorm:"index" json:"event_type"`
	EventVersion  int       `json:"event_version"`
	Data          []byte    `json:"data"`
	CorrelationID string    `gorm:"index" json:"correlation_id"`
	CausationID   string    `json:"causation_id"`
	ActorID       string    `json:"actor_id"`
	Version       int       `gorm:"uniqueIndex:idx_events_aggregate_version" json:"version"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
	Processed     bool      `gorm:"index" json:"processed"`
	Error         *string   `json:"error"`
}

// Snapshot is an advisory per-aggregate state blob. It is never consulted
// for correctness: the event store always verifies expected_version
// against the real stream on Append, and Load falls back to replaying
// every event past the snapshot's version.
type Snapshot struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AggregateID string    `gorm:"uniqueIndex" json:"aggregate_id"`
	Version     int       `json:"version"`
	State       []byte    `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
}

// IdempotencyRecord is the Postgres-backed audit trail mirroring the Redis
// idempotency store (idempotency.Store); the Redis key is the
// authoritative fast path, this table exists so an idempotent replay can
// be reconstructed even if the cache has expired or been flushed.
type IdempotencyRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Key         string    `gorm:"uniqueIndex" json:"key"`
	CommandType string    `json:"command_type"`
	Result      []byte    `json:"result"`
	CreatedAt   time.Time `json:"created_at"`
}
