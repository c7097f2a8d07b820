package eventstore

import (
	"context"
	"time"

	"github.com/orders-platform/order-processing/domain"
)

// EventStore is the interface for the append-only event log. Append
// takes the caller's expectedVersion and returns *apperr.Conflict when
// the stream has moved past it, the optimistic-concurrency check every
// write goes through.
type EventStore interface {
	// Append persists aggregate's uncommitted events, failing with
	// *apperr.Conflict if the aggregate's current stored version does not
	// equal expectedVersion.
	Append(ctx context.Context, aggregate domain.Aggregate, expectedVersion int) error

	// Load rehydrates aggregate from its full event history.
	Load(ctx context.Context, aggregate domain.Aggregate) error

	// LoadFrom rehydrates aggregate starting at the given snapshot version,
	// applying only events with version > fromVersion.
	LoadFrom(ctx context.Context, aggregate domain.Aggregate, fromVersion int) error

	// Exists checks if an aggregate has any recorded events.
	Exists(ctx context.Context, aggregateID string) (bool, error)

	// CurrentVersion returns the highest persisted version for aggregateID,
	// or 0 if the aggregate does not exist.
	CurrentVersion(ctx context.Context, aggregateID string) (int, error)

	// GetEvents gets all events for an aggregate, ordered by version.
	GetEvents(ctx context.Context, aggregateID string) ([]domain.Event, error)

	// GetUnprocessedEvents gets events not yet marked by
	// MarkEventAsProcessed, oldest first.
	GetUnprocessedEvents(ctx context.Context, limit int) ([]domain.Event, error)

	// MarkEventAsProcessed marks an event as consumed by the projection
	// pipeline's polling fallback.
	MarkEventAsProcessed(ctx context.Context, eventID string) error

	// QueryEvents supports the replay service's all-aggregates case, which
	// the append-per-aggregate API above cannot answer: a direct,
	// filterable query across the whole event log.
	QueryEvents(ctx context.Context, filter EventFilter) ([]domain.Event, error)
}

// EventFilter narrows a QueryEvents call. A zero-value field means
// "unfiltered" for that dimension.
type EventFilter struct {
	From       time.Time
	To         time.Time
	EventTypes []string
	Limit      int
}
