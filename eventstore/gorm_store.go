package eventstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/orders-platform/order-processing/apperr"
	"github.com/orders-platform/order-processing/domain"
	"github.com/orders-platform/order-processing/models"
)

// GormEventStore implements EventStore using GORM: begin a transaction,
// read the aggregate's current max version, compare it to the caller's
// expectation, and fail with *apperr.Conflict before ever writing a row.
type GormEventStore struct {
	db *gorm.DB
}

// NewGormEventStore creates a new GORM event store.
func NewGormEventStore(db *gorm.DB) *GormEventStore {
	return &GormEventStore{db: db}
}

// Append persists aggregate's uncommitted events under an optimistic
// concurrency check.
func (s *GormEventStore) Append(ctx context.Context, aggregate domain.Aggregate, expectedVersion int) error {
	events := aggregate.GetEvents()
	if len(events) == 0 {
		return nil
	}

	aggregateID := aggregate.GetID()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var actual int64
		if err := tx.Model(&models.Event{}).
			Where("aggregate_id = ?", aggregateID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&actual).Error; err != nil {
			return apperr.Storage("failed to read current aggregate version", err)
		}

		if int(actual) != expectedVersion {
			return apperr.NewConflict(aggregateID, expectedVersion, int(actual))
		}

		for i, event := range events {
			data, err := json.Marshal(event.Data)
			if err != nil {
				return apperr.Serialization("failed to marshal event data", err)
			}

			dbEvent := models.Event{
				EventID:       event.ID,
				AggregateID:   event.AggregateID,
				AggregateType: event.AggregateType,
				EventType:     event.Type,
				EventVersion:  event.EventVersion,
				Data:          data,
				CorrelationID: event.Metadata.CorrelationID,
				CausationID:   event.Metadata.CausationID,
				ActorID:       event.Metadata.ActorID,
				Version:       expectedVersion + i + 1,
				CreatedAt:     event.Timestamp,
				Processed:     false,
			}

			if err := tx.Create(&dbEvent).Error; err != nil {
				// A unique-constraint violation on (aggregate_id, version) is
				// the same race the MAX(version) read above is meant to catch;
				// surface it identically rather than as a raw storage error.
				return apperr.NewConflict(aggregateID, expectedVersion, expectedVersion+i)
			}

			log.Info().
				Str("aggregateID", event.AggregateID).
				Str("eventType", event.Type).
				Int("version", dbEvent.Version).
				Msg("event appended")
		}

		aggregate.ClearEvents()
		return nil
	})

	return err
}

// Load rehydrates aggregate from its full event history.
func (s *GormEventStore) Load(ctx context.Context, aggregate domain.Aggregate) error {
	return s.LoadFrom(ctx, aggregate, 0)
}

// LoadFrom rehydrates aggregate starting past fromVersion.
func (s *GormEventStore) LoadFrom(ctx context.Context, aggregate domain.Aggregate, fromVersion int) error {
	aggregateID := aggregate.GetID()
	if aggregateID == "" {
		return apperr.Validation("aggregate ID is empty", nil)
	}

	var dbEvents []models.Event
	if err := s.db.WithContext(ctx).
		Where("aggregate_id = ? AND version > ?", aggregateID, fromVersion).
		Order("version ASC").
		Find(&dbEvents).Error; err != nil {
		return apperr.Storage("failed to load events", err)
	}

	if len(dbEvents) == 0 {
		return nil
	}

	for _, dbEvent := range dbEvents {
		eventData, err := unmarshalEventData(dbEvent.EventType, dbEvent.Data)
		if err != nil {
			return err
		}

		if err := aggregate.Apply(eventData); err != nil {
			return apperr.Domain("failed to apply event during load", err)
		}
	}

	if base, ok := aggregate.(interface{ SetVersion(int) }); ok {
		base.SetVersion(dbEvents[len(dbEvents)-1].Version)
	}

	aggregate.ClearEvents()
	return nil
}

func unmarshalEventData(eventType string, raw []byte) (interface{}, error) {
	var eventData interface{}

	switch eventType {
	case domain.OrderCreated:
		var data domain.OrderCreatedEvent
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, apperr.Serialization("failed to unmarshal event data", err)
		}
		eventData = data

	case domain.OrderConfirmed:
		var data domain.OrderConfirmedEvent
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, apperr.Serialization("failed to unmarshal event data", err)
		}
		eventData = data

	case domain.OrderCancelled:
		var data domain.OrderCancelledEvent
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, apperr.Serialization("failed to unmarshal event data", err)
		}
		eventData = data

	case domain.OrderShipped:
		var data domain.OrderShippedEvent
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, apperr.Serialization("failed to unmarshal event data", err)
		}
		eventData = data

	case domain.OrderDelivered:
		var data domain.OrderDeliveredEvent
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, apperr.Serialization("failed to unmarshal event data", err)
		}
		eventData = data

	default:
		return nil, apperr.Domain(fmt.Sprintf("unknown event type: %s", eventType), nil)
	}

	return eventData, nil
}

// Exists checks if an aggregate has any recorded events.
func (s *GormEventStore) Exists(ctx context.Context, aggregateID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("aggregate_id = ?", aggregateID).
		Count(&count).Error; err != nil {
		return false, apperr.Storage("failed to check if aggregate exists", err)
	}

	return count > 0, nil
}

// CurrentVersion returns the highest persisted version for aggregateID.
func (s *GormEventStore) CurrentVersion(ctx context.Context, aggregateID string) (int, error) {
	var version int64
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("aggregate_id = ?", aggregateID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&version).Error; err != nil {
		return 0, apperr.Storage("failed to read current aggregate version", err)
	}
	return int(version), nil
}

// GetEvents gets all events for an aggregate, ordered by version.
func (s *GormEventStore) GetEvents(ctx context.Context, aggregateID string) ([]domain.Event, error) {
	var dbEvents []models.Event
	if err := s.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("version ASC").
		Find(&dbEvents).Error; err != nil {
		return nil, apperr.Storage("failed to get events", err)
	}

	return toDomainEvents(dbEvents), nil
}

// GetUnprocessedEvents gets events not yet consumed by the polling
// fallback projection path.
func (s *GormEventStore) GetUnprocessedEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	var dbEvents []models.Event
	if err := s.db.WithContext(ctx).
		Where("processed = ?", false).
		Order("created_at ASC").
		Limit(limit).
		Find(&dbEvents).Error; err != nil {
		return nil, apperr.Storage("failed to get unprocessed events", err)
	}

	return toDomainEvents(dbEvents), nil
}

// MarkEventAsProcessed marks an event as processed.
func (s *GormEventStore) MarkEventAsProcessed(ctx context.Context, eventID string) error {
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("event_id = ?", eventID).
		Update("processed", true).Error; err != nil {
		return apperr.Storage("failed to mark event as processed", err)
	}

	return nil
}

// QueryEvents answers the replay service's all-aggregates case directly
// against the table, since a from/to timestamp scan across every
// aggregate has no aggregate id to load through.
func (s *GormEventStore) QueryEvents(ctx context.Context, filter EventFilter) ([]domain.Event, error) {
	q := s.db.WithContext(ctx).Model(&models.Event{}).Order("created_at ASC")

	if !filter.From.IsZero() {
		q = q.Where("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("created_at <= ?", filter.To)
	}
	if len(filter.EventTypes) > 0 {
		q = q.Where("event_type IN ?", filter.EventTypes)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var dbEvents []models.Event
	if err := q.Find(&dbEvents).Error; err != nil {
		return nil, apperr.Storage("failed to query events", err)
	}

	return toDomainEvents(dbEvents), nil
}

func toDomainEvents(dbEvents []models.Event) []domain.Event {
	events := make([]domain.Event, len(dbEvents))
	for i, dbEvent := range dbEvents {
		events[i] = domain.Event{
			ID:            dbEvent.EventID,
			AggregateID:   dbEvent.AggregateID,
			AggregateType: dbEvent.AggregateType,
			Type:          dbEvent.EventType,
			EventVersion:  dbEvent.EventVersion,
			Version:       dbEvent.Version,
			Timestamp:     dbEvent.CreatedAt,
			Metadata: domain.Metadata{
				CorrelationID: dbEvent.CorrelationID,
				CausationID:   dbEvent.CausationID,
				ActorID:       dbEvent.ActorID,
			},
			Data: json.RawMessage(dbEvent.Data),
		}
	}
	return events
}
