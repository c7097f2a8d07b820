package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AggregateBase provides the common bookkeeping every aggregate needs:
// identity, version, and the list of not-yet-persisted events.
type AggregateBase struct {
	id            string
	aggregateType string
	version       int
	events        []Event
	applier       func(event interface{}) error
}

// Aggregate is the interface every aggregate type satisfies, letting the
// event store and command pipeline stay generic over the concrete state.
type Aggregate interface {
	GetID() string
	GetType() string
	GetVersion() int
	GetEvents() []Event
	ClearEvents()
	Apply(event interface{}) error
}

// NewAggregateBase creates a new aggregate base for the given id.
func NewAggregateBase(id, aggregateType string, applier func(interface{}) error) *AggregateBase {
	return &AggregateBase{
		id:            id,
		aggregateType: aggregateType,
		version:       0,
		events:        []Event{},
		applier:       applier,
	}
}

func (a *AggregateBase) GetID() string   { return a.id }
func (a *AggregateBase) GetType() string { return a.aggregateType }
func (a *AggregateBase) GetVersion() int { return a.version }
func (a *AggregateBase) GetEvents() []Event {
	return a.events
}
func (a *AggregateBase) ClearEvents() {
	a.events = []Event{}
}

// SetVersion is used by the event store after Load to seed the version an
// aggregate was rehydrated at, so the next Apply continues the sequence.
func (a *AggregateBase) SetVersion(v int) {
	a.version = v
}

// Apply folds event onto the aggregate's state via the applier closure and
// appends the resulting domain.Event, the way AggregateBase
// did, generalized to a single event-type switch for the order domain.
func (a *AggregateBase) Apply(event interface{}) error {
	if a.applier == nil {
		return fmt.Errorf("applier is not set")
	}

	if err := a.applier(event); err != nil {
		return fmt.Errorf("failed to apply event: %w", err)
	}

	domainEvent := Event{
		ID:            uuid.New().String(),
		AggregateID:   a.id,
		AggregateType: a.aggregateType,
		Version:       a.version + 1,
		EventVersion:  1,
		Timestamp:     time.Now(),
		Data:          event,
	}

	switch event.(type) {
	case OrderCreatedEvent:
		domainEvent.Type = OrderCreated
	case OrderConfirmedEvent:
		domainEvent.Type = OrderConfirmed
	case OrderCancelledEvent:
		domainEvent.Type = OrderCancelled
	case OrderShippedEvent:
		domainEvent.Type = OrderShipped
	case OrderDeliveredEvent:
		domainEvent.Type = OrderDelivered
	default:
		return fmt.Errorf("unknown event type: %T", event)
	}

	a.events = append(a.events, domainEvent)
	a.version++

	return nil
}
