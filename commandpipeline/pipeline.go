// Package commandpipeline is the write-side entry point: validate a
// command, gate it against the idempotency store, load the aggregate,
// apply the command's decision, append the resulting events under
// optimistic concurrency with bounded retry, publish them, then record
// the command as handled.
package commandpipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/orders-platform/order-processing/apperr"
	"github.com/orders-platform/order-processing/domain"
	"github.com/orders-platform/order-processing/eventstore"
	"github.com/orders-platform/order-processing/idempotency"
)

const defaultMaxRetries = 3

// Publisher delivers a committed event onto the bus, partitioned by the
// event's aggregate id the way the Azure Service Bus producer sessions
// every message.
type Publisher interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
}

// Pipeline is the order aggregate's command handler.
type Pipeline struct {
	store       eventstore.EventStore
	idempotency *idempotency.Store
	publisher   Publisher
	validate    *validator.Validate
	topic       string
	maxRetries  int
}

// Option configures a Pipeline at construction.
type Option func(*Pipeline)

// WithMaxRetries overrides the default bounded retry count for
// concurrency conflicts.
func WithMaxRetries(n int) Option {
	return func(p *Pipeline) { p.maxRetries = n }
}

// New creates a command pipeline publishing order events onto topic.
func New(store eventstore.EventStore, idem *idempotency.Store, publisher Publisher, topic string, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       store,
		idempotency: idem,
		publisher:   publisher,
		validate:    validator.New(),
		topic:       topic,
		maxRetries:  defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) validateCommand(cmd interface{}) error {
	if err := p.validate.Struct(cmd); err != nil {
		return apperr.Validation("command failed validation", err)
	}
	return nil
}

// CreateOrder validates and executes a CreateOrderCommand.
func (p *Pipeline) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*domain.OrderAggregate, error) {
	if err := p.validateCommand(cmd); err != nil {
		return nil, err
	}

	orderID := cmd.OrderID
	if orderID == "" {
		orderID = uuid.New().String()
	}

	return p.execute(ctx, "CreateOrder", cmd.CommandID, orderID, false, func(a *domain.OrderAggregate) error {
		return a.Create(cmd.CustomerID, cmd.Items, cmd.Currency, cmd.ShippingAddress)
	})
}

// ConfirmOrder validates and executes a ConfirmOrderCommand.
func (p *Pipeline) ConfirmOrder(ctx context.Context, cmd ConfirmOrderCommand) (*domain.OrderAggregate, error) {
	if err := p.validateCommand(cmd); err != nil {
		return nil, err
	}
	return p.execute(ctx, "ConfirmOrder", cmd.CommandID, cmd.OrderID, true, func(a *domain.OrderAggregate) error {
		return a.Confirm()
	})
}

// CancelOrder validates and executes a CancelOrderCommand.
func (p *Pipeline) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (*domain.OrderAggregate, error) {
	if err := p.validateCommand(cmd); err != nil {
		return nil, err
	}
	return p.execute(ctx, "CancelOrder", cmd.CommandID, cmd.OrderID, true, func(a *domain.OrderAggregate) error {
		return a.Cancel(cmd.Reason)
	})
}

// ShipOrder validates and executes a ShipOrderCommand.
func (p *Pipeline) ShipOrder(ctx context.Context, cmd ShipOrderCommand) (*domain.OrderAggregate, error) {
	if err := p.validateCommand(cmd); err != nil {
		return nil, err
	}
	return p.execute(ctx, "ShipOrder", cmd.CommandID, cmd.OrderID, true, func(a *domain.OrderAggregate) error {
		return a.Ship(cmd.TrackingNumber, cmd.Carrier)
	})
}

// DeliverOrder validates and executes a DeliverOrderCommand.
func (p *Pipeline) DeliverOrder(ctx context.Context, cmd DeliverOrderCommand) (*domain.OrderAggregate, error) {
	if err := p.validateCommand(cmd); err != nil {
		return nil, err
	}
	return p.execute(ctx, "DeliverOrder", cmd.CommandID, cmd.OrderID, true, func(a *domain.OrderAggregate) error {
		return a.Deliver(cmd.ReceivedBy)
	})
}

// execute runs the idempotency-gate / existence-check / load / decide /
// append-with-retry / publish / record sequence common to every order
// command. requireExisting marks commands (everything but CreateOrder)
// that must fail with apperr.NotFound rather than a generic domain error
// when orderID has no recorded events.
func (p *Pipeline) execute(ctx context.Context, commandType, commandID, orderID string, requireExisting bool, decide func(*domain.OrderAggregate) error) (*domain.OrderAggregate, error) {
	key := idempotency.Key(commandType, commandID)

	var cached struct {
		OrderID string `json:"order_id"`
	}
	switch err := p.idempotency.Check(ctx, key, &cached); {
	case err == nil:
		// Command already handled; return the aggregate's current state
		// without re-deciding, so a retried request is a no-op.
		log.Info().Str("command_id", commandID).Str("command_type", commandType).Msg("command already processed, skipping")
		if cached.OrderID != "" {
			orderID = cached.OrderID
		}
		aggregate := domain.NewOrderAggregate(orderID)
		if err := p.store.Load(ctx, aggregate); err != nil {
			return nil, err
		}
		return aggregate, nil
	case errors.Is(err, idempotency.ErrNotFound):
		// Fall through to normal processing.
	default:
		// Idempotency store outage: log and proceed rather than block the
		// command on a cache being down.
		log.Warn().Err(err).Str("command_id", commandID).Msg("idempotency check unavailable, proceeding without it")
	}

	if requireExisting {
		exists, err := p.store.Exists(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, apperr.NotFound(fmt.Sprintf("order %s not found", orderID), domain.ErrOrderNotFound)
		}
	}

	var aggregate *domain.OrderAggregate
	var events []domain.Event
	var lostRace bool

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		aggregate = domain.NewOrderAggregate(orderID)
		if err := p.store.Load(ctx, aggregate); err != nil {
			return nil, err
		}

		expectedVersion := aggregate.GetVersion()

		if err := decide(aggregate); err != nil {
			if lostRace {
				// We already lost one race on this command: another writer's
				// append landed between our previous attempt and this reload,
				// and decide() now rejects the transition because that write
				// already applied it (or moved the aggregate past it). From
				// this caller's perspective that is a conflict, not a fresh
				// domain error.
				return nil, apperr.NewConflict(orderID, expectedVersion, expectedVersion)
			}
			return nil, err
		}

		events = aggregate.GetEvents()

		err := p.store.Append(ctx, aggregate, expectedVersion)
		if err == nil {
			break
		}

		if _, isConflict := apperr.AsConflict(err); isConflict && attempt < p.maxRetries {
			log.Warn().
				Str("order_id", orderID).
				Int("attempt", attempt+1).
				Msg("concurrency conflict appending order events, retrying")
			lostRace = true
			continue
		}
		return nil, err
	}

	for _, event := range events {
		if err := p.publisher.Publish(ctx, p.topic, event); err != nil {
			// The event is already durably committed; a publish failure is
			// logged and left for the polling fallback projection path to
			// pick up via GetUnprocessedEvents rather than failing the
			// command that already succeeded.
			log.Error().Err(err).Str("order_id", orderID).Str("event_type", event.Type).Msg("failed to publish event")
		}
	}

	if err := p.idempotency.Record(ctx, key, commandType, struct {
		OrderID string `json:"order_id"`
	}{OrderID: orderID}); err != nil {
		log.Warn().Err(err).Str("command_id", commandID).Msg("failed to record idempotency result")
	}

	return aggregate, nil
}
