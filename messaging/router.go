package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"github.com/orders-platform/order-processing/domain"
)

// HandlerFunc processes a single event, reassembled from its Envelope.
type HandlerFunc func(ctx context.Context, event domain.Event) error

// MessageProcessor is what AzureClient.StartConsumers drains a session
// through, unchanged in shape from messaging.MessageProcessor.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error
}

// Router dispatches incoming bus messages to a registered handler by
// event type. The set of event types is open: projections, the saga
// coordinator's event-driven steps, and any future subscriber all
// register against the same router rather than a hardcoded switch.
type Router struct {
	handlers map[string]HandlerFunc
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Register adds (or replaces) the handler for eventType.
func (r *Router) Register(eventType string, handler HandlerFunc) {
	r.handlers[eventType] = handler
}

// ProcessMessage unwraps message's Envelope and dispatches it. An
// unregistered event type is logged and dropped rather than retried
// forever; a registered handler's error is returned so the caller
// abandons the message for redelivery.
func (r *Router) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	var envelope Envelope
	if err := json.Unmarshal(message.Body, &envelope); err != nil {
		return fmt.Errorf("error unmarshalling envelope: %w", err)
	}

	log.Info().Str("event_type", envelope.EventType).Str("message_id", message.MessageID).Msg("processing message")

	handler, ok := r.handlers[envelope.EventType]
	if !ok {
		log.Warn().Str("event_type", envelope.EventType).Msg("no handler registered, dropping message")
		return nil
	}

	event := domain.Event{
		ID:            envelope.EventID,
		AggregateID:   envelope.AggregateID,
		AggregateType: envelope.AggregateType,
		Type:          envelope.EventType,
		EventVersion:  envelope.EventVersion,
		Version:       envelope.Version,
		Timestamp:     envelope.CreatedAt,
		Metadata:      envelope.Metadata,
		Data:          envelope.Data,
	}

	return handler(ctx, event)
}
