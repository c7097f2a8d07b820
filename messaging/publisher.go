package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"github.com/orders-platform/order-processing/apperr"
	"github.com/orders-platform/order-processing/domain"
)

// Envelope is the wire format for every message this service publishes,
// read back by Router on the consuming side. It carries the full event
// identity (id, aggregate, version) so a subscriber can reconstruct a
// domain.Event without a second round trip to the store: the projection
// pipeline's version guard and the saga event log's redelivery dedup both
// key off Version and EventID.
type Envelope struct {
	EventID       string          `json:"event_id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	Metadata      domain.Metadata `json:"metadata"`
	Data          json.RawMessage `json:"data"`
}

// Publisher publishes domain events onto Service Bus topics, partitioned
// by aggregate id the way azservicebus sessions require for ordered,
// at-least-once delivery per aggregate.
type Publisher struct {
	client *azservicebus.Client

	mu      sync.Mutex
	senders map[string]*azservicebus.Sender
}

// NewPublisher wraps an existing Service Bus client as a Publisher.
func NewPublisher(client *azservicebus.Client) *Publisher {
	return &Publisher{client: client, senders: make(map[string]*azservicebus.Sender)}
}

// Publish sends event onto topic, sessioned by event.AggregateID so a
// single aggregate's events are always processed in order by one
// consumer goroutine.
func (p *Publisher) Publish(ctx context.Context, topic string, event domain.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return apperr.Serialization("failed to marshal event payload", err)
	}

	envelope := Envelope{
		EventID:       event.ID,
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		EventType:     event.Type,
		EventVersion:  event.EventVersion,
		Version:       event.Version,
		CreatedAt:     event.Timestamp,
		Metadata:      event.Metadata,
		Data:          data,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return apperr.Serialization("failed to marshal event envelope", err)
	}

	sender, err := p.senderFor(ctx, topic)
	if err != nil {
		return apperr.Bus("failed to create sender", err)
	}

	sessionID := event.AggregateID
	messageID := event.ID
	msg := &azservicebus.Message{
		Body:      body,
		SessionID: &sessionID,
		MessageID: &messageID,
	}

	if err := sender.SendMessage(ctx, msg, nil); err != nil {
		return apperr.Bus("failed to send message", err)
	}

	return nil
}

func (p *Publisher) senderFor(ctx context.Context, topic string) (*azservicebus.Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sender, ok := p.senders[topic]; ok {
		return sender, nil
	}

	sender, err := p.client.NewSender(topic, nil)
	if err != nil {
		return nil, err
	}
	p.senders[topic] = sender
	return sender, nil
}
