package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"github.com/orders-platform/order-processing/config"
)

// AzureClient wraps the Service Bus client used to consume sessioned
// topics: every message is published under an aggregate id as its
// session id, so a single aggregate's events are always processed in
// order by one consumer goroutine at a time.
type AzureClient struct {
	client *azservicebus.Client
}

func NewAzureClient(cfg config.Config) (*AzureClient, error) {
	client, err := azservicebus.NewClientFromConnectionString(cfg.AzureQueueConnStr, nil)
	if err != nil {
		return nil, err
	}

	return &AzureClient{client: client}, nil
}

// Client returns the underlying Service Bus client, so a Publisher can be
// built against the same connection consumers subscribe through.
func (a *AzureClient) Client() *azservicebus.Client {
	return a.client
}

// StartConsumers blocks, accepting sessions from topicName one at a time
// and handing each off to a goroutine that drains it through processor.
func (a *AzureClient) StartConsumers(ctx context.Context, topicName string, processor MessageProcessor) error {
	log.Info().Str("topic", topicName).Msg("starting consumers")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		sessionReceiver, err := a.client.AcceptNextSessionForQueue(ctx, topicName, nil)
		if err != nil {
			var sbErr *azservicebus.Error
			if errors.As(err, &sbErr) && sbErr.Code == azservicebus.CodeTimeout {
				log.Debug().Str("topic", topicName).Msg("no session available, waiting")
				time.Sleep(2 * time.Second)
				continue
			}
			return err
		}

		log.Info().Str("session", sessionReceiver.SessionID()).Msg("session received")
		go a.handleSession(sessionReceiver, processor)
	}
}

func (a *AzureClient) handleSession(receiver *azservicebus.SessionReceiver, processor MessageProcessor) {
	defer func() {
		log.Info().Str("session", receiver.SessionID()).Msg("closing session")
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Str("session", receiver.SessionID()).Msg("error closing session")
		}
	}()

	for {
		messages, err := receiver.ReceiveMessages(context.Background(), 10, nil)
		if err != nil {
			log.Error().Err(err).Str("session", receiver.SessionID()).Msg("error receiving messages")
			return
		}

		if len(messages) == 0 {
			return
		}

		log.Info().Int("count", len(messages)).Str("session", receiver.SessionID()).Msg("received messages")

		for _, message := range messages {
			if err := processor.ProcessMessage(context.Background(), message); err != nil {
				log.Error().Err(err).Str("message_id", message.MessageID).Msg("error processing message")
				if abandonErr := receiver.AbandonMessage(context.Background(), message, nil); abandonErr != nil {
					log.Error().Err(abandonErr).Msg("error abandoning message")
				}
				continue
			}

			if err := receiver.CompleteMessage(context.Background(), message, nil); err != nil {
				log.Error().Err(err).Msg("error completing message")
			}
		}
	}
}
