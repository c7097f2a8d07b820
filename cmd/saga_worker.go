package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/orders-platform/order-processing/apperr"
	"github.com/orders-platform/order-processing/commandpipeline"
	"github.com/orders-platform/order-processing/domain"
	"github.com/orders-platform/order-processing/eventstore"
	"github.com/orders-platform/order-processing/idempotency"
	"github.com/orders-platform/order-processing/messaging"
	"github.com/orders-platform/order-processing/models"
	"github.com/orders-platform/order-processing/ordersaga"
	"github.com/orders-platform/order-processing/saga"
)

var sagaWorkerCmd = &cobra.Command{
	Use:   "saga-worker",
	Short: "Start the saga worker: coordinate reserve/authorize/confirm across aggregates",
	Run:   runSagaWorker,
}

func init() {
	rootCmd.AddCommand(sagaWorkerCmd)
}

// pipelineConfirmer adapts commandpipeline.Pipeline to ordersaga.OrderConfirmer,
// so the confirm_order step drives the same command pipeline the HTTP
// command adapter does rather than touching the event store directly.
type pipelineConfirmer struct {
	pipeline *commandpipeline.Pipeline
}

func (c *pipelineConfirmer) Confirm(ctx context.Context, orderID string) error {
	_, err := c.pipeline.ConfirmOrder(ctx, commandpipeline.ConfirmOrderCommand{
		CommandID: uuid.New().String(),
		OrderID:   orderID,
	})
	return err
}

func (c *pipelineConfirmer) Cancel(ctx context.Context, orderID, reason string) error {
	_, err := c.pipeline.CancelOrder(ctx, commandpipeline.CancelOrderCommand{
		CommandID: uuid.New().String(),
		OrderID:   orderID,
		Reason:    reason,
	})
	return err
}

// orderCreatedPayload is the subset of domain.OrderCreatedEvent the saga
// needs to seed its working data.
type orderCreatedPayload struct {
	OrderID         string                 `json:"order_id"`
	CustomerID      string                 `json:"customer_id"`
	Items           []domain.OrderItem     `json:"items"`
	TotalAmount     domain.Money           `json:"total_amount"`
	Currency        string                 `json:"currency"`
	ShippingAddress domain.ShippingAddress `json:"shipping_address"`
}

// sagaIDForOrder derives a stable saga instance id from an order id, so a
// redelivered OrderCreated event resolves to the same saga instance
// instead of starting a second one.
func sagaIDForOrder(orderID string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(ordersaga.SagaType+":"+orderID))
}

func runSagaWorker(cmd *cobra.Command, args []string) {
	log.Info().Msg("starting saga worker")

	db, err := gorm.Open(postgres.Open(cfg.DBSource), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	if cfg.EnableMigrations {
		if err := db.AutoMigrate(&models.SagaInstance{}, &models.SagaEventLog{}, &models.Event{}, &models.IdempotencyRecord{}); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
	}

	repo := saga.NewGormRepository(db)
	coordinator := saga.NewCoordinator(repo)

	azureClient, err := messaging.NewAzureClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize Azure Service Bus")
	}
	publisher := messaging.NewPublisher(azureClient.Client())

	// The confirm_order step drives the order aggregate through the same
	// command pipeline the HTTP command adapter uses, so it shares that
	// pipeline's idempotency gating and optimistic-concurrency retry.
	redisOpts, err := redis.ParseURL(cfg.CacheURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse cache url")
	}
	redisClient := redis.NewClient(redisOpts)
	idemStore := idempotency.NewStoreWithFallback(redisClient, db, cfg.IdempotencyTTL)
	store := eventstore.NewGormEventStore(db)
	pipeline := commandpipeline.New(store, idemStore, publisher, cfg.OrderEventsTopic, commandpipeline.WithMaxRetries(cfg.CommandMaxRetries))
	confirmer := &pipelineConfirmer{pipeline: pipeline}

	definition := ordersaga.Definition(publisher, confirmer)

	router := messaging.NewRouter()
	router.Register(domain.OrderCreated, func(ctx context.Context, event domain.Event) error {
		sagaID := sagaIDForOrder(event.AggregateID)

		// HasProcessed guards against this exact delivery of the
		// triggering event being handled twice - Service Bus's
		// at-least-once contract means the same OrderCreated message can
		// arrive again after it was already acted on.
		processed, err := repo.HasProcessed(ctx, sagaID, event.ID)
		if err != nil {
			log.Warn().Err(err).Str("order_id", event.AggregateID).Msg("failed to check saga event log, proceeding")
		} else if processed {
			return nil
		}

		if _, err := repo.Load(ctx, sagaID); err == nil {
			// The saga instance already exists (started by an earlier
			// delivery whose MarkProcessed call never landed, e.g. a
			// crash in between). Record this delivery as handled so a
			// further redelivery short-circuits above without touching
			// the coordinator again.
			if err := repo.MarkProcessed(ctx, sagaID, event.ID, event.Type); err != nil {
				log.Warn().Err(err).Str("order_id", event.AggregateID).Msg("failed to record saga trigger event as processed")
			}
			return nil
		} else if apperr.KindOf(err) != apperr.KindNotFound {
			log.Warn().Err(err).Str("order_id", event.AggregateID).Msg("failed to check for existing saga instance, proceeding")
		}

		raw, err := json.Marshal(event.Data)
		if err != nil {
			return err
		}

		var created orderCreatedPayload
		if err := json.Unmarshal(raw, &created); err != nil {
			return err
		}

		data := ordersaga.Data{
			OrderID:       created.OrderID,
			CustomerID:    created.CustomerID,
			Items:         created.Items,
			TotalAmount:   created.TotalAmount,
			Currency:      created.Currency,
			PaymentMethod: "default",
			CorrelationID: event.Metadata.CorrelationID,
		}
		payload, err := json.Marshal(data)
		if err != nil {
			return err
		}

		if _, err := coordinator.Start(ctx, sagaID, definition, payload); err != nil {
			log.Error().Err(err).Str("order_id", created.OrderID).Msg("order processing saga failed")
			return nil
		}

		if err := repo.MarkProcessed(ctx, sagaID, event.ID, event.Type); err != nil {
			log.Warn().Err(err).Str("order_id", event.AggregateID).Msg("failed to record saga trigger event as processed")
		}
		return nil
	})

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	go func() {
		if err := azureClient.StartConsumers(consumerCtx, cfg.OrderEventsTopic, router); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("order events consumer stopped")
		}
	}()

	ticker := time.NewTicker(cfg.SagaRetryInterval)
	tickerDone := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := coordinator.ResumeFailed(context.Background(), definition); err != nil {
					log.Error().Err(err).Msg("failed to resume interrupted saga instances")
				}
				if err := coordinator.RetryStalled(context.Background(), definition); err != nil {
					log.Error().Err(err).Msg("failed to retry stalled saga instances")
				}
			case <-tickerDone:
				return
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down saga worker...")

	cancelConsumer()
	ticker.Stop()
	close(tickerDone)

	log.Info().Msg("saga worker exited properly")
}
