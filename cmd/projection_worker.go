package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/orders-platform/order-processing/domain"
	"github.com/orders-platform/order-processing/eventstore"
	"github.com/orders-platform/order-processing/messaging"
	"github.com/orders-platform/order-processing/models"
	"github.com/orders-platform/order-processing/projections"
	"github.com/orders-platform/order-processing/readcache"
)

var projectionWorkerCmd = &cobra.Command{
	Use:   "projection-worker",
	Short: "Start the projection worker: fold order events into the read model",
	Run:   runProjectionWorker,
}

func init() {
	rootCmd.AddCommand(projectionWorkerCmd)
}

func runProjectionWorker(cmd *cobra.Command, args []string) {
	log.Info().Msg("starting projection worker")

	db, err := gorm.Open(postgres.Open(cfg.DBSource), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	if cfg.EnableMigrations {
		if err := db.AutoMigrate(&models.Event{}, &models.OrderView{}); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
	}

	store := eventstore.NewGormEventStore(db)

	// Elasticsearch is a best-effort secondary index; a worker must still
	// project into Postgres if the cluster is unreachable at startup.
	esClient, err := projections.NewElasticsearchClient(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("elasticsearch unavailable, projecting without search indexing")
		esClient = nil
	} else if err := projections.EnsureIndices(esClient, cfg); err != nil {
		log.Warn().Err(err).Msg("failed to ensure elasticsearch indices")
	}

	// The read cache sits in front of the query service; this worker only
	// needs to invalidate entries the moment its own writes make them
	// stale. A cache outage here must not stop projection.
	var cache *readcache.Cache
	redisOpts, err := redis.ParseURL(cfg.CacheURL)
	if err != nil {
		log.Warn().Err(err).Msg("invalid cache url, projecting without cache invalidation")
	} else {
		cache = readcache.New(redis.NewClient(redisOpts), cfg.CacheTTL)
	}

	projector := projections.NewOrderProjector(db, esClient, cache, cfg)

	processor := projections.NewEventProcessor(store, projector)
	go processor.Start()

	azureClient, err := messaging.NewAzureClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize Azure Service Bus")
	}

	router := messaging.NewRouter()
	for _, eventType := range []string{
		domain.OrderCreated,
		domain.OrderConfirmed,
		domain.OrderCancelled,
		domain.OrderShipped,
		domain.OrderDelivered,
	} {
		router.Register(eventType, projector.ProcessEvent)
	}

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	go func() {
		if err := azureClient.StartConsumers(consumerCtx, cfg.OrderEventsTopic, router); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("order events consumer stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down projection worker...")

	cancelConsumer()
	processor.Stop()

	log.Info().Msg("projection worker exited properly")
}
