package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/orders-platform/order-processing/api"
	"github.com/orders-platform/order-processing/commandpipeline"
	"github.com/orders-platform/order-processing/eventstore"
	"github.com/orders-platform/order-processing/idempotency"
	"github.com/orders-platform/order-processing/messaging"
	"github.com/orders-platform/order-processing/models"
)

var commandServiceCmd = &cobra.Command{
	Use:   "command-service",
	Short: "Start the order command API: create, confirm, cancel, ship, deliver",
	Run:   runCommandService,
}

func init() {
	rootCmd.AddCommand(commandServiceCmd)
}

func runCommandService(cmd *cobra.Command, args []string) {
	log.Info().Msg("starting command service")

	db, err := gorm.Open(postgres.Open(cfg.DBSource), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	if cfg.EnableMigrations {
		if err := db.AutoMigrate(
			&models.Event{},
			&models.Snapshot{},
			&models.IdempotencyRecord{},
			&models.OrderView{},
			&models.SagaInstance{},
			&models.SagaEventLog{},
		); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
	}

	store := eventstore.NewGormEventStore(db)

	azureClient, err := messaging.NewAzureClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize Azure Service Bus")
	}
	publisher := messaging.NewPublisher(azureClient.Client())

	redisOpts, err := redis.ParseURL(cfg.CacheURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse cache url")
	}
	redisClient := redis.NewClient(redisOpts)
	idemStore := idempotency.NewStoreWithFallback(redisClient, db, cfg.IdempotencyTTL)

	pipeline := commandpipeline.New(store, idemStore, publisher, cfg.OrderEventsTopic, commandpipeline.WithMaxRetries(cfg.CommandMaxRetries))

	server := api.NewCommandServer(cfg, db, pipeline)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down command service...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("command service forced to shutdown")
	}

	log.Info().Msg("command service exited properly")
}
