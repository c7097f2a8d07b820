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
	"github.com/orders-platform/order-processing/projections"
	"github.com/orders-platform/order-processing/readcache"
)

var queryServiceCmd = &cobra.Command{
	Use:   "query-service",
	Short: "Start the order query API: read projected order views",
	Run:   runQueryService,
}

func init() {
	rootCmd.AddCommand(queryServiceCmd)
}

func runQueryService(cmd *cobra.Command, args []string) {
	log.Info().Msg("starting query service")

	db, err := gorm.Open(postgres.Open(cfg.DBSource), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	redisOpts, err := redis.ParseURL(cfg.CacheURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse cache url")
	}
	redisClient := redis.NewClient(redisOpts)
	cache := readcache.New(redisClient, cfg.CacheTTL)

	queryRepo := projections.NewOrderViewRepository(db)

	server := api.NewQueryServer(cfg, db, queryRepo, cache)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down query service...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("query service forced to shutdown")
	}

	log.Info().Msg("query service exited properly")
}
