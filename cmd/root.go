// Package cmd wires the four cobra subcommands this service exposes —
// command-service, query-service, projection-worker, saga-worker — over
// a shared config/logging bootstrap.
package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/orders-platform/order-processing/config"
)

var (
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "order-processing",
	Short: "Order processing backbone: CQRS, event sourcing, and saga orchestration",
	Long:  `A service for processing orders using event sourcing, CQRS, and saga-coordinated cross-aggregate workflows.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initLogging)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.* in . or ./config, else app.env)")
}

func initConfig() {
	var err error

	if cfgFile != "" {
		config.SetConfigFile(cfgFile)
	}

	cfg, err = config.LoadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
}

// initLogging configures zerolog's global level and writer from
// config.LogLevel/LogFormat, the way sibling services
// (sales, sales-service) configure logging in main.go before executing
// the root command.
func initLogging() {
	if cfg.LogFormat != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	switch cfg.LogLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
