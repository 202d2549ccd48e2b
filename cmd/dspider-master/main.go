// The master node: polls the datasource configs and publishes dispatchable
// ones as broker tasks.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/blankors/dspider/internal/app"
	"github.com/blankors/dspider/internal/broker"
	"github.com/blankors/dspider/internal/common"
	"github.com/blankors/dspider/internal/interfaces"
	"github.com/blankors/dspider/internal/services/master"
	mongostore "github.com/blankors/dspider/internal/storage/mongo"
)

var (
	configPath  = flag.String("config", "", "Configuration file path (default: discover from config/ via DSPIDER_ENV)")
	showVersion = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("dspider-master %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	config, err := common.LoadFromFile(*configPath)
	if err != nil {
		common.GetLogger().Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger := common.SetupLogger(config)
	common.PrintBanner("master", config, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.New(config, logger)
	if err := a.WithStore(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Document store init failed")
		os.Exit(1)
	}
	if err := a.WithBroker(); err != nil {
		logger.Fatal().Err(err).Msg("Broker init failed")
		os.Exit(1)
	}
	defer a.Close(context.Background())

	rebuild := func(ctx context.Context) (interfaces.DatasourceStore, interfaces.Broker, error) {
		store, err := mongostore.NewStore(ctx, config.MongoDB, logger)
		if err != nil {
			return nil, nil, err
		}
		b, err := broker.NewRabbitMQ(config.RabbitMQ.URL(), logger)
		if err != nil {
			return nil, nil, err
		}
		return store, b, nil
	}

	node := master.New(config.Master, a.Store, a.Broker, rebuild, logger)
	if err := node.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Master exited with error")
		os.Exit(1)
	}

	logger.Info().Msg("Master stopped")
}
