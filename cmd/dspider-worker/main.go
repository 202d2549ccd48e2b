// The worker node: consumes tasks and runs the configured spider strategy.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/blankors/dspider/internal/app"
	"github.com/blankors/dspider/internal/common"
	"github.com/blankors/dspider/internal/services/executor"
	"github.com/blankors/dspider/internal/spiders"
)

var (
	configPath  = flag.String("config", "", "Configuration file path (default: discover from config/ via DSPIDER_ENV)")
	showVersion = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("dspider-worker %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	config, err := common.LoadFromFile(*configPath)
	if err != nil {
		common.GetLogger().Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger := common.SetupLogger(config)
	common.PrintBanner("worker", config, logger)

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
	if err := a.WithObjects(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Object store init failed")
		os.Exit(1)
	}
	a.WithFetcher()
	defer a.Close(context.Background())

	deps := spiders.Deps{
		Fetcher:      a.Fetcher,
		Datasource:   a.Store,
		Objects:      a.Objects,
		Logger:       logger,
		Bucket:       config.Minio.Bucket,
		PageDelay:    config.Worker.PageDelay.Std(),
		DedupMaxURLs: config.Worker.DedupMaxURLs,
	}

	node, err := executor.New(config.Worker, a.Broker, a.Store, deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Executor init failed")
		os.Exit(1)
	}

	if err := node.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Executor exited with error")
		os.Exit(1)
	}

	logger.Info().Msg("Worker stopped")
}
