// The browser worker node: one long-lived headless browser consuming
// header-capture jobs.
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
	"github.com/blankors/dspider/internal/services/cookies"
)

var (
	configPath  = flag.String("config", "", "Configuration file path (default: discover from config/ via DSPIDER_ENV)")
	showVersion = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("dspider-browserworker %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	config, err := common.LoadFromFile(*configPath)
	if err != nil {
		common.GetLogger().Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger := common.SetupLogger(config)
	common.PrintBanner("browser-worker", config, logger)

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

	worker, err := cookies.NewBrowserWorker(config.Browser, a.Store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Browser init failed")
		os.Exit(1)
	}
	defer worker.Close()

	if err := cookies.ConsumeJobs(ctx, a.Broker, config.Cookies.Queue, worker, logger); err != nil {
		logger.Error().Err(err).Msg("Browser worker exited with error")
		os.Exit(1)
	}

	logger.Info().Msg("Browser worker stopped")
}
