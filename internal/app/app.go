// Package app assembles the external collaborators each node needs. One App
// per process, built from config at startup and passed down explicitly — no
// package-level mutable singletons.
package app

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/blankors/dspider/internal/broker"
	"github.com/blankors/dspider/internal/common"
	"github.com/blankors/dspider/internal/httpclient"
	mongostore "github.com/blankors/dspider/internal/storage/mongo"
	miniostore "github.com/blankors/dspider/internal/storage/minio"
)

// App holds the per-process clients. Fields are nil until the matching
// With* initializer ran; each node only builds what it uses.
type App struct {
	Config  *common.Config
	Logger  arbor.ILogger
	Store   *mongostore.Store
	Broker  *broker.RabbitMQ
	Objects *miniostore.Store
	Fetcher *httpclient.Client
}

// New creates an empty App around config and logger.
func New(config *common.Config, logger arbor.ILogger) *App {
	return &App{Config: config, Logger: logger}
}

// WithStore connects the document store.
func (a *App) WithStore(ctx context.Context) error {
	store, err := mongostore.NewStore(ctx, a.Config.MongoDB, a.Logger)
	if err != nil {
		return err
	}
	a.Store = store
	return nil
}

// WithBroker connects the message broker.
func (a *App) WithBroker() error {
	b, err := broker.NewRabbitMQ(a.Config.RabbitMQ.URL(), a.Logger)
	if err != nil {
		return err
	}
	a.Broker = b
	return nil
}

// WithObjects builds the object-store client and ensures the results bucket
// exists.
func (a *App) WithObjects(ctx context.Context) error {
	objects, err := miniostore.NewStore(a.Config.Minio, a.Logger)
	if err != nil {
		return err
	}
	if err := objects.EnsureBucket(ctx, a.Config.Minio.Bucket); err != nil {
		return err
	}
	a.Objects = objects
	return nil
}

// WithFetcher builds the HTTP fetcher.
func (a *App) WithFetcher() {
	a.Fetcher = httpclient.NewClient(a.Config.Fetcher, a.Logger)
}

// Close releases every client that was built.
func (a *App) Close(ctx context.Context) {
	if a.Broker != nil {
		if err := a.Broker.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Broker close failed")
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Store disconnect failed")
		}
	}
}
