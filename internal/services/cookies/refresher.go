// Package cookies implements the request-fingerprint refresh loop: a
// periodic producer that enqueues every datasource config, and a
// browser-driven worker that captures the headers of each config's
// nominated API request.
package cookies

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/blankors/dspider/internal/common"
	"github.com/blankors/dspider/internal/interfaces"
	"github.com/blankors/dspider/internal/models"
)

// Refresher periodically scans the datasource configs and publishes one
// browser job per config. It never touches crawl state; only
// request_params.headers is refreshed downstream.
type Refresher struct {
	cfg    common.CookiesConfig
	store  interfaces.DatasourceStore
	broker interfaces.Broker
	logger arbor.ILogger
}

// NewRefresher builds the refresh producer.
func NewRefresher(cfg common.CookiesConfig, store interfaces.DatasourceStore, broker interfaces.Broker, logger arbor.ILogger) *Refresher {
	return &Refresher{cfg: cfg, store: store, broker: broker, logger: logger}
}

// Run declares the job queue, performs one immediate scan, then scans on the
// configured interval until the context is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	if err := r.broker.DeclareQueue(r.cfg.Queue); err != nil {
		return err
	}

	r.scan(ctx)

	scheduler := cron.New()
	_, err := scheduler.AddFunc(fmt.Sprintf("@every %s", r.cfg.UpdateInterval), func() {
		r.scan(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule cookie refresh: %w", err)
	}

	scheduler.Start()
	defer scheduler.Stop()

	<-ctx.Done()
	r.logger.Info().Msg("Cookie refresher stopping")
	return nil
}

// scan enqueues a browser job for every config. Jobs carry a JSON-safe copy
// of the config; the opaque document-store _id never crosses the wire.
func (r *Refresher) scan(ctx context.Context) {
	configs, err := r.store.FindAll(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("Config scan failed")
		return
	}

	enqueued := 0
	for i := range configs {
		cfg := &configs[i]
		if cfg.SocialIndexURL == "" || cfg.RequestParams.APIURL == "" {
			continue
		}
		body, err := json.Marshal(cfg)
		if err != nil {
			r.logger.Error().Str("datasource_id", cfg.ID).Err(err).Msg("Job serialization failed")
			continue
		}
		if err := r.broker.Publish(ctx, "", r.cfg.Queue, body, 0); err != nil {
			r.logger.Error().Str("datasource_id", cfg.ID).Err(err).Msg("Job publish failed")
			continue
		}
		enqueued++
	}

	r.logger.Info().
		Int("configs", len(configs)).
		Int("enqueued", enqueued).
		Dur("next_in", r.cfg.UpdateInterval.Std()).
		Msg("Cookie refresh cycle complete")
}

// ConsumeJobs drives a BrowserJobRunner from the job queue. Jobs within one
// worker are serialized (prefetch 1); parallel refresh across sites comes
// from running more worker processes.
func ConsumeJobs(ctx context.Context, b interfaces.Broker, queue string, runner interfaces.BrowserJobRunner, logger arbor.ILogger) error {
	if err := b.DeclareQueue(queue); err != nil {
		return err
	}

	return b.Consume(ctx, queue, 1, func(ctx context.Context, body []byte, meta interfaces.DeliveryMeta) interfaces.Ack {
		var cfg models.DatasourceConfig
		if err := json.Unmarshal(body, &cfg); err != nil {
			logger.Error().Err(err).Msg("Malformed browser job, discarding")
			return interfaces.NackDiscard
		}

		start := time.Now()
		if err := runner.Run(ctx, &cfg); err != nil {
			logger.Warn().
				Str("datasource_id", cfg.ID).
				Str("url", cfg.SocialIndexURL).
				Err(err).
				Msg("Header capture failed")
			// Captures are retried on the next refresh cycle, not requeued;
			// a site that never fires the API request would loop forever.
			return interfaces.NackDiscard
		}

		logger.Info().
			Str("datasource_id", cfg.ID).
			Str("url", cfg.SocialIndexURL).
			Dur("elapsed", time.Since(start)).
			Msg("Headers refreshed")
		return interfaces.AckOK
	})
}
