// Package executor implements the worker node: it consumes tasks from the
// broker and dispatches each to the configured spider strategy.
package executor

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/blankors/dspider/internal/common"
	"github.com/blankors/dspider/internal/dserrors"
	"github.com/blankors/dspider/internal/interfaces"
	"github.com/blankors/dspider/internal/models"
	"github.com/blankors/dspider/internal/spiders"
)

// Executor is a single-consumer worker: prefetch bounded, manual acks,
// strictly serial task processing. Parallelism comes from running more
// executor processes.
type Executor struct {
	cfg        common.WorkerConfig
	broker     interfaces.Broker
	datasource interfaces.DatasourceStore
	spider     interfaces.Spider
	logger     arbor.ILogger
	workerID   string
}

// New resolves the configured spider strategy and builds the executor.
// An unregistered spider name fails construction with UNKNOWN_SPIDER.
func New(cfg common.WorkerConfig, broker interfaces.Broker, datasource interfaces.DatasourceStore, deps spiders.Deps, logger arbor.ILogger) (*Executor, error) {
	spider, err := spiders.New(cfg.SpiderName, deps)
	if err != nil {
		return nil, err
	}

	workerID := common.NewWorkerID()
	logger.Info().
		Str("worker_id", workerID).
		Str("spider", cfg.SpiderName).
		Strs("registered", spiders.Names()).
		Msg("Executor created")

	return &Executor{
		cfg:        cfg,
		broker:     broker,
		datasource: datasource,
		spider:     spider,
		logger:     logger,
		workerID:   workerID,
	}, nil
}

// Run declares the task queue and consumes until the context is cancelled.
// The in-flight task is settled before returning; unacked messages are
// redelivered by the broker.
func (e *Executor) Run(ctx context.Context) error {
	if err := e.broker.DeclareQueue(e.cfg.TaskQueue); err != nil {
		return err
	}

	prefetch := e.cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}

	e.logger.Info().
		Str("worker_id", e.workerID).
		Str("queue", e.cfg.TaskQueue).
		Int("prefetch", prefetch).
		Msg("Executor consuming")

	return e.broker.Consume(ctx, e.cfg.TaskQueue, prefetch, e.handle)
}

// handle processes one delivery: deserialize, mark in progress, run the
// spider, and classify the outcome into an ack verdict. Ack on terminal
// classification (success or permanent error), nack+requeue on
// transport-class errors only. No panic escapes the consume loop.
func (e *Executor) handle(ctx context.Context, body []byte, meta interfaces.DeliveryMeta) (verdict interfaces.Ack) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("worker_id", e.workerID).
				Str("panic", describe(r)).
				Msg("Spider panicked, discarding task")
			verdict = interfaces.NackDiscard
		}
	}()

	task, err := models.TaskFromJSON(body)
	if err != nil {
		e.logger.Error().
			Str("worker_id", e.workerID).
			Err(err).
			Msg("Malformed task payload, discarding")
		return interfaces.NackDiscard
	}

	e.logger.Info().
		Str("worker_id", e.workerID).
		Str("datasource_id", task.ID).
		Bool("redelivered", meta.Redelivered).
		Msg("Task received")

	if err := e.datasource.SetState(ctx, task.ID, models.StateInProgress); err != nil {
		// The run proceeds; state is advisory and downstream is idempotent.
		e.logger.Warn().
			Str("datasource_id", task.ID).
			Err(err).
			Msg("Could not mark config in progress")
	}

	stat, err := e.spider.Start(ctx, task)

	switch {
	case err == nil:
		if serr := e.datasource.SetState(ctx, task.ID, models.StateDone); serr != nil {
			e.logger.Warn().Str("datasource_id", task.ID).Err(serr).Msg("Could not mark config done")
		}
		e.logger.Info().
			Str("worker_id", e.workerID).
			Str("datasource_id", task.ID).
			Str("stop_reason", stat.StopReason).
			Msg("Task completed")
		return interfaces.AckOK

	case dserrors.IsTransient(err):
		e.logger.Warn().
			Str("worker_id", e.workerID).
			Str("datasource_id", task.ID).
			Str("kind", string(dserrors.KindOf(err))).
			Err(err).
			Msg("Transient failure, requeueing task")
		if serr := e.datasource.SetState(ctx, task.ID, models.StateRetry); serr != nil {
			e.logger.Warn().Str("datasource_id", task.ID).Err(serr).Msg("Could not mark config for retry")
		}
		return interfaces.NackRequeue

	default:
		// Permanent per-message failure: mark failed and take the message
		// off the queue.
		e.logger.Error().
			Str("worker_id", e.workerID).
			Str("datasource_id", task.ID).
			Str("kind", string(dserrors.KindOf(err))).
			Err(err).
			Msg("Permanent failure, task discarded")
		if serr := e.datasource.SetState(ctx, task.ID, models.StateFailed); serr != nil {
			e.logger.Warn().Str("datasource_id", task.ID).Err(serr).Msg("Could not mark config failed")
		}
		return interfaces.AckOK
	}
}

func describe(r interface{}) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", r)
}
