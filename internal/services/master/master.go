// Package master implements the scheduler node: it claims dispatchable
// datasource configs from the document store and publishes them as broker
// tasks with at-least-once semantics.
package master

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/blankors/dspider/internal/common"
	"github.com/blankors/dspider/internal/interfaces"
	"github.com/blankors/dspider/internal/models"
)

const maxConsecutiveFailures = 5

// Rebuilder recreates the master's clients after repeated iteration
// failures. It returns fresh store and broker handles.
type Rebuilder func(ctx context.Context) (interfaces.DatasourceStore, interfaces.Broker, error)

// Master converts persistent DatasourceConfig rows into broker tasks. One
// cooperative loop, blocking sleeps, no internal parallelism.
type Master struct {
	cfg     common.MasterConfig
	store   interfaces.DatasourceStore
	broker  interfaces.Broker
	rebuild Rebuilder
	logger  arbor.ILogger
}

// New builds the master node. rebuild may be nil when client rebuilding is
// not wanted (tests).
func New(cfg common.MasterConfig, store interfaces.DatasourceStore, broker interfaces.Broker, rebuild Rebuilder, logger arbor.ILogger) *Master {
	return &Master{
		cfg:     cfg,
		store:   store,
		broker:  broker,
		rebuild: rebuild,
		logger:  logger,
	}
}

// Init declares the task queue and, when an exchange is configured, binds
// the queue to it. Empty-exchange direct-to-queue publishing is also valid.
func (m *Master) Init() error {
	if m.cfg.ExchangeName != "" {
		if err := m.broker.DeclareExchange(m.cfg.ExchangeName); err != nil {
			return err
		}
	}
	if err := m.broker.DeclareQueue(m.cfg.TaskQueue); err != nil {
		return err
	}
	if m.cfg.ExchangeName != "" {
		if err := m.broker.BindQueue(m.cfg.TaskQueue, m.cfg.ExchangeName, m.cfg.RoutingKey); err != nil {
			return err
		}
	}
	m.logger.Info().Str("queue", m.cfg.TaskQueue).Msg("Master initialized")
	return nil
}

// Run is the poll loop. It stops after finishing the current batch when the
// context is cancelled.
func (m *Master) Run(ctx context.Context) error {
	if err := m.Init(); err != nil {
		return err
	}

	consecutiveFailures := 0

	for {
		if ctx.Err() != nil {
			m.logger.Info().Msg("Master stopping")
			return nil
		}

		_, err := m.RunOnce(ctx)
		if err != nil {
			consecutiveFailures++
			m.logger.Error().
				Err(err).
				Int("consecutive_failures", consecutiveFailures).
				Msg("Master iteration failed")

			if consecutiveFailures >= maxConsecutiveFailures && m.rebuild != nil {
				m.logger.Warn().Msg("Rebuilding master clients after repeated failures")
				store, broker, rerr := m.rebuild(ctx)
				if rerr != nil {
					m.logger.Error().Err(rerr).Msg("Client rebuild failed")
				} else {
					m.store = store
					m.broker = broker
					if ierr := m.Init(); ierr != nil {
						m.logger.Error().Err(ierr).Msg("Re-init after rebuild failed")
					}
					consecutiveFailures = 0
				}
			}
		} else {
			consecutiveFailures = 0
		}

		// An empty batch sleeps the full poll interval; a busy master keeps
		// the same minimum pacing so the store isn't hammered.
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Master stopping")
			return nil
		case <-time.After(m.cfg.PollingInterval.Std()):
		}
	}
}

// RunOnce executes one batch: query dispatchable configs, publish each, and
// promote the published ones with a compare-and-set. Returns the number of
// tasks dispatched.
func (m *Master) RunOnce(ctx context.Context) (int, error) {
	if m.cfg.EnableRounds {
		m.maybeStartNextRound(ctx)
	}

	configs, err := m.store.FindDispatchable(ctx, m.cfg.TaskBatchSize)
	if err != nil {
		return 0, err
	}
	if len(configs) == 0 {
		return 0, nil
	}

	m.logger.Info().Int("batch", len(configs)).Msg("Dispatching datasource configs")

	dispatched := 0
	for i := range configs {
		cfg := &configs[i]
		if err := m.dispatchOne(ctx, cfg); err != nil {
			// A publish error aborts the batch; already-published ids have
			// been promoted.
			return dispatched, err
		}
		dispatched++
	}
	return dispatched, nil
}

// dispatchOne publishes a single config, then transitions its state. The
// state moves only after a successful publish so a publish failure leaves
// the row claimable.
func (m *Master) dispatchOne(ctx context.Context, cfg *models.DatasourceConfig) error {
	from := cfg.State

	task := models.Task{
		DatasourceConfig: *cfg,
		TaskID:           cfg.ID,
		Timestamp:        float64(time.Now().Unix()),
	}
	body, err := task.ToJSON()
	if err != nil {
		m.logger.Error().Str("datasource_id", cfg.ID).Err(err).Msg("Task serialization failed, skipping")
		return nil
	}

	priority := cfg.Priority
	if priority < 0 {
		priority = 0
	}
	if err := m.broker.Publish(ctx, m.cfg.ExchangeName, m.routingKey(), body, uint8(priority)); err != nil {
		return err
	}

	claimed, err := m.store.ClaimReady(ctx, cfg.ID, from)
	if err != nil {
		// Duplicate publish is preferable to silent loss; downstream is
		// idempotent. Record the id for the operator and move on.
		m.logger.Error().Str("datasource_id", cfg.ID).Err(err).Msg("State update failed after publish")
		m.recordUpdateFailure(cfg.ID)
		return nil
	}
	if !claimed {
		m.logger.Warn().Str("datasource_id", cfg.ID).Msg("Config claimed by another master, duplicate publish possible")
		return nil
	}

	m.logger.Info().
		Str("datasource_id", cfg.ID).
		Int("priority", priority).
		Msg("Task dispatched")
	return nil
}

func (m *Master) routingKey() string {
	if m.cfg.ExchangeName == "" {
		// Default exchange routes directly to the queue name.
		return m.cfg.TaskQueue
	}
	return m.cfg.RoutingKey
}

// maybeStartNextRound resets every config to READY when nothing is left in
// flight, opening the next crawl round.
func (m *Master) maybeStartNextRound(ctx context.Context) {
	unfinished, err := m.store.CountUnfinished(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Round check failed")
		return
	}
	if unfinished > 0 {
		return
	}
	reset, err := m.store.ResetAllToReady(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Round reset failed")
		return
	}
	if reset > 0 {
		m.logger.Info().Int("configs", int(reset)).Msg("All configs done, starting next round")
	}
}

// recordUpdateFailure appends an id to the operator-visible failure log.
// These configs were published but not promoted; they will be re-published
// next poll and deduplicated downstream.
func (m *Master) recordUpdateFailure(id string) {
	path := m.cfg.FailureLogPath
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		m.logger.Error().Err(err).Msg("Failure log directory create failed")
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failure log open failed")
		return
	}
	defer f.Close()

	line := fmt.Sprintf("%s,%s\n", time.Now().Format(time.RFC3339), strings.TrimSpace(id))
	if _, err := f.WriteString(line); err != nil {
		m.logger.Error().Err(err).Msg("Failure log write failed")
	}
}
