package master

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/blankors/dspider/internal/common"
	"github.com/blankors/dspider/internal/dserrors"
	"github.com/blankors/dspider/internal/interfaces"
	"github.com/blankors/dspider/internal/models"
)

type fakeStore struct {
	configs  map[string]*models.DatasourceConfig
	claimErr error
}

func newFakeStore(configs ...models.DatasourceConfig) *fakeStore {
	s := &fakeStore{configs: make(map[string]*models.DatasourceConfig)}
	for i := range configs {
		cfg := configs[i]
		s.configs[cfg.ID] = &cfg
	}
	return s
}

func (s *fakeStore) FindDispatchable(ctx context.Context, limit int64) ([]models.DatasourceConfig, error) {
	var out []models.DatasourceConfig
	for _, cfg := range s.configs {
		if cfg.State == models.StateReady || cfg.State == models.StateRetry {
			out = append(out, *cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) FindAll(ctx context.Context) ([]models.DatasourceConfig, error) { return nil, nil }

func (s *fakeStore) ClaimReady(ctx context.Context, id string, from models.CrawlState) (bool, error) {
	if s.claimErr != nil {
		return false, s.claimErr
	}
	cfg, ok := s.configs[id]
	if !ok || cfg.State != from {
		return false, nil
	}
	cfg.State = models.StateDispatched
	cfg.DistributedAt = time.Now()
	return true, nil
}

func (s *fakeStore) SetState(ctx context.Context, id string, state models.CrawlState) error {
	if cfg, ok := s.configs[id]; ok {
		cfg.State = state
	}
	return nil
}

func (s *fakeStore) ResetAllToReady(ctx context.Context) (int64, error) {
	var n int64
	for _, cfg := range s.configs {
		cfg.State = models.StateReady
		n++
	}
	return n, nil
}

func (s *fakeStore) CountUnfinished(ctx context.Context) (int64, error) {
	var n int64
	for _, cfg := range s.configs {
		if cfg.State != models.StateDone {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) UpdateHeaders(ctx context.Context, url string, headers map[string]string) (int64, error) {
	return 0, nil
}

func (s *fakeStore) InsertListEntry(ctx context.Context, entry models.ListIndexEntry) error {
	return nil
}

type published struct {
	exchange   string
	routingKey string
	body       []byte
	priority   uint8
}

type fakeBroker struct {
	declaredQueues []string
	published      []published
	publishErr     error
}

func (b *fakeBroker) DeclareQueue(name string) error {
	b.declaredQueues = append(b.declaredQueues, name)
	return nil
}

func (b *fakeBroker) DeclareExchange(name string) error { return nil }

func (b *fakeBroker) BindQueue(queue, exchange, routingKey string) error { return nil }

func (b *fakeBroker) Publish(ctx context.Context, exchange, routingKey string, body []byte, priority uint8) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, published{exchange, routingKey, body, priority})
	return nil
}

func (b *fakeBroker) Consume(ctx context.Context, queue string, prefetch int, handler interfaces.Handler) error {
	return nil
}

func (b *fakeBroker) QueueDepth(name string) (int, error) { return len(b.published), nil }

func (b *fakeBroker) Reset() error { return nil }

func (b *fakeBroker) Close() error { return nil }

func testConfig(t *testing.T) common.MasterConfig {
	return common.MasterConfig{
		TaskQueue:       "task_queue",
		RoutingKey:      "task_queue",
		TaskBatchSize:   100,
		PollingInterval: common.Duration(time.Millisecond),
		FailureLogPath:  filepath.Join(t.TempDir(), "failed_status_updates.txt"),
	}
}

func TestMaster_DispatchesReadyConfigsByPriority(t *testing.T) {
	store := newFakeStore(
		models.DatasourceConfig{ID: "low", State: models.StateReady, Priority: 1},
		models.DatasourceConfig{ID: "high", State: models.StateReady, Priority: 5},
		models.DatasourceConfig{ID: "done", State: models.StateDone, Priority: 9},
	)
	b := &fakeBroker{}
	m := New(testConfig(t), store, b, nil, arbor.NewLogger())
	require.NoError(t, m.Init())

	dispatched, err := m.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, dispatched)

	require.Len(t, b.published, 2)
	assert.Equal(t, uint8(5), b.published[0].priority, "higher priority publishes first")
	assert.Equal(t, uint8(1), b.published[1].priority)

	var task models.Task
	require.NoError(t, json.Unmarshal(b.published[0].body, &task))
	assert.Equal(t, "high", task.ID)
	assert.Equal(t, 5, task.Priority, "priority also rides in the payload")
	assert.NotZero(t, task.Timestamp)

	assert.Equal(t, models.StateDispatched, store.configs["high"].State)
	assert.Equal(t, models.StateDispatched, store.configs["low"].State)
	assert.False(t, store.configs["high"].DistributedAt.IsZero())
	assert.Equal(t, models.StateDone, store.configs["done"].State, "finished configs are untouched")
}

func TestMaster_RetryStateIsDispatchable(t *testing.T) {
	store := newFakeStore(
		models.DatasourceConfig{ID: "retry-me", State: models.StateRetry},
	)
	b := &fakeBroker{}
	m := New(testConfig(t), store, b, nil, arbor.NewLogger())

	dispatched, err := m.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)
	assert.Equal(t, models.StateDispatched, store.configs["retry-me"].State)
}

func TestMaster_PublishErrorAbortsBatch(t *testing.T) {
	store := newFakeStore(
		models.DatasourceConfig{ID: "a", State: models.StateReady},
		models.DatasourceConfig{ID: "b", State: models.StateReady},
	)
	b := &fakeBroker{publishErr: dserrors.New(dserrors.KindTransport, "channel closed")}
	m := New(testConfig(t), store, b, nil, arbor.NewLogger())

	dispatched, err := m.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, dispatched)

	// Publish failed before any state transition, so both stay claimable.
	assert.Equal(t, models.StateReady, store.configs["a"].State)
	assert.Equal(t, models.StateReady, store.configs["b"].State)
}

func TestMaster_StateUpdateFailureIsLoggedNotRequeued(t *testing.T) {
	cfg := testConfig(t)
	store := newFakeStore(models.DatasourceConfig{ID: "a", State: models.StateReady})
	store.claimErr = dserrors.New(dserrors.KindTransport, "mongo down")
	b := &fakeBroker{}
	m := New(cfg, store, b, nil, arbor.NewLogger())

	dispatched, err := m.RunOnce(context.Background())
	require.NoError(t, err, "a failed state update must not abort the batch")
	assert.Equal(t, 1, dispatched)
	assert.Len(t, b.published, 1, "the task was still published")

	data, err := os.ReadFile(cfg.FailureLogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "a")
}

func TestMaster_RoundResetWhenAllDone(t *testing.T) {
	cfg := testConfig(t)
	cfg.EnableRounds = true
	store := newFakeStore(
		models.DatasourceConfig{ID: "a", State: models.StateDone},
		models.DatasourceConfig{ID: "b", State: models.StateDone},
	)
	b := &fakeBroker{}
	m := New(cfg, store, b, nil, arbor.NewLogger())

	dispatched, err := m.RunOnce(context.Background())
	require.NoError(t, err)

	// The reset flips everything back to READY, so the same iteration
	// dispatches the new round.
	assert.Equal(t, 2, dispatched)
}
