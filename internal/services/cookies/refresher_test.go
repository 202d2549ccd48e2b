package cookies

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/blankors/dspider/internal/common"
	"github.com/blankors/dspider/internal/interfaces"
	"github.com/blankors/dspider/internal/models"
)

type fakeStore struct {
	configs []models.DatasourceConfig
	updates map[string]map[string]string
}

func newFakeStore(configs ...models.DatasourceConfig) *fakeStore {
	return &fakeStore{configs: configs, updates: make(map[string]map[string]string)}
}

func (s *fakeStore) FindDispatchable(ctx context.Context, limit int64) ([]models.DatasourceConfig, error) {
	return nil, nil
}

func (s *fakeStore) FindAll(ctx context.Context) ([]models.DatasourceConfig, error) {
	return s.configs, nil
}

func (s *fakeStore) ClaimReady(ctx context.Context, id string, from models.CrawlState) (bool, error) {
	return false, nil
}

func (s *fakeStore) SetState(ctx context.Context, id string, state models.CrawlState) error {
	return nil
}

func (s *fakeStore) ResetAllToReady(ctx context.Context) (int64, error) { return 0, nil }

func (s *fakeStore) CountUnfinished(ctx context.Context) (int64, error) { return 0, nil }

func (s *fakeStore) UpdateHeaders(ctx context.Context, url string, headers map[string]string) (int64, error) {
	s.updates[url] = headers
	return 1, nil
}

func (s *fakeStore) InsertListEntry(ctx context.Context, entry models.ListIndexEntry) error {
	return nil
}

type fakeBroker struct {
	declared  []string
	published [][]byte
}

func (b *fakeBroker) DeclareQueue(name string) error {
	b.declared = append(b.declared, name)
	return nil
}

func (b *fakeBroker) DeclareExchange(name string) error { return nil }

func (b *fakeBroker) BindQueue(queue, exchange, routingKey string) error { return nil }

func (b *fakeBroker) Publish(ctx context.Context, exchange, routingKey string, body []byte, priority uint8) error {
	b.published = append(b.published, body)
	return nil
}

func (b *fakeBroker) Consume(ctx context.Context, queue string, prefetch int, handler interfaces.Handler) error {
	return nil
}

func (b *fakeBroker) QueueDepth(name string) (int, error) { return 0, nil }

func (b *fakeBroker) Reset() error { return nil }

func (b *fakeBroker) Close() error { return nil }

func TestRefresher_ScanEnqueuesEligibleConfigs(t *testing.T) {
	store := newFakeStore(
		models.DatasourceConfig{
			ID:             "ds-1",
			SocialIndexURL: "https://s/home",
			RequestParams:  models.RequestParams{APIURL: "https://s/api/list"},
		},
		models.DatasourceConfig{
			ID: "ds-2", // no URLs, nothing for the browser to do
		},
	)
	b := &fakeBroker{}
	r := NewRefresher(common.CookiesConfig{Queue: "cookie_tasks", UpdateInterval: common.Duration(time.Hour)}, store, b, arbor.NewLogger())

	r.scan(context.Background())

	require.Len(t, b.published, 1)
	var job models.DatasourceConfig
	require.NoError(t, json.Unmarshal(b.published[0], &job))
	assert.Equal(t, "ds-1", job.ID)
	assert.Equal(t, "https://s/home", job.SocialIndexURL)
}

func TestRefresher_ScanIsRepeatable(t *testing.T) {
	store := newFakeStore(models.DatasourceConfig{
		ID:             "ds-1",
		SocialIndexURL: "https://s/home",
		RequestParams:  models.RequestParams{APIURL: "https://s/api/list"},
	})
	b := &fakeBroker{}
	r := NewRefresher(common.CookiesConfig{Queue: "cookie_tasks", UpdateInterval: common.Duration(time.Hour)}, store, b, arbor.NewLogger())

	r.scan(context.Background())
	r.scan(context.Background())

	// Back-to-back cycles publish identical jobs.
	require.Len(t, b.published, 2)
	assert.Equal(t, b.published[0], b.published[1])
}
