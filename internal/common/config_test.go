package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentEnvironment(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want string
	}{
		{"unset falls back to dev", "", "dev"},
		{"dev", "dev", "dev"},
		{"test", "test", "test"},
		{"prod", "prod", "prod"},
		{"uppercase normalized", "PROD", "prod"},
		{"unknown falls back to dev", "staging", "dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvVarName, tt.env)
			assert.Equal(t, tt.want, CurrentEnvironment())
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	t.Setenv(EnvVarName, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "dev.yaml")
	content := `
mongodb:
  host: db.example.com
  port: 27017
  db_name: dspider
master:
  task_queue: custom_queue
  task_batch_size: 42
  polling_interval: 3s
worker:
  page_delay: 250ms
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "db.example.com", cfg.MongoDB.Host)
	assert.Equal(t, "custom_queue", cfg.Master.TaskQueue)
	assert.Equal(t, int64(42), cfg.Master.TaskBatchSize)
	assert.Equal(t, 3*time.Second, cfg.Master.PollingInterval.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.PageDelay.Std())
	// Untouched sections keep their defaults.
	assert.Equal(t, "spider-results", cfg.Minio.Bucket)
	assert.Equal(t, "list_spider", cfg.Worker.SpiderName)
}

func TestLoadFromFile_JSON(t *testing.T) {
	t.Setenv(EnvVarName, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "dev.json")
	content := `{"rabbitmq": {"host": "mq.example.com", "port": 5673}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "mq.example.com", cfg.RabbitMQ.Host)
	assert.Equal(t, 5673, cfg.RabbitMQ.Port)
}

func TestLoadFromFile_EnvOverrides(t *testing.T) {
	t.Setenv(EnvVarName, "")
	t.Setenv("DSPIDER_MONGODB_HOST", "env-db")
	t.Setenv("DSPIDER_LOG_LEVEL", "debug")

	cfg, err := LoadFromFile("")
	require.NoError(t, err)

	assert.Equal(t, "env-db", cfg.MongoDB.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromFile_InvalidConfigIsFatal(t *testing.T) {
	t.Setenv(EnvVarName, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "dev.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mongodb:\n  port: 0\n"), 0o644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
}

func TestDiscoverConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.yaml"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("{}"), 0o644))

	t.Setenv(EnvVarName, "test")
	assert.Equal(t, filepath.Join(dir, "test.yaml"), DiscoverConfigFile(dir))

	// No prod.yaml — the generic config file is the fallback.
	t.Setenv(EnvVarName, "prod")
	assert.Equal(t, filepath.Join(dir, "config.yaml"), DiscoverConfigFile(dir))
}

func TestRabbitMQConfigURL(t *testing.T) {
	cfg := RabbitMQConfig{Host: "mq", Port: 5672, Username: "u", Password: "p", VirtualHost: "vh"}
	assert.Equal(t, "amqp://u:p@mq:5672/vh", cfg.URL())

	cfg = RabbitMQConfig{Host: "mq", Port: 5672}
	assert.Equal(t, "amqp://guest:guest@mq:5672/", cfg.URL())
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Std())

	require.Error(t, d.UnmarshalJSON([]byte(`"forever"`)))
}
