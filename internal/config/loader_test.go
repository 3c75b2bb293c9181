package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigYAML = `
log:
  level: debug
  format: console
batching:
  small:
    min_batch_size: 4
    max_batch_size: 16
    max_wait_time: 50ms
  tune_interval: 10s
merger:
  proximity_window: 250
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  request_topic: legal.requests
backend:
  endpoint: http://vllm:8000/v1/extract
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ValidFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 16, cfg.Batching.Small.MaxBatchSize)
	assert.Equal(t, 50*time.Millisecond, cfg.Batching.Small.MaxWaitTime)
	assert.Equal(t, 50*time.Millisecond, cfg.Batching.Small.TargetLatency)
	assert.Equal(t, 10*time.Second, cfg.Batching.TuneInterval)
	assert.Equal(t, 250, cfg.Merger.ProximityWindow)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "legal.requests.dlq", cfg.Kafka.DeadLetterTopic)
	assert.Equal(t, "http://vllm:8000/v1/extract", cfg.Backend.Endpoint)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_InvalidValues(t *testing.T) {
	_, err := Load(writeConfig(t, "merger:\n  entity_threshold: 1.5\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("LEXEXTRACT_MERGER_PROXIMITY_WINDOW", "400")
	cfg, err := Load(writeConfig(t, validConfigYAML))
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.Merger.ProximityWindow)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LEXEXTRACT_BACKEND_ENDPOINT", "http://backend:9000/extract")
	t.Setenv("LEXEXTRACT_BATCHING_LARGE_MAX_BATCH_SIZE", "12")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "http://backend:9000/extract", cfg.Backend.Endpoint)
	assert.Equal(t, 12, cfg.Batching.Large.MaxBatchSize)
	assert.Equal(t, DefaultEstimatorCacheSize, cfg.Estimator.CacheSize)
}

func TestLoadOptional_EmptyPathUsesEnv(t *testing.T) {
	cfg, err := LoadOptional("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
}

func TestMustLoad_PanicsOnError(t *testing.T) {
	assert.Panics(t, func() { MustLoad(filepath.Join(t.TempDir(), "missing.yaml")) })
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(filepath.Join(t.TempDir(), "missing.yaml"), func(*Config) {}, nil)
	assert.Error(t, err)
}

func TestWatch_InvokesCallbackOnChange(t *testing.T) {
	path := writeConfig(t, validConfigYAML)

	changed := make(chan *Config, 16)
	require.NoError(t, Watch(path, func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	}, nil))

	updated := validConfigYAML + "\nmetrics:\n  addr: \":9191\"\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changed:
			// editors and os.WriteFile may emit several events; wait for the final content
			if cfg.Metrics.Addr == ":9191" {
				return
			}
		case <-deadline:
			t.Fatal("config change was not observed")
		}
	}
}
