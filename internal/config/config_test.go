package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexExtract/internal/config"
)

func validConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestConfig_Validate_Defaults(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_TierErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"min below one", func(c *config.Config) { c.Batching.Small.MinBatchSize = -1 }, "batching.small.min_batch_size"},
		{"max below min", func(c *config.Config) { c.Batching.Medium.MaxBatchSize = 1; c.Batching.Medium.MinBatchSize = 4 }, "batching.medium.max_batch_size"},
		{"negative wait", func(c *config.Config) { c.Batching.Large.MaxWaitTime = -time.Second }, "batching.large.max_wait_time"},
		{"negative target", func(c *config.Config) { c.Batching.ExtraLarge.TargetLatency = -1 }, "batching.extra_large.target_latency"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestConfig_Validate_LoadFactorBounds(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Batching.MinLoadFactor = 1.2
	assert.ErrorContains(t, cfg.Validate(), "min_load_factor")

	cfg = validConfig()
	cfg.Batching.MaxLoadFactor = 0.9
	assert.ErrorContains(t, cfg.Validate(), "max_load_factor")
}

func TestConfig_Validate_MergerThresholds(t *testing.T) {
	t.Parallel()

	for _, v := range []float64{-0.1, 1.01} {
		cfg := validConfig()
		cfg.Merger.EntityThreshold = v
		assert.ErrorContains(t, cfg.Validate(), "merger.entity_threshold")
	}

	cfg := validConfig()
	cfg.Merger.ProximityWindow = -5
	assert.ErrorContains(t, cfg.Validate(), "merger.proximity_window")
}

func TestConfig_Validate_EstimatorAndRetries(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Estimator.CacheSize = -1
	assert.ErrorContains(t, cfg.Validate(), "estimator.cache_size")

	cfg = validConfig()
	cfg.Backend.MaxRetries = -1
	assert.ErrorContains(t, cfg.Validate(), "backend.max_retries")

	cfg = validConfig()
	cfg.Kafka.MaxRetries = -2
	assert.ErrorContains(t, cfg.Validate(), "kafka.max_retries")

	cfg = validConfig()
	cfg.Kafka.SASLMechanism = "GSSAPI"
	assert.ErrorContains(t, cfg.Validate(), "kafka.sasl_mechanism")
}

func TestBatchingConfig_Tiers(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	tiers := cfg.Batching.Tiers()
	assert.Len(t, tiers, 4)
	assert.Equal(t, 4, tiers["small"].MinBatchSize)
	assert.Equal(t, 2*time.Second, tiers["extra_large"].TargetLatency)
}
