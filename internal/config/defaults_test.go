package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/LexExtract/internal/config"
)

func TestApplyDefaults_NilSafe(t *testing.T) {
	assert.NotPanics(t, func() { config.ApplyDefaults(nil) })
}

func TestApplyDefaults_FillsZeroValues(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	assert.Equal(t, config.DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, 30*time.Second, cfg.Batching.TuneInterval)
	assert.Equal(t, 0.5, cfg.Batching.MinLoadFactor)
	assert.Equal(t, 1.5, cfg.Batching.MaxLoadFactor)
	assert.Equal(t, 50*time.Millisecond, cfg.Batching.Small.TargetLatency)
	assert.Equal(t, 150*time.Millisecond, cfg.Batching.Medium.TargetLatency)
	assert.Equal(t, 500*time.Millisecond, cfg.Batching.Large.TargetLatency)
	assert.Equal(t, 2*time.Second, cfg.Batching.ExtraLarge.TargetLatency)
	assert.Equal(t, 10000, cfg.Estimator.CacheSize)
	assert.Equal(t, 1000, cfg.Estimator.HistorySize)
	assert.Equal(t, 0.85, cfg.Merger.EntityThreshold)
	assert.Equal(t, 0.90, cfg.Merger.CitationThreshold)
	assert.Equal(t, 200, cfg.Merger.ProximityWindow)
	assert.Equal(t, 0.8, cfg.Merger.ValidationThreshold)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "extraction.requests.dlq", cfg.Kafka.DeadLetterTopic)
	assert.Equal(t, 0, cfg.Batching.DispatchBurst)
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &config.Config{}
	cfg.Batching.Small.MinBatchSize = 8
	cfg.Merger.ProximityWindow = 500
	cfg.Kafka.RequestTopic = "legal.in"
	cfg.Batching.DispatchRate = 5
	config.ApplyDefaults(cfg)

	assert.Equal(t, 8, cfg.Batching.Small.MinBatchSize)
	assert.Equal(t, 32, cfg.Batching.Small.MaxBatchSize)
	assert.Equal(t, 500, cfg.Merger.ProximityWindow)
	assert.Equal(t, "legal.in.dlq", cfg.Kafka.DeadLetterTopic)
	assert.Equal(t, 1, cfg.Batching.DispatchBurst)
}

func TestApplyDefaults_MaxFollowsRaisedMin(t *testing.T) {
	cfg := &config.Config{}
	cfg.Batching.ExtraLarge.MinBatchSize = 4
	config.ApplyDefaults(cfg)
	assert.Equal(t, 4, cfg.Batching.ExtraLarge.MaxBatchSize)
}
