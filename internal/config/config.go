// Package config defines all configuration structures for LexExtract.  No
// I/O or parsing logic lives here, only plain data types and validation.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/LexExtract/internal/infrastructure/monitoring/logging"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// TierConfig holds the static batch parameters of one size tier.
type TierConfig struct {
	MinBatchSize  int           `mapstructure:"min_batch_size"`
	MaxBatchSize  int           `mapstructure:"max_batch_size"`
	MaxWaitTime   time.Duration `mapstructure:"max_wait_time"`
	TargetLatency time.Duration `mapstructure:"target_latency"`
}

// BatchingConfig holds the adaptive scheduler tunables.
type BatchingConfig struct {
	Small      TierConfig `mapstructure:"small"`
	Medium     TierConfig `mapstructure:"medium"`
	Large      TierConfig `mapstructure:"large"`
	ExtraLarge TierConfig `mapstructure:"extra_large"`

	// TuneInterval is the minimum time between two load-factor adjustments
	// of the same tier.
	TuneInterval  time.Duration `mapstructure:"tune_interval"`
	MinLoadFactor float64       `mapstructure:"min_load_factor"`
	MaxLoadFactor float64       `mapstructure:"max_load_factor"`

	// DispatchRate limits batch dispatches per second across all tiers.
	// Zero disables the limiter.
	DispatchRate  float64 `mapstructure:"dispatch_rate"`
	DispatchBurst int     `mapstructure:"dispatch_burst"`
}

// EstimatorConfig holds SizeClassifier tunables.
type EstimatorConfig struct {
	CacheSize          int     `mapstructure:"cache_size"`
	WordsPerTokenRatio float64 `mapstructure:"words_per_token_ratio"`
	HistorySize        int     `mapstructure:"history_size"`
	// Encoding is the tiktoken encoding used to calibrate estimates.
	Encoding string `mapstructure:"encoding"`
}

// MergerConfig holds ResultMerger thresholds.
type MergerConfig struct {
	EntityThreshold     float64 `mapstructure:"entity_threshold"`
	CitationThreshold   float64 `mapstructure:"citation_threshold"`
	ProximityWindow     int     `mapstructure:"proximity_window"`
	ValidationThreshold float64 `mapstructure:"validation_threshold"`
}

// BackendConfig holds the HTTP inference backend parameters.
type BackendConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
}

// CacheConfig controls the extraction result cache.
type CacheConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MemoryTTL       time.Duration `mapstructure:"memory_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	// UseRedis adds the shared redis tier behind the in-process tier.
	UseRedis  bool          `mapstructure:"use_redis"`
	RedisTTL  time.Duration `mapstructure:"redis_ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig holds the request intake / result topics.
type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	GroupID         string        `mapstructure:"group_id"`
	RequestTopic    string        `mapstructure:"request_topic"`
	ResultTopic     string        `mapstructure:"result_topic"`
	DeadLetterTopic string        `mapstructure:"dead_letter_topic"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`

	// SASLMechanism is one of PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
	// Empty disables SASL.
	SASLMechanism string `mapstructure:"sasl_mechanism"`
	SASLUsername  string `mapstructure:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password"`
	TLSEnabled    bool   `mapstructure:"tls_enabled"`
	TLSCAFile     string `mapstructure:"tls_ca_file"`

	// CreateTopics makes the worker create its three topics on start.
	CreateTopics bool `mapstructure:"create_topics"`
}

// MetricsConfig controls the Prometheus endpoint of the worker.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object.
type Config struct {
	Log       logging.LogConfig `mapstructure:"log"`
	Batching  BatchingConfig    `mapstructure:"batching"`
	Estimator EstimatorConfig   `mapstructure:"estimator"`
	Merger    MergerConfig      `mapstructure:"merger"`
	Backend   BackendConfig     `mapstructure:"backend"`
	Cache     CacheConfig       `mapstructure:"cache"`
	Redis     RedisConfig       `mapstructure:"redis"`
	Kafka     KafkaConfig       `mapstructure:"kafka"`
	Metrics   MetricsConfig     `mapstructure:"metrics"`
}

// Tiers returns the four tier configs keyed by their config name.
func (b *BatchingConfig) Tiers() map[string]TierConfig {
	return map[string]TierConfig{
		"small":       b.Small,
		"medium":      b.Medium,
		"large":       b.Large,
		"extra_large": b.ExtraLarge,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate checks value ranges.  It is called after ApplyDefaults, so zero
// values it rejects were explicitly configured out of range.
func (c *Config) Validate() error {
	for name, tc := range c.Batching.Tiers() {
		if tc.MinBatchSize < 1 {
			return fmt.Errorf("config: batching.%s.min_batch_size must be >= 1, got %d", name, tc.MinBatchSize)
		}
		if tc.MaxBatchSize < tc.MinBatchSize {
			return fmt.Errorf("config: batching.%s.max_batch_size (%d) must be >= min_batch_size (%d)",
				name, tc.MaxBatchSize, tc.MinBatchSize)
		}
		if tc.MaxWaitTime <= 0 {
			return fmt.Errorf("config: batching.%s.max_wait_time must be positive", name)
		}
		if tc.TargetLatency <= 0 {
			return fmt.Errorf("config: batching.%s.target_latency must be positive", name)
		}
	}
	if c.Batching.MinLoadFactor <= 0 || c.Batching.MinLoadFactor > 1 {
		return fmt.Errorf("config: batching.min_load_factor must be in (0, 1], got %v", c.Batching.MinLoadFactor)
	}
	if c.Batching.MaxLoadFactor < 1 {
		return fmt.Errorf("config: batching.max_load_factor must be >= 1, got %v", c.Batching.MaxLoadFactor)
	}
	if c.Batching.DispatchRate < 0 {
		return fmt.Errorf("config: batching.dispatch_rate must be >= 0")
	}

	if c.Estimator.CacheSize < 1 {
		return fmt.Errorf("config: estimator.cache_size must be >= 1")
	}
	if c.Estimator.WordsPerTokenRatio <= 0 {
		return fmt.Errorf("config: estimator.words_per_token_ratio must be positive")
	}

	for key, v := range map[string]float64{
		"entity_threshold":     c.Merger.EntityThreshold,
		"citation_threshold":   c.Merger.CitationThreshold,
		"validation_threshold": c.Merger.ValidationThreshold,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("config: merger.%s must be in (0, 1], got %v", key, v)
		}
	}
	if c.Merger.ProximityWindow < 1 {
		return fmt.Errorf("config: merger.proximity_window must be >= 1")
	}

	if c.Backend.MaxRetries < 0 {
		return fmt.Errorf("config: backend.max_retries must be >= 0")
	}
	if c.Kafka.MaxRetries < 0 {
		return fmt.Errorf("config: kafka.max_retries must be >= 0")
	}
	switch c.Kafka.SASLMechanism {
	case "", "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
	default:
		return fmt.Errorf("config: kafka.sasl_mechanism %q is not supported", c.Kafka.SASLMechanism)
	}
	return nil
}
