package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultTuneInterval  = 30 * time.Second
	DefaultMinLoadFactor = 0.5
	DefaultMaxLoadFactor = 1.5

	DefaultEstimatorCacheSize  = 10000
	DefaultWordsPerTokenRatio  = 0.75
	DefaultEstimatorHistory    = 1000
	DefaultEstimatorEncoding   = "cl100k_base"
	DefaultEntityThreshold     = 0.85
	DefaultCitationThreshold   = 0.90
	DefaultProximityWindow     = 200
	DefaultValidationThreshold = 0.8

	DefaultBackendTimeout        = 60 * time.Second
	DefaultBackendMaxRetries     = 3
	DefaultBackendRetryBaseDelay = 200 * time.Millisecond
	DefaultBackendRetryMaxDelay  = 5 * time.Second

	DefaultCacheMemoryTTL       = 10 * time.Minute
	DefaultCacheCleanupInterval = 15 * time.Minute
	DefaultCacheRedisTTL        = 24 * time.Hour
	DefaultCacheKeyPrefix       = "lexextract:result:"

	DefaultRedisAddr     = "localhost:6379"
	DefaultRedisPoolSize = 10

	DefaultKafkaBroker       = "localhost:9092"
	DefaultKafkaGroupID      = "lexextract-worker"
	DefaultRequestTopic      = "extraction.requests"
	DefaultResultTopic       = "extraction.results"
	DefaultKafkaMaxRetries   = 3
	DefaultKafkaRetryBackoff = time.Second
	DefaultKafkaMaxBackoff   = 30 * time.Second

	DefaultMetricsAddr = ":9090"
	DefaultMetricsPath = "/metrics"
)

// DefaultTiers is the built-in per-tier batch table.
var DefaultTiers = map[string]TierConfig{
	"small":       {MinBatchSize: 4, MaxBatchSize: 32, MaxWaitTime: 100 * time.Millisecond, TargetLatency: 50 * time.Millisecond},
	"medium":      {MinBatchSize: 2, MaxBatchSize: 16, MaxWaitTime: 250 * time.Millisecond, TargetLatency: 150 * time.Millisecond},
	"large":       {MinBatchSize: 1, MaxBatchSize: 8, MaxWaitTime: 500 * time.Millisecond, TargetLatency: 500 * time.Millisecond},
	"extra_large": {MinBatchSize: 1, MaxBatchSize: 2, MaxWaitTime: time.Second, TargetLatency: 2 * time.Second},
}

func applyTierDefaults(tc *TierConfig, def TierConfig) {
	if tc.MinBatchSize == 0 {
		tc.MinBatchSize = def.MinBatchSize
	}
	if tc.MaxBatchSize == 0 {
		tc.MaxBatchSize = def.MaxBatchSize
		if tc.MaxBatchSize < tc.MinBatchSize {
			tc.MaxBatchSize = tc.MinBatchSize
		}
	}
	if tc.MaxWaitTime == 0 {
		tc.MaxWaitTime = def.MaxWaitTime
	}
	if tc.TargetLatency == 0 {
		tc.TargetLatency = def.TargetLatency
	}
}

// ApplyDefaults fills every zero-value field in cfg with its default.
// Explicitly configured values are left unchanged.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Log ──────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// ── Batching ─────────────────────────────────────────────────────────────
	applyTierDefaults(&cfg.Batching.Small, DefaultTiers["small"])
	applyTierDefaults(&cfg.Batching.Medium, DefaultTiers["medium"])
	applyTierDefaults(&cfg.Batching.Large, DefaultTiers["large"])
	applyTierDefaults(&cfg.Batching.ExtraLarge, DefaultTiers["extra_large"])
	if cfg.Batching.TuneInterval == 0 {
		cfg.Batching.TuneInterval = DefaultTuneInterval
	}
	if cfg.Batching.MinLoadFactor == 0 {
		cfg.Batching.MinLoadFactor = DefaultMinLoadFactor
	}
	if cfg.Batching.MaxLoadFactor == 0 {
		cfg.Batching.MaxLoadFactor = DefaultMaxLoadFactor
	}
	if cfg.Batching.DispatchRate > 0 && cfg.Batching.DispatchBurst == 0 {
		cfg.Batching.DispatchBurst = 1
	}

	// ── Estimator ────────────────────────────────────────────────────────────
	if cfg.Estimator.CacheSize == 0 {
		cfg.Estimator.CacheSize = DefaultEstimatorCacheSize
	}
	if cfg.Estimator.WordsPerTokenRatio == 0 {
		cfg.Estimator.WordsPerTokenRatio = DefaultWordsPerTokenRatio
	}
	if cfg.Estimator.HistorySize == 0 {
		cfg.Estimator.HistorySize = DefaultEstimatorHistory
	}
	if cfg.Estimator.Encoding == "" {
		cfg.Estimator.Encoding = DefaultEstimatorEncoding
	}

	// ── Merger ───────────────────────────────────────────────────────────────
	if cfg.Merger.EntityThreshold == 0 {
		cfg.Merger.EntityThreshold = DefaultEntityThreshold
	}
	if cfg.Merger.CitationThreshold == 0 {
		cfg.Merger.CitationThreshold = DefaultCitationThreshold
	}
	if cfg.Merger.ProximityWindow == 0 {
		cfg.Merger.ProximityWindow = DefaultProximityWindow
	}
	if cfg.Merger.ValidationThreshold == 0 {
		cfg.Merger.ValidationThreshold = DefaultValidationThreshold
	}

	// ── Backend ──────────────────────────────────────────────────────────────
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = DefaultBackendTimeout
	}
	if cfg.Backend.MaxRetries == 0 {
		cfg.Backend.MaxRetries = DefaultBackendMaxRetries
	}
	if cfg.Backend.RetryBaseDelay == 0 {
		cfg.Backend.RetryBaseDelay = DefaultBackendRetryBaseDelay
	}
	if cfg.Backend.RetryMaxDelay == 0 {
		cfg.Backend.RetryMaxDelay = DefaultBackendRetryMaxDelay
	}

	// ── Cache ────────────────────────────────────────────────────────────────
	if cfg.Cache.MemoryTTL == 0 {
		cfg.Cache.MemoryTTL = DefaultCacheMemoryTTL
	}
	if cfg.Cache.CleanupInterval == 0 {
		cfg.Cache.CleanupInterval = DefaultCacheCleanupInterval
	}
	if cfg.Cache.RedisTTL == 0 {
		cfg.Cache.RedisTTL = DefaultCacheRedisTTL
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = DefaultCacheKeyPrefix
	}

	// ── Redis ────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = DefaultRedisPoolSize
	}

	// ── Kafka ────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.RequestTopic == "" {
		cfg.Kafka.RequestTopic = DefaultRequestTopic
	}
	if cfg.Kafka.ResultTopic == "" {
		cfg.Kafka.ResultTopic = DefaultResultTopic
	}
	if cfg.Kafka.DeadLetterTopic == "" {
		cfg.Kafka.DeadLetterTopic = cfg.Kafka.RequestTopic + ".dlq"
	}
	if cfg.Kafka.MaxRetries == 0 {
		cfg.Kafka.MaxRetries = DefaultKafkaMaxRetries
	}
	if cfg.Kafka.RetryBackoff == 0 {
		cfg.Kafka.RetryBackoff = DefaultKafkaRetryBackoff
	}
	if cfg.Kafka.MaxRetryBackoff == 0 {
		cfg.Kafka.MaxRetryBackoff = DefaultKafkaMaxBackoff
	}

	// ── Metrics ──────────────────────────────────────────────────────────────
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = DefaultMetricsAddr
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}
