package common

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrometheusExtractionMetrics_Success(t *testing.T) {
	m, err := NewPrometheusExtractionMetrics(prometheus.NewRegistry())
	assert.NoError(t, err)
	assert.NotNil(t, m)
}

func TestNewPrometheusExtractionMetrics_DuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewPrometheusExtractionMetrics(registry)
	require.NoError(t, err)

	_, err = NewPrometheusExtractionMetrics(registry)
	assert.Error(t, err)
}

func TestPrometheus_RecordBatch(t *testing.T) {
	m, err := NewPrometheusExtractionMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordBatch(ctx, &BatchMetricParams{Tier: "small", BatchSize: 4, DurationMs: 120, Success: true})
	m.RecordBatch(ctx, &BatchMetricParams{Tier: "small", BatchSize: 4, DurationMs: 80, Success: false, Requeued: 4})
	m.RecordBatch(ctx, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchesTotal.WithLabelValues("small", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchesTotal.WithLabelValues("small", "failure")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.requeuedTotal.WithLabelValues("small")))

	stats := m.GetCurrentStats()
	assert.Equal(t, int64(2), stats.TotalBatches)
	assert.Equal(t, int64(1), stats.SuccessfulBatches)
	assert.Equal(t, int64(1), stats.FailedBatches)
	assert.Equal(t, int64(4), stats.RequeuedRequests)
	assert.InDelta(t, 100.0, stats.AvgBatchLatencyMs, 1e-9)
}

func TestPrometheus_QueueStateAndLoadFactor(t *testing.T) {
	m, err := NewPrometheusExtractionMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordQueueState(ctx, &QueueMetricParams{Tier: "large", Depth: 7, OldestAgeSeconds: 1.5, MaxAttempts: 2})
	m.RecordLoadFactor(ctx, "large", 0.9)

	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("large")))
	assert.Equal(t, 1.5, testutil.ToFloat64(m.oldestPendingAge.WithLabelValues("large")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.maxRetryCount.WithLabelValues("large")))
	assert.Equal(t, 0.9, testutil.ToFloat64(m.loadFactor.WithLabelValues("large")))
}

func TestPrometheus_CacheAndMerge(t *testing.T) {
	m, err := NewPrometheusExtractionMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordCacheAccess(ctx, "estimator", true)
	m.RecordCacheAccess(ctx, "estimator", false)
	m.RecordCacheAccess(ctx, "estimator", true)
	m.RecordCallbackError(ctx, "medium")
	m.RecordMerge(ctx, &MergeMetricParams{RawEntities: 4, MergedEntities: 1, RawCitations: 2, MergedCitations: 1, Relationships: 1, EntityWarnings: 1})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheTotal.WithLabelValues("estimator", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callbackErrors.WithLabelValues("medium")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.mergeTotal.WithLabelValues("entity", "raw")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.positionMismatches.WithLabelValues("entity")))

	stats := m.GetCurrentStats()
	assert.InDelta(t, 2.0/3.0, stats.CacheHitRate, 1e-9)
	assert.Equal(t, int64(1), stats.CallbackErrors)
	assert.Equal(t, int64(1), stats.Merges)
}

func TestInMemory_Records(t *testing.T) {
	m := NewInMemoryExtractionMetrics()
	ctx := context.Background()

	m.RecordBatch(ctx, &BatchMetricParams{Tier: "small", BatchSize: 16, DurationMs: 10, Success: true, Trigger: "size"})
	m.RecordQueueState(ctx, &QueueMetricParams{Tier: "small", Depth: 3})
	m.RecordLoadFactor(ctx, "small", 1.1)
	m.RecordLoadFactor(ctx, "small", 1.21)
	m.RecordCallbackError(ctx, "small")
	m.RecordCacheAccess(ctx, "result_memory", false)
	m.RecordMerge(ctx, &MergeMetricParams{RawEntities: 2, MergedEntities: 1})

	batches := m.GetRecordedBatches()
	require.Len(t, batches, 1)
	assert.Equal(t, "size", batches[0].Trigger)

	qs, ok := m.GetQueueState("small")
	require.True(t, ok)
	assert.Equal(t, 3, qs.Depth)
	_, ok = m.GetQueueState("large")
	assert.False(t, ok)

	assert.Equal(t, []float64{1.1, 1.21}, m.GetLoadFactors("small"))
	assert.Equal(t, int64(1), m.GetCallbackErrors("small"))
	assert.Equal(t, int64(1), m.GetCacheMisses("result_memory"))
	assert.Equal(t, int64(0), m.GetCacheHits("result_memory"))
	assert.Len(t, m.GetRecordedMerges(), 1)

	stats := m.GetCurrentStats()
	assert.Equal(t, int64(1), stats.TotalBatches)
	assert.Equal(t, int64(1), stats.CallbackErrors)
}

func TestNoop_AllMethods_NoPanic(t *testing.T) {
	m := NewNoopExtractionMetrics()
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordBatch(ctx, &BatchMetricParams{})
		m.RecordQueueState(ctx, &QueueMetricParams{})
		m.RecordLoadFactor(ctx, "small", 1)
		m.RecordCallbackError(ctx, "small")
		m.RecordCacheAccess(ctx, "estimator", true)
		m.RecordMerge(ctx, &MergeMetricParams{})
		m.GetBatchLatencyHistogram()
		m.GetCurrentStats()
	})
}

func TestLatencyHistogram_Percentiles(t *testing.T) {
	h := newLatencyHistogram()
	assert.Equal(t, 0.0, h.Percentile(50))

	for i := 1; i <= 100; i++ {
		h.Observe(float64(i))
	}
	assert.Equal(t, int64(100), h.Count())
	assert.Equal(t, 5050.0, h.Sum())
	assert.Equal(t, 1.0, h.Percentile(0))
	assert.Equal(t, 100.0, h.Percentile(100))
	assert.InDelta(t, 50.5, h.Percentile(50), 1e-9)
	assert.InDelta(t, 95.05, h.Percentile(95), 1e-9)
}

func TestLatencyHistogram_ConcurrentAccess(t *testing.T) {
	h := newLatencyHistogram()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Observe(float64(i*100 + j))
				_ = h.Percentile(90)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(800), h.Count())
}
