package common

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// ---------------------------------------------------------------------------
// Interfaces
// ---------------------------------------------------------------------------

// ExtractionMetrics is the metrics API of the batching and merging engines.
// Implementations: Prometheus, in-memory (tests) and noop.
type ExtractionMetrics interface {
	// RecordBatch records one dispatched batch, successful or not.
	RecordBatch(ctx context.Context, params *BatchMetricParams)

	// RecordQueueState records the current state of one tier queue.
	RecordQueueState(ctx context.Context, params *QueueMetricParams)

	// RecordLoadFactor records the current load factor of a tier.
	RecordLoadFactor(ctx context.Context, tier string, loadFactor float64)

	// RecordCallbackError records a failed or panicking result callback.
	RecordCallbackError(ctx context.Context, tier string)

	// RecordCacheAccess records a hit or miss on a named cache
	// ("estimator", "result_memory", "result_redis").
	RecordCacheAccess(ctx context.Context, cache string, hit bool)

	// RecordMerge records one merge pass.
	RecordMerge(ctx context.Context, params *MergeMetricParams)

	// GetBatchLatencyHistogram returns the batch latency histogram.
	GetBatchLatencyHistogram() LatencyHistogram

	// GetCurrentStats returns a point-in-time statistics snapshot.
	GetCurrentStats() *ExtractionStats
}

// LatencyHistogram provides percentile-based latency observation.
type LatencyHistogram interface {
	Observe(durationMs float64)
	Percentile(p float64) float64
	Count() int64
	Sum() float64
}

// ---------------------------------------------------------------------------
// Parameter structs
// ---------------------------------------------------------------------------

// BatchMetricParams carries the data for a dispatched batch.
type BatchMetricParams struct {
	Tier       string  `json:"tier"`
	BatchSize  int     `json:"batch_size"`
	DurationMs float64 `json:"duration_ms"`
	Success    bool    `json:"success"`
	Requeued   int     `json:"requeued"`
	Trigger    string  `json:"trigger"`
}

// QueueMetricParams describes a tier queue after a state change.
type QueueMetricParams struct {
	Tier             string  `json:"tier"`
	Depth            int     `json:"depth"`
	OldestAgeSeconds float64 `json:"oldest_age_seconds"`
	MaxAttempts      int     `json:"max_attempts"`
}

// MergeMetricParams carries the outcome of one merge pass.
type MergeMetricParams struct {
	RawEntities      int     `json:"raw_entities"`
	MergedEntities   int     `json:"merged_entities"`
	RawCitations     int     `json:"raw_citations"`
	MergedCitations  int     `json:"merged_citations"`
	Relationships    int     `json:"relationships"`
	PositionWarnings int     `json:"position_warnings"`
	EntityWarnings   int     `json:"entity_warnings"`
	CitationWarnings int     `json:"citation_warnings"`
	DurationMs       float64 `json:"duration_ms"`
}

// ExtractionStats is a point-in-time snapshot.
type ExtractionStats struct {
	TotalBatches      int64   `json:"total_batches"`
	SuccessfulBatches int64   `json:"successful_batches"`
	FailedBatches     int64   `json:"failed_batches"`
	RequeuedRequests  int64   `json:"requeued_requests"`
	CallbackErrors    int64   `json:"callback_errors"`
	AvgBatchLatencyMs float64 `json:"avg_batch_latency_ms"`
	P50LatencyMs      float64 `json:"p50_latency_ms"`
	P95LatencyMs      float64 `json:"p95_latency_ms"`
	P99LatencyMs      float64 `json:"p99_latency_ms"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
	Merges            int64   `json:"merges"`
}

// ---------------------------------------------------------------------------
// Prometheus implementation
// ---------------------------------------------------------------------------

const metricsPrefix = "lexextract_"

var defaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

type prometheusExtractionMetrics struct {
	batchesTotal       *prometheus.CounterVec
	batchSize          *prometheus.HistogramVec
	batchDuration      *prometheus.HistogramVec
	requeuedTotal      *prometheus.CounterVec
	queueDepth         *prometheus.GaugeVec
	oldestPendingAge   *prometheus.GaugeVec
	maxRetryCount      *prometheus.GaugeVec
	loadFactor         *prometheus.GaugeVec
	callbackErrors     *prometheus.CounterVec
	cacheTotal         *prometheus.CounterVec
	mergeTotal         *prometheus.CounterVec
	positionMismatches *prometheus.CounterVec
	mergeDuration      prometheus.Histogram

	latencyHist   *latencyHistogram
	totalBatches  atomic.Int64
	okBatches     atomic.Int64
	failedBatches atomic.Int64
	requeued      atomic.Int64
	cbErrors      atomic.Int64
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64
	merges        atomic.Int64
}

// NewPrometheusExtractionMetrics creates a Prometheus-backed collector and
// registers every metric with registerer (DefaultRegisterer when nil).
func NewPrometheusExtractionMetrics(registerer prometheus.Registerer) (*prometheusExtractionMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &prometheusExtractionMetrics{latencyHist: newLatencyHistogram()}

	m.batchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "batches_total",
		Help: "Total number of dispatched batches by tier and outcome.",
	}, []string{"tier", "status"})

	m.batchSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "batch_size",
		Help:    "Number of requests per dispatched batch.",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
	}, []string{"tier"})

	m.batchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "batch_duration_milliseconds",
		Help:    "Backend processing time per batch in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"tier"})

	m.requeuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "requeued_total",
		Help: "Requests returned to their queue after a failed batch.",
	}, []string{"tier"})

	m.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: metricsPrefix + "queue_depth",
		Help: "Pending requests per tier.",
	}, []string{"tier"})

	m.oldestPendingAge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: metricsPrefix + "oldest_pending_age_seconds",
		Help: "Age of the oldest pending request per tier.",
	}, []string{"tier"})

	m.maxRetryCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: metricsPrefix + "max_retry_count",
		Help: "Highest attempt count among pending requests per tier.",
	}, []string{"tier"})

	m.loadFactor = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: metricsPrefix + "load_factor",
		Help: "Current batch-size load factor per tier.",
	}, []string{"tier"})

	m.callbackErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "callback_errors_total",
		Help: "Result callbacks that returned an error or panicked.",
	}, []string{"tier"})

	m.cacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "cache_access_total",
		Help: "Cache accesses by cache name and result.",
	}, []string{"cache", "result"})

	m.mergeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "merge_records_total",
		Help: "Records seen by the merger by category and outcome (raw, merged).",
	}, []string{"category", "outcome"})

	m.positionMismatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "position_mismatch_total",
		Help: "Merged records whose positions did not match the document text.",
	}, []string{"category"})

	m.mergeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    metricsPrefix + "merge_duration_milliseconds",
		Help:    "Merge pass duration in milliseconds.",
		Buckets: defaultLatencyBuckets,
	})

	collectors := []prometheus.Collector{
		m.batchesTotal,
		m.batchSize,
		m.batchDuration,
		m.requeuedTotal,
		m.queueDepth,
		m.oldestPendingAge,
		m.maxRetryCount,
		m.loadFactor,
		m.callbackErrors,
		m.cacheTotal,
		m.mergeTotal,
		m.positionMismatches,
		m.mergeDuration,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *prometheusExtractionMetrics) RecordBatch(_ context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	status := "success"
	if !p.Success {
		status = "failure"
	}
	m.batchesTotal.WithLabelValues(p.Tier, status).Inc()
	m.batchSize.WithLabelValues(p.Tier).Observe(float64(p.BatchSize))
	m.batchDuration.WithLabelValues(p.Tier).Observe(p.DurationMs)
	if p.Requeued > 0 {
		m.requeuedTotal.WithLabelValues(p.Tier).Add(float64(p.Requeued))
		m.requeued.Add(int64(p.Requeued))
	}

	m.latencyHist.Observe(p.DurationMs)
	m.totalBatches.Add(1)
	if p.Success {
		m.okBatches.Add(1)
	} else {
		m.failedBatches.Add(1)
	}
}

func (m *prometheusExtractionMetrics) RecordQueueState(_ context.Context, p *QueueMetricParams) {
	if p == nil {
		return
	}
	m.queueDepth.WithLabelValues(p.Tier).Set(float64(p.Depth))
	m.oldestPendingAge.WithLabelValues(p.Tier).Set(p.OldestAgeSeconds)
	m.maxRetryCount.WithLabelValues(p.Tier).Set(float64(p.MaxAttempts))
}

func (m *prometheusExtractionMetrics) RecordLoadFactor(_ context.Context, tier string, loadFactor float64) {
	m.loadFactor.WithLabelValues(tier).Set(loadFactor)
}

func (m *prometheusExtractionMetrics) RecordCallbackError(_ context.Context, tier string) {
	m.callbackErrors.WithLabelValues(tier).Inc()
	m.cbErrors.Add(1)
}

func (m *prometheusExtractionMetrics) RecordCacheAccess(_ context.Context, cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
		m.cacheHits.Add(1)
	} else {
		m.cacheMisses.Add(1)
	}
	m.cacheTotal.WithLabelValues(cache, result).Inc()
}

func (m *prometheusExtractionMetrics) RecordMerge(_ context.Context, p *MergeMetricParams) {
	if p == nil {
		return
	}
	m.mergeTotal.WithLabelValues("entity", "raw").Add(float64(p.RawEntities))
	m.mergeTotal.WithLabelValues("entity", "merged").Add(float64(p.MergedEntities))
	m.mergeTotal.WithLabelValues("citation", "raw").Add(float64(p.RawCitations))
	m.mergeTotal.WithLabelValues("citation", "merged").Add(float64(p.MergedCitations))
	m.mergeTotal.WithLabelValues("relationship", "merged").Add(float64(p.Relationships))
	if p.EntityWarnings > 0 {
		m.positionMismatches.WithLabelValues("entity").Add(float64(p.EntityWarnings))
	}
	if p.CitationWarnings > 0 {
		m.positionMismatches.WithLabelValues("citation").Add(float64(p.CitationWarnings))
	}
	m.mergeDuration.Observe(p.DurationMs)
	m.merges.Add(1)
}

func (m *prometheusExtractionMetrics) GetBatchLatencyHistogram() LatencyHistogram {
	return m.latencyHist
}

func (m *prometheusExtractionMetrics) GetCurrentStats() *ExtractionStats {
	total := m.totalBatches.Load()
	var avg float64
	if total > 0 {
		avg = m.latencyHist.Sum() / float64(total)
	}
	return &ExtractionStats{
		TotalBatches:      total,
		SuccessfulBatches: m.okBatches.Load(),
		FailedBatches:     m.failedBatches.Load(),
		RequeuedRequests:  m.requeued.Load(),
		CallbackErrors:    m.cbErrors.Load(),
		AvgBatchLatencyMs: avg,
		P50LatencyMs:      m.latencyHist.Percentile(50),
		P95LatencyMs:      m.latencyHist.Percentile(95),
		P99LatencyMs:      m.latencyHist.Percentile(99),
		CacheHitRate:      hitRate(m.cacheHits.Load(), m.cacheMisses.Load()),
		Merges:            m.merges.Load(),
	}
}

// ---------------------------------------------------------------------------
// Noop implementation
// ---------------------------------------------------------------------------

type noopExtractionMetrics struct{}

// NewNoopExtractionMetrics returns a no-op metrics implementation.
func NewNoopExtractionMetrics() *noopExtractionMetrics {
	return &noopExtractionMetrics{}
}

func (n *noopExtractionMetrics) RecordBatch(context.Context, *BatchMetricParams)       {}
func (n *noopExtractionMetrics) RecordQueueState(context.Context, *QueueMetricParams) {}
func (n *noopExtractionMetrics) RecordLoadFactor(context.Context, string, float64)     {}
func (n *noopExtractionMetrics) RecordCallbackError(context.Context, string)           {}
func (n *noopExtractionMetrics) RecordCacheAccess(context.Context, string, bool)       {}
func (n *noopExtractionMetrics) RecordMerge(context.Context, *MergeMetricParams)       {}

func (n *noopExtractionMetrics) GetBatchLatencyHistogram() LatencyHistogram {
	return newLatencyHistogram()
}

func (n *noopExtractionMetrics) GetCurrentStats() *ExtractionStats {
	return &ExtractionStats{}
}

// ---------------------------------------------------------------------------
// In-memory implementation (for testing)
// ---------------------------------------------------------------------------

// InMemoryExtractionMetrics records every call for later inspection.
type InMemoryExtractionMetrics struct {
	mu sync.Mutex

	batches     []*BatchMetricParams
	queueStates map[string]*QueueMetricParams
	loadFactors map[string][]float64
	cbErrors    map[string]int64
	cacheHits   map[string]int64
	cacheMisses map[string]int64
	merges      []*MergeMetricParams
	latencyHist *latencyHistogram
}

// NewInMemoryExtractionMetrics returns an in-memory metrics implementation
// suitable for unit tests.
func NewInMemoryExtractionMetrics() *InMemoryExtractionMetrics {
	return &InMemoryExtractionMetrics{
		queueStates: make(map[string]*QueueMetricParams),
		loadFactors: make(map[string][]float64),
		cbErrors:    make(map[string]int64),
		cacheHits:   make(map[string]int64),
		cacheMisses: make(map[string]int64),
		latencyHist: newLatencyHistogram(),
	}
}

func (m *InMemoryExtractionMetrics) RecordBatch(_ context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.batches = append(m.batches, &cp)
	m.latencyHist.Observe(p.DurationMs)
}

func (m *InMemoryExtractionMetrics) RecordQueueState(_ context.Context, p *QueueMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.queueStates[p.Tier] = &cp
}

func (m *InMemoryExtractionMetrics) RecordLoadFactor(_ context.Context, tier string, lf float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadFactors[tier] = append(m.loadFactors[tier], lf)
}

func (m *InMemoryExtractionMetrics) RecordCallbackError(_ context.Context, tier string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cbErrors[tier]++
}

func (m *InMemoryExtractionMetrics) RecordCacheAccess(_ context.Context, cache string, hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.cacheHits[cache]++
	} else {
		m.cacheMisses[cache]++
	}
}

func (m *InMemoryExtractionMetrics) RecordMerge(_ context.Context, p *MergeMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.merges = append(m.merges, &cp)
}

func (m *InMemoryExtractionMetrics) GetBatchLatencyHistogram() LatencyHistogram {
	return m.latencyHist
}

func (m *InMemoryExtractionMetrics) GetCurrentStats() *ExtractionStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &ExtractionStats{Merges: int64(len(m.merges))}
	var sum float64
	for _, b := range m.batches {
		s.TotalBatches++
		if b.Success {
			s.SuccessfulBatches++
		} else {
			s.FailedBatches++
		}
		s.RequeuedRequests += int64(b.Requeued)
		sum += b.DurationMs
	}
	if s.TotalBatches > 0 {
		s.AvgBatchLatencyMs = sum / float64(s.TotalBatches)
	}
	for _, n := range m.cbErrors {
		s.CallbackErrors += n
	}
	var hits, misses int64
	for _, n := range m.cacheHits {
		hits += n
	}
	for _, n := range m.cacheMisses {
		misses += n
	}
	s.CacheHitRate = hitRate(hits, misses)
	s.P50LatencyMs = m.latencyHist.Percentile(50)
	s.P95LatencyMs = m.latencyHist.Percentile(95)
	s.P99LatencyMs = m.latencyHist.Percentile(99)
	return s
}

// GetRecordedBatches returns a copy of all recorded batch params.
func (m *InMemoryExtractionMetrics) GetRecordedBatches() []*BatchMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*BatchMetricParams, len(m.batches))
	for i, p := range m.batches {
		cp := *p
		out[i] = &cp
	}
	return out
}

// GetQueueState returns the last queue state recorded for tier.
func (m *InMemoryExtractionMetrics) GetQueueState(tier string) (QueueMetricParams, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.queueStates[tier]
	if !ok {
		return QueueMetricParams{}, false
	}
	return *p, true
}

// GetLoadFactors returns every load factor recorded for tier, in order.
func (m *InMemoryExtractionMetrics) GetLoadFactors(tier string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.loadFactors[tier]...)
}

// GetCallbackErrors returns the callback error count for tier.
func (m *InMemoryExtractionMetrics) GetCallbackErrors(tier string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cbErrors[tier]
}

// GetCacheHits returns the hit count recorded for cache.
func (m *InMemoryExtractionMetrics) GetCacheHits(cache string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheHits[cache]
}

// GetCacheMisses returns the miss count recorded for cache.
func (m *InMemoryExtractionMetrics) GetCacheMisses(cache string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheMisses[cache]
}

// GetRecordedMerges returns a copy of all recorded merge params.
func (m *InMemoryExtractionMetrics) GetRecordedMerges() []*MergeMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MergeMetricParams, len(m.merges))
	for i, p := range m.merges {
		cp := *p
		out[i] = &cp
	}
	return out
}

// ---------------------------------------------------------------------------
// latencyHistogram: in-memory, thread-safe, percentile-capable
// ---------------------------------------------------------------------------

type latencyHistogram struct {
	mu      sync.RWMutex
	samples []float64
	sum     float64
	sorted  bool
}

func newLatencyHistogram() *latencyHistogram {
	return &latencyHistogram{samples: make([]float64, 0, 1024)}
}

func (h *latencyHistogram) Observe(durationMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, durationMs)
	h.sum += durationMs
	h.sorted = false
}

// Percentile returns the value at percentile p (0–100) using linear
// interpolation between the two nearest ranks.
func (h *latencyHistogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.samples)
	if n == 0 {
		return 0
	}
	if !h.sorted {
		sort.Float64s(h.samples)
		h.sorted = true
	}
	if p <= 0 {
		return h.samples[0]
	}
	if p >= 100 {
		return h.samples[n-1]
	}

	rank := (p / 100) * float64(n-1)
	lower := int(math.Floor(rank))
	upper := lower + 1
	if upper >= n {
		return h.samples[n-1]
	}
	frac := rank - float64(lower)
	return h.samples[lower] + frac*(h.samples[upper]-h.samples[lower])
}

func (h *latencyHistogram) Count() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return int64(len(h.samples))
}

func (h *latencyHistogram) Sum() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sum
}

func hitRate(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// compile-time interface checks
var (
	_ ExtractionMetrics = (*prometheusExtractionMetrics)(nil)
	_ ExtractionMetrics = (*noopExtractionMetrics)(nil)
	_ ExtractionMetrics = (*InMemoryExtractionMetrics)(nil)
	_ LatencyHistogram  = (*latencyHistogram)(nil)
)
