package batching

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/turtacn/LexExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract/internal/intelligence/common"
	"github.com/turtacn/LexExtract/pkg/errors"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var ErrSchedulerClosed = errors.New(errors.ErrCodeSchedulerClosed, "batch scheduler is closed")

// ---------------------------------------------------------------------------
// Tier configuration
// ---------------------------------------------------------------------------

// TierConfig holds the static batching parameters of one tier.
type TierConfig struct {
	MinBatchSize  int           `json:"min_batch_size" yaml:"min_batch_size"`
	MaxBatchSize  int           `json:"max_batch_size" yaml:"max_batch_size"`
	MaxWaitTime   time.Duration `json:"max_wait_time" yaml:"max_wait_time"`
	TargetLatency time.Duration `json:"target_latency" yaml:"target_latency"`
}

// Validate checks 1 <= MinBatchSize <= MaxBatchSize and positive durations.
func (c TierConfig) Validate() error {
	if c.MinBatchSize < 1 {
		return errors.Newf(errors.ErrCodeInvalidBatchConfig, "min batch size must be >= 1, got %d", c.MinBatchSize)
	}
	if c.MaxBatchSize < c.MinBatchSize {
		return errors.Newf(errors.ErrCodeInvalidBatchConfig,
			"max batch size %d is below min batch size %d", c.MaxBatchSize, c.MinBatchSize)
	}
	if c.MaxWaitTime <= 0 {
		return errors.New(errors.ErrCodeInvalidBatchConfig, "max wait time must be positive")
	}
	if c.TargetLatency <= 0 {
		return errors.New(errors.ErrCodeInvalidBatchConfig, "target latency must be positive")
	}
	return nil
}

// DefaultTierConfigs returns the built-in tier table.
func DefaultTierConfigs() map[common.SizeTier]TierConfig {
	return map[common.SizeTier]TierConfig{
		common.TierSmall:      {MinBatchSize: 4, MaxBatchSize: 32, MaxWaitTime: 100 * time.Millisecond, TargetLatency: 50 * time.Millisecond},
		common.TierMedium:     {MinBatchSize: 2, MaxBatchSize: 16, MaxWaitTime: 250 * time.Millisecond, TargetLatency: 150 * time.Millisecond},
		common.TierLarge:      {MinBatchSize: 1, MaxBatchSize: 8, MaxWaitTime: 500 * time.Millisecond, TargetLatency: 500 * time.Millisecond},
		common.TierExtraLarge: {MinBatchSize: 1, MaxBatchSize: 2, MaxWaitTime: time.Second, TargetLatency: 2 * time.Second},
	}
}

const (
	DefaultTuneInterval  = 30 * time.Second
	DefaultMinLoadFactor = 0.5
	DefaultMaxLoadFactor = 1.5

	slowBatchRatio = 1.5
	fastBatchRatio = 0.7
	shrinkStep     = 0.9
	growStep       = 1.1
)

// Flush triggers, reported in batch metrics.
const (
	TriggerSize     = "size"
	TriggerTimeout  = "timeout"
	TriggerFlushAll = "flush_all"
)

// ---------------------------------------------------------------------------
// SchedulerOption functional options
// ---------------------------------------------------------------------------

type schedulerConfig struct {
	tiers         map[common.SizeTier]TierConfig
	tuneInterval  time.Duration
	minLoadFactor float64
	maxLoadFactor float64
	limiter       *rate.Limiter
	clock         func() time.Time
	logger        logging.Logger
	metrics       common.ExtractionMetrics
}

func defaultSchedulerConfig() *schedulerConfig {
	return &schedulerConfig{
		tiers:         DefaultTierConfigs(),
		tuneInterval:  DefaultTuneInterval,
		minLoadFactor: DefaultMinLoadFactor,
		maxLoadFactor: DefaultMaxLoadFactor,
		clock:         time.Now,
		logger:        logging.NewNopLogger(),
		metrics:       common.NewNoopExtractionMetrics(),
	}
}

// SchedulerOption configures an AdaptiveBatchScheduler.
type SchedulerOption func(*schedulerConfig)

// WithTierConfig overrides the parameters of one tier.
func WithTierConfig(tier common.SizeTier, cfg TierConfig) SchedulerOption {
	return func(c *schedulerConfig) {
		c.tiers[tier] = cfg
	}
}

// WithTuneInterval sets the minimum time between two load factor
// adjustments of a tier.  Zero allows an adjustment after every batch.
func WithTuneInterval(d time.Duration) SchedulerOption {
	return func(c *schedulerConfig) {
		if d >= 0 {
			c.tuneInterval = d
		}
	}
}

// WithLoadFactorBounds sets the clamp range of the load factor.
func WithLoadFactorBounds(min, max float64) SchedulerOption {
	return func(c *schedulerConfig) {
		c.minLoadFactor = min
		c.maxLoadFactor = max
	}
}

// WithDispatchRateLimit limits how many batches per second reach the
// processor across all tiers.  A non-positive rate disables the limiter.
func WithDispatchRateLimit(perSecond float64, burst int) SchedulerOption {
	return func(c *schedulerConfig) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithClock replaces time.Now for enqueue stamps, latency measurement and
// tuning windows.
func WithClock(now func() time.Time) SchedulerOption {
	return func(c *schedulerConfig) {
		if now != nil {
			c.clock = now
		}
	}
}

// WithSchedulerLogger injects a logger.
func WithSchedulerLogger(l logging.Logger) SchedulerOption {
	return func(c *schedulerConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSchedulerMetrics injects a metrics collector.
func WithSchedulerMetrics(m common.ExtractionMetrics) SchedulerOption {
	return func(c *schedulerConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Tier states.
const (
	StateIdle     = "idle"
	StateWaiting  = "waiting"
	StateFlushing = "flushing"
)

// TierStats is a point-in-time view of one tier.
type TierStats struct {
	Tier             common.SizeTier `json:"tier"`
	State            string          `json:"state"`
	Pending          int             `json:"pending"`
	InFlight         int             `json:"in_flight"`
	Processed        int64           `json:"processed"`
	Batches          int64           `json:"batches"`
	FailedBatches    int64           `json:"failed_batches"`
	Requeued         int64           `json:"requeued"`
	AvgLatencyMs     float64         `json:"avg_latency_ms"`
	LoadFactor       float64         `json:"load_factor"`
	OldestPendingAge time.Duration   `json:"oldest_pending_age"`
	MaxAttempts      int             `json:"max_attempts"`
}

// ---------------------------------------------------------------------------
// tierState
// ---------------------------------------------------------------------------

type tierState struct {
	tier common.SizeTier
	name string
	cfg  TierConfig

	mu         sync.Mutex
	queue      *tierQueue
	timer      *time.Timer
	timerGen   uint64
	flushing   bool
	flushDone  chan struct{}
	inFlight   int
	loadFactor float64
	lastAdjust time.Time

	processed      int64
	batches        int64
	failedBatches  int64
	requeued       int64
	totalLatencyMs float64
}

// batchLimitLocked is maxBatchSize scaled by the load factor, never below
// minBatchSize.
func (ts *tierState) batchLimitLocked() int {
	limit := int(float64(ts.cfg.MaxBatchSize) * ts.loadFactor)
	if limit < ts.cfg.MinBatchSize {
		limit = ts.cfg.MinBatchSize
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

func (ts *tierState) stateLocked() string {
	switch {
	case ts.flushing:
		return StateFlushing
	case ts.timer != nil:
		return StateWaiting
	default:
		return StateIdle
	}
}

// ---------------------------------------------------------------------------
// AdaptiveBatchScheduler
// ---------------------------------------------------------------------------

// AdaptiveBatchScheduler routes requests into per-tier queues and hands
// batches to a BatchProcessor when a tier fills up or its wait timer fires.
// Failed batches are requeued at the front with priority escalated to High;
// there is no retry cap, Stats exposes attempts and queue age instead.
type AdaptiveBatchScheduler struct {
	cfg        *schedulerConfig
	classifier *SizeClassifier
	processor  common.BatchProcessor
	logger     logging.Logger
	metrics    common.ExtractionMetrics
	tiers      map[common.SizeTier]*tierState

	ctx    context.Context
	cancel context.CancelFunc

	closed     atomic.Bool
	closeOnce  sync.Once
	closeErr   error
	dispatches sync.WaitGroup
	callbacks  sync.WaitGroup
}

// NewAdaptiveBatchScheduler validates the tier table and returns an idle
// scheduler.  A nil classifier is replaced by a default one.
func NewAdaptiveBatchScheduler(classifier *SizeClassifier, processor common.BatchProcessor, opts ...SchedulerOption) (*AdaptiveBatchScheduler, error) {
	if processor == nil {
		return nil, errors.New(errors.ErrCodeInvalidBatchConfig, "batch processor is required")
	}
	cfg := defaultSchedulerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.minLoadFactor <= 0 || cfg.minLoadFactor > 1 || cfg.maxLoadFactor < 1 {
		return nil, errors.Newf(errors.ErrCodeInvalidBatchConfig,
			"load factor bounds [%g, %g] must enclose 1.0", cfg.minLoadFactor, cfg.maxLoadFactor)
	}
	if classifier == nil {
		var err error
		classifier, err = NewSizeClassifier(WithClassifierLogger(cfg.logger), WithClassifierMetrics(cfg.metrics))
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &AdaptiveBatchScheduler{
		cfg:        cfg,
		classifier: classifier,
		processor:  processor,
		logger:     cfg.logger.Named("batching"),
		metrics:    cfg.metrics,
		tiers:      make(map[common.SizeTier]*tierState, len(common.AllTiers)),
		ctx:        ctx,
		cancel:     cancel,
	}
	now := cfg.clock()
	for _, tier := range common.AllTiers {
		tc, ok := cfg.tiers[tier]
		if !ok {
			cancel()
			return nil, errors.Newf(errors.ErrCodeInvalidBatchConfig, "missing configuration for %s tier", tier)
		}
		if err := tc.Validate(); err != nil {
			cancel()
			return nil, errors.Wrapf(err, errors.CodeUnknown, "%s tier", tier)
		}
		s.tiers[tier] = &tierState{
			tier:       tier,
			name:       tier.String(),
			cfg:        tc,
			queue:      newTierQueue(),
			loadFactor: 1.0,
			lastAdjust: now,
		}
		s.metrics.RecordLoadFactor(ctx, tier.String(), 1.0)
	}
	return s, nil
}

// Classifier returns the classifier used for routing.
func (s *AdaptiveBatchScheduler) Classifier() *SizeClassifier {
	return s.classifier
}

// Submit classifies req, stamps it and enqueues it in its tier.  An empty
// ID is replaced by a generated one, which is returned.
func (s *AdaptiveBatchScheduler) Submit(ctx context.Context, req *common.ExtractionRequest) (string, error) {
	if req == nil {
		return "", errors.New(errors.ErrCodeMalformedRequest, "nil extraction request")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.closed.Load() {
		return "", ErrSchedulerClosed
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	tier, tokens := s.classifier.ClassifyDocument(req.Text)
	req.SizeTier = tier
	req.EstimatedTokens = tokens
	req.EnqueuedAt = s.cfg.clock()

	ts := s.tiers[tier]
	ts.mu.Lock()
	if s.closed.Load() {
		ts.mu.Unlock()
		return "", ErrSchedulerClosed
	}
	ts.queue.PushBack(req)
	batch := s.evaluateLocked(ts, true)
	qs := s.queueStateLocked(ts)
	ts.mu.Unlock()

	s.metrics.RecordQueueState(ctx, qs)
	if batch != nil {
		go s.runFlushes(ts, batch, TriggerSize)
	}
	return req.ID, nil
}

// evaluateLocked applies the tier state machine after the queue changed.
// Any non-empty queue below the batch limit has a wait timer armed, so a
// tier that never reaches minBatchSize is still flushed after maxWaitTime.
// It returns a batch when a size-triggered flush was started.
func (s *AdaptiveBatchScheduler) evaluateLocked(ts *tierState, allowFlush bool) []*common.ExtractionRequest {
	if ts.flushing || s.closed.Load() {
		return nil
	}
	n := ts.queue.Len()
	switch {
	case n == 0:
		s.stopTimerLocked(ts)
	case allowFlush && n >= ts.batchLimitLocked():
		return s.beginFlushLocked(ts)
	case ts.timer == nil:
		s.armTimerLocked(ts, !allowFlush)
	}
	return nil
}

// armTimerLocked schedules a timeout flush.  The deadline counts from the
// oldest queued request unless fullWait is set.
func (s *AdaptiveBatchScheduler) armTimerLocked(ts *tierState, fullWait bool) {
	wait := ts.cfg.MaxWaitTime
	if !fullWait {
		wait -= ts.queue.OldestAge(s.cfg.clock())
		if wait < 0 {
			wait = 0
		}
	}
	ts.timerGen++
	gen := ts.timerGen
	ts.timer = time.AfterFunc(wait, func() { s.onTimer(ts, gen) })
}

func (s *AdaptiveBatchScheduler) stopTimerLocked(ts *tierState) {
	if ts.timer != nil {
		ts.timer.Stop()
		ts.timer = nil
	}
	ts.timerGen++
}

func (s *AdaptiveBatchScheduler) onTimer(ts *tierState, gen uint64) {
	ts.mu.Lock()
	if gen != ts.timerGen || s.closed.Load() {
		ts.mu.Unlock()
		return
	}
	ts.timer = nil
	var batch []*common.ExtractionRequest
	if !ts.flushing && ts.queue.Len() > 0 {
		batch = s.beginFlushLocked(ts)
	}
	ts.mu.Unlock()

	if batch != nil {
		s.runFlushes(ts, batch, TriggerTimeout)
	}
}

// beginFlushLocked moves up to one batch out of the queue and marks the tier
// as flushing.  Every call is paired with one flushOnce.
func (s *AdaptiveBatchScheduler) beginFlushLocked(ts *tierState) []*common.ExtractionRequest {
	s.stopTimerLocked(ts)
	batch := ts.queue.PopN(ts.batchLimitLocked())
	ts.flushing = true
	ts.flushDone = make(chan struct{})
	ts.inFlight = len(batch)
	s.dispatches.Add(1)
	return batch
}

// runFlushes processes batch and keeps going while the queue stays full.
func (s *AdaptiveBatchScheduler) runFlushes(ts *tierState, batch []*common.ExtractionRequest, trigger string) {
	for batch != nil {
		batch, _ = s.flushOnce(ts, batch, trigger, true)
		trigger = TriggerSize
	}
}

// flushOnce runs one batch through the processor without holding the tier
// lock, then commits the outcome.  With chain set, a follow-up batch is
// returned when the queue is still at its flush threshold.
func (s *AdaptiveBatchScheduler) flushOnce(ts *tierState, batch []*common.ExtractionRequest, trigger string, chain bool) ([]*common.ExtractionRequest, error) {
	defer s.dispatches.Done()

	start := s.cfg.clock()
	results, err := s.process(batch)
	durationMs := float64(s.cfg.clock().Sub(start)) / float64(time.Millisecond)
	n := len(batch)

	ts.mu.Lock()
	var (
		adjusted      bool
		oldLF, newLF  float64
		avgPerRequest float64
	)
	if err != nil {
		for _, r := range batch {
			r.Attempts++
			r.Priority = r.Priority.Escalate(common.PriorityHigh)
		}
		ts.queue.PushFront(batch)
		ts.failedBatches++
		ts.requeued += int64(n)
	} else {
		ts.processed += int64(n)
		ts.batches++
		ts.totalLatencyMs += durationMs
		avgPerRequest = durationMs / float64(n)
		oldLF = ts.loadFactor
		adjusted = s.autoTuneLocked(ts, avgPerRequest, s.cfg.clock())
		newLF = ts.loadFactor
	}
	ts.flushing = false
	ts.inFlight = 0
	close(ts.flushDone)
	next := s.evaluateLocked(ts, chain && err == nil)
	qs := s.queueStateLocked(ts)
	ts.mu.Unlock()

	s.metrics.RecordBatch(s.ctx, &common.BatchMetricParams{
		Tier:       ts.name,
		BatchSize:  n,
		DurationMs: durationMs,
		Success:    err == nil,
		Requeued:   requeuedCount(err, n),
		Trigger:    trigger,
	})
	s.metrics.RecordQueueState(s.ctx, qs)

	if err != nil {
		s.logger.Warn("batch failed, requests requeued",
			logging.String("tier", ts.name),
			logging.Int("batch_size", n),
			logging.String("trigger", trigger),
			logging.Int("max_attempts", qs.MaxAttempts),
			logging.Err(err),
		)
		return next, err
	}

	if adjusted {
		s.metrics.RecordLoadFactor(s.ctx, ts.name, newLF)
		s.logger.Info("load factor adjusted",
			logging.String("tier", ts.name),
			logging.Float64("avg_ms_per_request", avgPerRequest),
			logging.Float64("target_ms", float64(ts.cfg.TargetLatency)/float64(time.Millisecond)),
			logging.Float64("old_load_factor", oldLF),
			logging.Float64("new_load_factor", newLF),
		)
	}

	for i, req := range batch {
		if req.Callback == nil {
			continue
		}
		s.callbacks.Add(1)
		go s.invokeCallback(ts, req, results[i])
	}
	return next, nil
}

func requeuedCount(err error, n int) int {
	if err != nil {
		return n
	}
	return 0
}

// process calls the processor, turning panics and result count mismatches
// into errors.
func (s *AdaptiveBatchScheduler) process(batch []*common.ExtractionRequest) (results []*common.ExtractionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = errors.Newf(errors.ErrCodeBatchProcessingFailed, "batch processor panicked: %v", r)
		}
	}()
	if s.cfg.limiter != nil {
		if werr := s.cfg.limiter.Wait(s.ctx); werr != nil {
			return nil, errors.Wrap(werr, errors.ErrCodeBatchProcessingFailed, "dispatch rate limiter")
		}
	}
	results, err = s.processor.ProcessBatch(s.ctx, batch)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeBatchProcessingFailed, "process batch")
	}
	if len(results) != len(batch) {
		return nil, errors.Newf(errors.ErrCodeResultCountMismatch,
			"processor returned %d results for %d requests", len(results), len(batch))
	}
	return results, nil
}

// autoTuneLocked nudges the load factor toward the tier's latency target,
// at most once per tune interval.
func (s *AdaptiveBatchScheduler) autoTuneLocked(ts *tierState, avgPerRequestMs float64, now time.Time) bool {
	if s.cfg.tuneInterval > 0 && now.Sub(ts.lastAdjust) < s.cfg.tuneInterval {
		return false
	}
	target := float64(ts.cfg.TargetLatency) / float64(time.Millisecond)
	lf := ts.loadFactor
	switch {
	case avgPerRequestMs > target*slowBatchRatio:
		lf *= shrinkStep
		if lf < s.cfg.minLoadFactor {
			lf = s.cfg.minLoadFactor
		}
	case avgPerRequestMs < target*fastBatchRatio:
		lf *= growStep
		if lf > s.cfg.maxLoadFactor {
			lf = s.cfg.maxLoadFactor
		}
	}
	if lf == ts.loadFactor {
		return false
	}
	ts.loadFactor = lf
	ts.lastAdjust = now
	return true
}

func (s *AdaptiveBatchScheduler) invokeCallback(ts *tierState, req *common.ExtractionRequest, result *common.ExtractionResult) {
	defer s.callbacks.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("result callback panicked",
				logging.String("tier", ts.name),
				logging.String("request_id", req.ID),
				logging.Any("panic", r),
			)
			s.metrics.RecordCallbackError(s.ctx, ts.name)
		}
	}()
	if err := req.Callback(s.ctx, req.ID, result); err != nil {
		s.logger.Error("result callback failed",
			logging.String("tier", ts.name),
			logging.String("request_id", req.ID),
			logging.Err(err),
		)
		s.metrics.RecordCallbackError(s.ctx, ts.name)
	}
}

func (s *AdaptiveBatchScheduler) queueStateLocked(ts *tierState) *common.QueueMetricParams {
	return &common.QueueMetricParams{
		Tier:             ts.name,
		Depth:            ts.queue.Len(),
		OldestAgeSeconds: ts.queue.OldestAge(s.cfg.clock()).Seconds(),
		MaxAttempts:      ts.queue.MaxAttempts(),
	}
}

// FlushAll drains every tier regardless of thresholds.  A tier stops
// draining at its first failed batch; the failures are joined.
func (s *AdaptiveBatchScheduler) FlushAll(ctx context.Context) error {
	errs := make([]error, len(common.AllTiers))
	var wg sync.WaitGroup
	for i, tier := range common.AllTiers {
		wg.Add(1)
		go func(i int, ts *tierState) {
			defer wg.Done()
			errs[i] = s.drainTier(ctx, ts)
		}(i, s.tiers[tier])
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (s *AdaptiveBatchScheduler) drainTier(ctx context.Context, ts *tierState) error {
	for {
		ts.mu.Lock()
		if ts.flushing {
			done := ts.flushDone
			ts.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if ts.queue.Len() == 0 {
			ts.mu.Unlock()
			return nil
		}
		batch := s.beginFlushLocked(ts)
		ts.mu.Unlock()

		if _, err := s.flushOnce(ts, batch, TriggerFlushAll, false); err != nil {
			return errors.Wrapf(err, errors.CodeUnknown, "flush %s tier", ts.name)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Close stops accepting requests, cancels timers, drains every tier and
// waits for outstanding callbacks.  Later calls return the first result.
func (s *AdaptiveBatchScheduler) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		for _, ts := range s.tiers {
			ts.mu.Lock()
			s.stopTimerLocked(ts)
			ts.mu.Unlock()
		}

		err := s.FlushAll(ctx)

		done := make(chan struct{})
		go func() {
			s.dispatches.Wait()
			s.callbacks.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = errors.Join(err, ctx.Err())
		}

		for _, st := range s.Stats() {
			if st.Pending > 0 {
				s.logger.Warn("requests left undelivered at shutdown",
					logging.String("tier", st.Tier.String()),
					logging.Int("pending", st.Pending),
					logging.Int("max_attempts", st.MaxAttempts),
				)
			}
		}
		s.cancel()
		s.closeErr = err
	})
	return s.closeErr
}

// StatsFor returns a snapshot of one tier.
func (s *AdaptiveBatchScheduler) StatsFor(tier common.SizeTier) TierStats {
	ts, ok := s.tiers[tier]
	if !ok {
		return TierStats{Tier: tier}
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	st := TierStats{
		Tier:             tier,
		State:            ts.stateLocked(),
		Pending:          ts.queue.Len(),
		InFlight:         ts.inFlight,
		Processed:        ts.processed,
		Batches:          ts.batches,
		FailedBatches:    ts.failedBatches,
		Requeued:         ts.requeued,
		LoadFactor:       ts.loadFactor,
		OldestPendingAge: ts.queue.OldestAge(s.cfg.clock()),
		MaxAttempts:      ts.queue.MaxAttempts(),
	}
	if ts.batches > 0 {
		st.AvgLatencyMs = ts.totalLatencyMs / float64(ts.batches)
	}
	return st
}

// Stats returns a snapshot of every tier, smallest first.
func (s *AdaptiveBatchScheduler) Stats() []TierStats {
	out := make([]TierStats, 0, len(common.AllTiers))
	for _, tier := range common.AllTiers {
		out = append(out, s.StatsFor(tier))
	}
	return out
}
