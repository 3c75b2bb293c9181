package batching

import (
	"context"
	"encoding/binary"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/turtacn/LexExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract/internal/intelligence/common"
	"github.com/turtacn/LexExtract/pkg/errors"
)

// Tier boundaries in estimated tokens; a count belongs to the first tier
// whose bound it is strictly below.
const (
	SmallTierLimit  = 500
	MediumTierLimit = 2000
	LargeTierLimit  = 10000
)

const (
	DefaultEstimatorCacheSize  = 10000
	DefaultWordsPerTokenRatio  = 0.75
	DefaultCalibrationHistory  = 1000
	fingerprintPrefixRunes     = 100
	calibrationSmoothingWeight = 0.1
	estimatorCacheName         = "estimator"
)

type cachedEstimate struct {
	tokens int
	tier   common.SizeTier
}

// ClassifierOption configures a SizeClassifier.
type ClassifierOption func(*SizeClassifier)

// WithCacheSize bounds the fingerprint cache.
func WithCacheSize(n int) ClassifierOption {
	return func(c *SizeClassifier) {
		if n > 0 {
			c.cacheSize = n
		}
	}
}

// WithWordsPerTokenRatio overrides the words-per-token divisor of the word term.
func WithWordsPerTokenRatio(r float64) ClassifierOption {
	return func(c *SizeClassifier) {
		if r > 0 {
			c.wordsPerTokenRatio = r
		}
	}
}

// WithCalibrationHistory sets how many observed ratios are retained.
func WithCalibrationHistory(n int) ClassifierOption {
	return func(c *SizeClassifier) {
		if n > 0 {
			c.historySize = n
		}
	}
}

// WithClassifierLogger injects a logger.
func WithClassifierLogger(l logging.Logger) ClassifierOption {
	return func(c *SizeClassifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClassifierMetrics injects a metrics collector.
func WithClassifierMetrics(m common.ExtractionMetrics) ClassifierOption {
	return func(c *SizeClassifier) {
		if m != nil {
			c.metrics = m
		}
	}
}

// SizeClassifier estimates token counts heuristically and buckets them into
// size tiers.  It is safe for concurrent use.
type SizeClassifier struct {
	cacheSize          int
	wordsPerTokenRatio float64
	historySize        int
	logger             logging.Logger
	metrics            common.ExtractionMetrics

	cache *lru.Cache[uint64, cachedEstimate]

	mu               sync.RWMutex
	adjustmentFactor float64
	ratios           []float64
	ratioNext        int
}

// NewSizeClassifier builds a classifier with an adjustment factor of 1.0.
func NewSizeClassifier(opts ...ClassifierOption) (*SizeClassifier, error) {
	c := &SizeClassifier{
		cacheSize:          DefaultEstimatorCacheSize,
		wordsPerTokenRatio: DefaultWordsPerTokenRatio,
		historySize:        DefaultCalibrationHistory,
		logger:             logging.NewNopLogger(),
		metrics:            common.NewNoopExtractionMetrics(),
		adjustmentFactor:   1.0,
	}
	for _, opt := range opts {
		opt(c)
	}
	cache, err := lru.New[uint64, cachedEstimate](c.cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidBatchConfig, "estimator cache")
	}
	c.cache = cache
	c.ratios = make([]float64, 0, c.historySize)
	return c, nil
}

// Estimate returns the heuristic token count of text.  Empty text is 0.
func (c *SizeClassifier) Estimate(text string) int {
	_, tokens := c.ClassifyDocument(text)
	return tokens
}

// Classify maps a token count to its tier.
func (c *SizeClassifier) Classify(tokens int) common.SizeTier {
	return ClassifyTokens(tokens)
}

// ClassifyTokens maps a token count to its tier using the fixed boundaries.
func ClassifyTokens(tokens int) common.SizeTier {
	switch {
	case tokens < SmallTierLimit:
		return common.TierSmall
	case tokens < MediumTierLimit:
		return common.TierMedium
	case tokens < LargeTierLimit:
		return common.TierLarge
	default:
		return common.TierExtraLarge
	}
}

// ClassifyDocument estimates text and returns its tier and token count.
// Repeated texts are served from the fingerprint cache.
func (c *SizeClassifier) ClassifyDocument(text string) (common.SizeTier, int) {
	if text == "" {
		return common.TierSmall, 0
	}
	key := fingerprint(text)
	if hit, ok := c.cache.Get(key); ok {
		c.metrics.RecordCacheAccess(context.Background(), estimatorCacheName, true)
		return hit.tier, hit.tokens
	}
	c.metrics.RecordCacheAccess(context.Background(), estimatorCacheName, false)

	c.mu.RLock()
	factor := c.adjustmentFactor
	c.mu.RUnlock()

	tokens := int(rawEstimate(text, c.wordsPerTokenRatio) * factor)
	if tokens < 0 {
		tokens = 0
	}
	tier := ClassifyTokens(tokens)
	c.cache.Add(key, cachedEstimate{tokens: tokens, tier: tier})
	return tier, tokens
}

// Calibrate reports the actual token count of text.  The observed ratio
// actual/raw feeds an exponential moving average of the adjustment factor.
// Observations with a zero raw estimate or a non-positive count are ignored.
func (c *SizeClassifier) Calibrate(text string, actualTokens int) {
	raw := rawEstimate(text, c.wordsPerTokenRatio)
	if raw <= 0 || actualTokens <= 0 {
		return
	}
	ratio := float64(actualTokens) / raw

	c.mu.Lock()
	if len(c.ratios) < c.historySize {
		c.ratios = append(c.ratios, ratio)
	} else {
		c.ratios[c.ratioNext] = ratio
		c.ratioNext = (c.ratioNext + 1) % c.historySize
	}
	old := c.adjustmentFactor
	c.adjustmentFactor = (1-calibrationSmoothingWeight)*old + calibrationSmoothingWeight*ratio
	factor := c.adjustmentFactor
	c.mu.Unlock()

	// cached tokens were computed with the old factor
	c.cache.Purge()

	c.logger.Debug("estimator calibrated",
		logging.Float64("ratio", ratio),
		logging.Float64("previous_factor", old),
		logging.Float64("adjustment_factor", factor),
	)
}

// CalibrateWith counts text with counter and feeds the result to Calibrate.
func (c *SizeClassifier) CalibrateWith(counter common.TokenCounter, text string) (int, error) {
	actual, err := counter.CountTokens(text)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeExternalService, "count tokens")
	}
	c.Calibrate(text, actual)
	return actual, nil
}

// AdjustmentFactor returns the current multiplicative correction.
func (c *SizeClassifier) AdjustmentFactor() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.adjustmentFactor
}

// CalibrationSamples returns how many ratios are retained.
func (c *SizeClassifier) CalibrationSamples() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ratios)
}

// MeanRatio is the mean of the retained ratios, or 0 with no samples.
func (c *SizeClassifier) MeanRatio() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.ratios) == 0 {
		return 0
	}
	var sum float64
	for _, r := range c.ratios {
		sum += r
	}
	return sum / float64(len(c.ratios))
}

// CacheLen reports the number of cached fingerprints.
func (c *SizeClassifier) CacheLen() int {
	return c.cache.Len()
}

// rawEstimate is the unadjusted blend of character, word and special
// character terms.
func rawEstimate(text string, wordsPerTokenRatio float64) float64 {
	if text == "" {
		return 0
	}
	chars := utf8.RuneCountInString(text)
	words := len(strings.Fields(text))
	special := 0
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			special++
		}
	}
	return 0.4*(float64(chars)/4) +
		0.6*(float64(words)/wordsPerTokenRatio) +
		float64(special)/10
}

// fingerprint hashes the first 100 runes of text together with its length.
func fingerprint(text string) uint64 {
	prefix := text
	n := 0
	for i := range text {
		if n == fingerprintPrefixRunes {
			prefix = text[:i]
			break
		}
		n++
	}
	d := xxhash.New()
	_, _ = d.WriteString(prefix)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(text)))
	_, _ = d.Write(lenBuf[:])
	return d.Sum64()
}
