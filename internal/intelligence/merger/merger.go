package merger

import (
	"context"
	"sort"
	"time"

	"github.com/turtacn/LexExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract/internal/intelligence/common"
	"github.com/turtacn/LexExtract/pkg/errors"
)

const DefaultValidationThreshold = 0.8

// Config holds the merge thresholds.
type Config struct {
	EntityThreshold     float64 `json:"entity_threshold" yaml:"entity_threshold"`
	CitationThreshold   float64 `json:"citation_threshold" yaml:"citation_threshold"`
	ProximityWindow     int     `json:"proximity_window" yaml:"proximity_window"`
	ValidationThreshold float64 `json:"validation_threshold" yaml:"validation_threshold"`
}

// DefaultConfig returns the built-in thresholds.
func DefaultConfig() Config {
	return Config{
		EntityThreshold:     DefaultEntityThreshold,
		CitationThreshold:   DefaultCitationThreshold,
		ProximityWindow:     DefaultProximityWindow,
		ValidationThreshold: DefaultValidationThreshold,
	}
}

// Validate requires similarity thresholds in (0, 1] and a positive window.
func (c Config) Validate() error {
	thresholds := []struct {
		name  string
		value float64
	}{
		{"entity threshold", c.EntityThreshold},
		{"citation threshold", c.CitationThreshold},
		{"validation threshold", c.ValidationThreshold},
	}
	for _, th := range thresholds {
		if th.value <= 0 || th.value > 1 {
			return errors.Newf(errors.ErrCodeValidation, "%s must be in (0, 1], got %g", th.name, th.value)
		}
	}
	if c.ProximityWindow <= 0 {
		return errors.Newf(errors.ErrCodeValidation, "proximity window must be positive, got %d", c.ProximityWindow)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Result types
// ---------------------------------------------------------------------------

// DedupStats reports raw versus merged counts per category.
type DedupStats struct {
	Entities  DedupCounts `json:"entities" yaml:"entities"`
	Citations DedupCounts `json:"citations" yaml:"citations"`
}

// ConfidenceAdjustmentStats reports how many merged records were boosted
// above their base confidence and by how much on average.
type ConfidenceAdjustmentStats struct {
	EntitiesBoosted  int     `json:"entities_boosted" yaml:"entities_boosted"`
	CitationsBoosted int     `json:"citations_boosted" yaml:"citations_boosted"`
	AvgEntityBoost   float64 `json:"avg_entity_boost" yaml:"avg_entity_boost"`
	AvgCitationBoost float64 `json:"avg_citation_boost" yaml:"avg_citation_boost"`
}

// Metadata describes one merge call.
type Metadata struct {
	ChunkCount          int           `json:"chunk_count" yaml:"chunk_count"`
	DocumentLength      int           `json:"document_length" yaml:"document_length"`
	ProcessingTime      time.Duration `json:"processing_time" yaml:"processing_time"`
	ValidationPerformed bool          `json:"validation_performed" yaml:"validation_performed"`
	PositionWarnings    int           `json:"position_warnings" yaml:"position_warnings"`
	MergedAt            time.Time     `json:"merged_at" yaml:"merged_at"`
}

// MergedResult is the output of ResultMerger.Merge.
type MergedResult struct {
	Entities                  []MergedEntity            `json:"entities" yaml:"entities"`
	Citations                 []MergedCitation          `json:"citations" yaml:"citations"`
	Relationships             []Relationship            `json:"relationships" yaml:"relationships"`
	DedupStats                DedupStats                `json:"dedup_stats" yaml:"dedup_stats"`
	ConfidenceAdjustmentStats ConfidenceAdjustmentStats `json:"confidence_adjustment_stats" yaml:"confidence_adjustment_stats"`
	Metadata                  Metadata                  `json:"metadata" yaml:"metadata"`
}

// SortByPosition orders entities and citations by start, then end, then text.
// Merge itself does not promise any order.
func (r *MergedResult) SortByPosition() {
	sort.SliceStable(r.Entities, func(i, j int) bool {
		a, b := r.Entities[i], r.Entities[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.Text < b.Text
	})
	sort.SliceStable(r.Citations, func(i, j int) bool {
		a, b := r.Citations[i], r.Citations[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.Text < b.Text
	})
}

// ---------------------------------------------------------------------------
// ResultMerger
// ---------------------------------------------------------------------------

// Option configures a ResultMerger.
type Option func(*ResultMerger)

// WithLogger injects a logger; position warnings go through it.
func WithLogger(l logging.Logger) Option {
	return func(m *ResultMerger) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics injects a metrics collector.
func WithMetrics(mc common.ExtractionMetrics) Option {
	return func(m *ResultMerger) {
		if mc != nil {
			m.metrics = mc
		}
	}
}

// WithClock replaces time.Now for MergedAt and ProcessingTime.
func WithClock(now func() time.Time) Option {
	return func(m *ResultMerger) {
		if now != nil {
			m.clock = now
		}
	}
}

// ResultMerger collects per-chunk results, deduplicates them and infers
// relationships.  It holds no state between calls.
type ResultMerger struct {
	cfg     Config
	dedup   *FuzzyDeduplicator
	inferer *RelationshipInferer
	logger  logging.Logger
	metrics common.ExtractionMetrics
	clock   func() time.Time
}

// NewResultMerger validates cfg and builds a merger.
func NewResultMerger(cfg Config, opts ...Option) (*ResultMerger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &ResultMerger{
		cfg:     cfg,
		dedup:   NewFuzzyDeduplicator(cfg.EntityThreshold, cfg.CitationThreshold),
		inferer: NewRelationshipInferer(cfg.ProximityWindow),
		logger:  logging.NewNopLogger(),
		metrics: common.NewNoopExtractionMetrics(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Merge combines chunkResults (one per boundary, same order) into a single
// document result.  When documentText is given, every final position is
// checked against it and mismatches are logged; the result is never altered
// by that check.
func (m *ResultMerger) Merge(chunkResults []*common.ExtractionResult, boundaries []ChunkBoundary, documentText *string) (*MergedResult, error) {
	start := m.clock()

	collected, err := CollectChunkResults(chunkResults, boundaries)
	if err != nil {
		return nil, err
	}
	entityMatches, entityCounts := m.dedup.DedupeEntities(collected.Entities)
	citationMatches, citationCounts := m.dedup.DedupeCitations(collected.Citations)
	relationships := m.inferer.Infer(entityMatches, citationMatches)

	res := &MergedResult{
		Entities:      make([]MergedEntity, 0, len(entityMatches)),
		Citations:     make([]MergedCitation, 0, len(citationMatches)),
		Relationships: relationships,
		DedupStats:    DedupStats{Entities: entityCounts, Citations: citationCounts},
	}
	if res.Relationships == nil {
		res.Relationships = []Relationship{}
	}

	var entityBoost, citationBoost float64
	for _, em := range entityMatches {
		fe := em.Finalize()
		if boost := fe.Confidence - fe.MaxConfidence; boost > 0 {
			res.ConfidenceAdjustmentStats.EntitiesBoosted++
			entityBoost += boost
		}
		res.Entities = append(res.Entities, fe)
	}
	for _, cm := range citationMatches {
		fc := cm.Finalize()
		if boost := fc.Confidence - fc.AverageConfidence; boost > 0 {
			res.ConfidenceAdjustmentStats.CitationsBoosted++
			citationBoost += boost
		}
		res.Citations = append(res.Citations, fc)
	}
	if n := res.ConfidenceAdjustmentStats.EntitiesBoosted; n > 0 {
		res.ConfidenceAdjustmentStats.AvgEntityBoost = entityBoost / float64(n)
	}
	if n := res.ConfidenceAdjustmentStats.CitationsBoosted; n > 0 {
		res.ConfidenceAdjustmentStats.AvgCitationBoost = citationBoost / float64(n)
	}

	var entityWarnings, citationWarnings int
	if documentText != nil {
		doc := []rune(*documentText)
		res.Metadata.DocumentLength = len(doc)
		res.Metadata.ValidationPerformed = true
		for _, e := range res.Entities {
			if !m.validatePosition(doc, "entity", e.Text, e.Start, e.End) {
				entityWarnings++
			}
		}
		for _, c := range res.Citations {
			if !m.validatePosition(doc, "citation", c.Text, c.Start, c.End) {
				citationWarnings++
			}
		}
	}

	end := m.clock()
	res.Metadata.ChunkCount = len(boundaries)
	res.Metadata.PositionWarnings = entityWarnings + citationWarnings
	res.Metadata.ProcessingTime = end.Sub(start)
	res.Metadata.MergedAt = end

	m.metrics.RecordMerge(context.Background(), &common.MergeMetricParams{
		RawEntities:      entityCounts.Raw,
		MergedEntities:   entityCounts.Merged,
		RawCitations:     citationCounts.Raw,
		MergedCitations:  citationCounts.Merged,
		Relationships:    len(res.Relationships),
		PositionWarnings: res.Metadata.PositionWarnings,
		EntityWarnings:   entityWarnings,
		CitationWarnings: citationWarnings,
		DurationMs:       float64(res.Metadata.ProcessingTime) / float64(time.Millisecond),
	})
	m.logger.Debug("chunk results merged",
		logging.Int("chunks", len(boundaries)),
		logging.Int("raw_entities", entityCounts.Raw),
		logging.Int("entities", entityCounts.Merged),
		logging.Int("raw_citations", citationCounts.Raw),
		logging.Int("citations", citationCounts.Merged),
		logging.Int("relationships", len(res.Relationships)),
		logging.Duration("elapsed", res.Metadata.ProcessingTime),
	)
	return res, nil
}

// validatePosition reports whether doc[start:end] plausibly holds expected.
func (m *ResultMerger) validatePosition(doc []rune, category, expected string, start, end int) bool {
	if start < 0 || end > len(doc) || start >= end {
		m.logger.Warn("merged position out of bounds",
			logging.String("category", category),
			logging.String("text", expected),
			logging.Int("start", start),
			logging.Int("end", end),
			logging.Int("document_length", len(doc)),
		)
		return false
	}
	actual := string(doc[start:end])
	sim := Similarity(expected, actual)
	if sim < m.cfg.ValidationThreshold {
		m.logger.Warn("merged position does not match document text",
			logging.String("category", category),
			logging.String("expected", expected),
			logging.String("actual", actual),
			logging.Int("start", start),
			logging.Int("end", end),
			logging.Float64("similarity", sim),
		)
		return false
	}
	return true
}
