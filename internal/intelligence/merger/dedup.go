package merger

import (
	"sort"
	"strings"

	"github.com/turtacn/LexExtract/internal/intelligence/common"
)

const (
	DefaultEntityThreshold   = 0.85
	DefaultCitationThreshold = 0.90

	multiChunkBoost      = 0.10
	frequentEntityBoost  = 0.05
	frequentEntityCutoff = 3
)

// Position is one whole-document occurrence.
type Position struct {
	Start      int `json:"start" yaml:"start"`
	End        int `json:"end" yaml:"end"`
	ChunkIndex int `json:"chunk_index" yaml:"chunk_index"`
}

// ---------------------------------------------------------------------------
// Buckets
// ---------------------------------------------------------------------------

// match is the state shared by entity and citation buckets.
type match struct {
	CanonicalText    string
	ConfidenceScores []float64
	SourceChunks     map[int]struct{}
	Positions        []Position

	normalized   string
	canonicalPos int
}

func newMatch(text, normalized string, confidence float64, pos Position) match {
	return match{
		CanonicalText:    text,
		ConfidenceScores: []float64{confidence},
		SourceChunks:     map[int]struct{}{pos.ChunkIndex: {}},
		Positions:        []Position{pos},
		normalized:       normalized,
	}
}

// add records one more occurrence.  A strictly longer raw text becomes the
// canonical text.
func (m *match) add(text, normalized string, confidence float64, pos Position) {
	m.ConfidenceScores = append(m.ConfidenceScores, confidence)
	m.SourceChunks[pos.ChunkIndex] = struct{}{}
	m.Positions = append(m.Positions, pos)
	if len([]rune(text)) > len([]rune(m.CanonicalText)) {
		m.CanonicalText = text
		m.normalized = normalized
		m.canonicalPos = len(m.Positions) - 1
	}
}

// absorb folds another bucket's occurrences into m.  The longer canonical
// text wins; on equal length m keeps its own.
func (m *match) absorb(o *match) {
	offset := len(m.Positions)
	m.ConfidenceScores = append(m.ConfidenceScores, o.ConfidenceScores...)
	for c := range o.SourceChunks {
		m.SourceChunks[c] = struct{}{}
	}
	m.Positions = append(m.Positions, o.Positions...)
	if len([]rune(o.CanonicalText)) > len([]rune(m.CanonicalText)) {
		m.CanonicalText = o.CanonicalText
		m.normalized = o.normalized
		m.canonicalPos = offset + o.canonicalPos
	}
}

// AverageConfidence is the mean of every contributing confidence.
func (m *match) AverageConfidence() float64 {
	if len(m.ConfidenceScores) == 0 {
		return 0
	}
	var sum float64
	for _, c := range m.ConfidenceScores {
		sum += c
	}
	return sum / float64(len(m.ConfidenceScores))
}

// MaxConfidence is the highest contributing confidence.
func (m *match) MaxConfidence() float64 {
	max := 0.0
	for _, c := range m.ConfidenceScores {
		if c > max {
			max = c
		}
	}
	return max
}

// OccurrenceCount is the number of merged raw records.
func (m *match) OccurrenceCount() int {
	return len(m.Positions)
}

// Chunks returns the contributing chunk indices in ascending order.
func (m *match) Chunks() []int {
	out := make([]int, 0, len(m.SourceChunks))
	for c := range m.SourceChunks {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

// CanonicalPosition is the occurrence that supplied the canonical text.
func (m *match) CanonicalPosition() Position {
	return m.Positions[m.canonicalPos]
}

// EntityMatch is a bucket of near-duplicate entities of one type.
type EntityMatch struct {
	match
	Type string
}

func (m *EntityMatch) base() *match { return &m.match }
func (m *EntityMatch) accepts(o *EntityMatch) bool { return m.Type == o.Type }
func (m *EntityMatch) absorb(o *EntityMatch) { m.match.absorb(&o.match) }

// FinalConfidence starts from the best detection and rewards corroboration
// across chunks and frequent repetition.
func (m *EntityMatch) FinalConfidence() float64 {
	c := m.MaxConfidence()
	if len(m.SourceChunks) > 1 {
		c += multiChunkBoost
	}
	if m.OccurrenceCount() > frequentEntityCutoff {
		c += frequentEntityBoost
	}
	return clampUnit(c)
}

// CitationMatch is a bucket of near-duplicate citations of any type.
type CitationMatch struct {
	match
	CitationType string
}

func (m *CitationMatch) base() *match { return &m.match }
func (m *CitationMatch) accepts(*CitationMatch) bool { return true }

func (m *CitationMatch) absorb(o *CitationMatch) {
	m.match.absorb(&o.match)
	if m.CitationType == "" {
		m.CitationType = o.CitationType
	}
}

// FinalConfidence starts from the mean detection and rewards corroboration
// across chunks.
func (m *CitationMatch) FinalConfidence() float64 {
	c := m.AverageConfidence()
	if len(m.SourceChunks) > 1 {
		c += multiChunkBoost
	}
	return clampUnit(c)
}

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// ---------------------------------------------------------------------------
// Output records
// ---------------------------------------------------------------------------

// MergedEntity is the finalized form of an EntityMatch.  Start and End are
// the span of the canonical occurrence.
type MergedEntity struct {
	Text              string     `json:"text" yaml:"text"`
	Type              string     `json:"type" yaml:"type"`
	Confidence        float64    `json:"confidence" yaml:"confidence"`
	AverageConfidence float64    `json:"average_confidence" yaml:"average_confidence"`
	MaxConfidence     float64    `json:"max_confidence" yaml:"max_confidence"`
	ConfidenceScores  []float64  `json:"confidence_scores" yaml:"confidence_scores"`
	OccurrenceCount   int        `json:"occurrence_count" yaml:"occurrence_count"`
	SourceChunks      []int      `json:"source_chunks" yaml:"source_chunks"`
	Start             int        `json:"start" yaml:"start"`
	End               int        `json:"end" yaml:"end"`
	Positions         []Position `json:"positions" yaml:"positions"`
}

// MergedCitation is the finalized form of a CitationMatch.
type MergedCitation struct {
	Text              string     `json:"text" yaml:"text"`
	CitationType      string     `json:"citation_type,omitempty" yaml:"citation_type,omitempty"`
	Confidence        float64    `json:"confidence" yaml:"confidence"`
	AverageConfidence float64    `json:"average_confidence" yaml:"average_confidence"`
	MaxConfidence     float64    `json:"max_confidence" yaml:"max_confidence"`
	ConfidenceScores  []float64  `json:"confidence_scores" yaml:"confidence_scores"`
	OccurrenceCount   int        `json:"occurrence_count" yaml:"occurrence_count"`
	SourceChunks      []int      `json:"source_chunks" yaml:"source_chunks"`
	Start             int        `json:"start" yaml:"start"`
	End               int        `json:"end" yaml:"end"`
	Positions         []Position `json:"positions" yaml:"positions"`
}

// Finalize converts the bucket to its output form.
func (m *EntityMatch) Finalize() MergedEntity {
	p := m.CanonicalPosition()
	return MergedEntity{
		Text:              m.CanonicalText,
		Type:              m.Type,
		Confidence:        m.FinalConfidence(),
		AverageConfidence: m.AverageConfidence(),
		MaxConfidence:     m.MaxConfidence(),
		ConfidenceScores:  append([]float64(nil), m.ConfidenceScores...),
		OccurrenceCount:   m.OccurrenceCount(),
		SourceChunks:      m.Chunks(),
		Start:             p.Start,
		End:               p.End,
		Positions:         append([]Position(nil), m.Positions...),
	}
}

// Finalize converts the bucket to its output form.
func (m *CitationMatch) Finalize() MergedCitation {
	p := m.CanonicalPosition()
	return MergedCitation{
		Text:              m.CanonicalText,
		CitationType:      m.CitationType,
		Confidence:        m.FinalConfidence(),
		AverageConfidence: m.AverageConfidence(),
		MaxConfidence:     m.MaxConfidence(),
		ConfidenceScores:  append([]float64(nil), m.ConfidenceScores...),
		OccurrenceCount:   m.OccurrenceCount(),
		SourceChunks:      m.Chunks(),
		Start:             p.Start,
		End:               p.End,
		Positions:         append([]Position(nil), m.Positions...),
	}
}

// ---------------------------------------------------------------------------
// FuzzyDeduplicator
// ---------------------------------------------------------------------------

// DedupCounts summarizes one dedup pass.
type DedupCounts struct {
	Raw               int `json:"raw" yaml:"raw"`
	Merged            int `json:"merged" yaml:"merged"`
	DuplicatesRemoved int `json:"duplicates_removed" yaml:"duplicates_removed"`
	DroppedEmpty      int `json:"dropped_empty" yaml:"dropped_empty"`
}

func newDedupCounts(raw, dropped, merged int) DedupCounts {
	return DedupCounts{
		Raw:               raw,
		Merged:            merged,
		DuplicatesRemoved: raw - dropped - merged,
		DroppedEmpty:      dropped,
	}
}

// FuzzyDeduplicator merges near-duplicate records by normalized-text
// similarity.  Each candidate joins the most similar bucket at or above the
// threshold, the earliest bucket winning ties; otherwise it opens a new one.
// A bucket whose canonical text grew may come within the threshold of
// another, so buckets are then consolidated until no pair qualifies; deduping
// the canonical texts again yields the same number of buckets.
type FuzzyDeduplicator struct {
	entityThreshold   float64
	citationThreshold float64
}

// NewFuzzyDeduplicator uses the default thresholds for non-positive values.
func NewFuzzyDeduplicator(entityThreshold, citationThreshold float64) *FuzzyDeduplicator {
	if entityThreshold <= 0 {
		entityThreshold = DefaultEntityThreshold
	}
	if citationThreshold <= 0 {
		citationThreshold = DefaultCitationThreshold
	}
	return &FuzzyDeduplicator{entityThreshold: entityThreshold, citationThreshold: citationThreshold}
}

// DedupeEntities buckets entities of identical type.  Records whose text is
// empty or whitespace are dropped.
func (d *FuzzyDeduplicator) DedupeEntities(raw []common.RawEntity) ([]*EntityMatch, DedupCounts) {
	var (
		buckets []*EntityMatch
		dropped int
	)
	for _, e := range raw {
		if strings.TrimSpace(e.Text) == "" {
			dropped++
			continue
		}
		norm := NormalizeEntityText(e.Text)
		pos := Position{Start: e.Start, End: e.End, ChunkIndex: e.SourceChunkIndex}

		best, bestScore := -1, 0.0
		for i, b := range buckets {
			if b.Type != e.Type {
				continue
			}
			if s := Similarity(norm, b.normalized); s >= d.entityThreshold && s > bestScore {
				best, bestScore = i, s
			}
		}
		if best >= 0 {
			buckets[best].add(e.Text, norm, e.Confidence, pos)
			continue
		}
		buckets = append(buckets, &EntityMatch{match: newMatch(e.Text, norm, e.Confidence, pos), Type: e.Type})
	}
	buckets = consolidate(buckets, d.entityThreshold)
	return buckets, newDedupCounts(len(raw), dropped, len(buckets))
}

// DedupeCitations buckets citations regardless of citation type.  The first
// non-empty type seen becomes the bucket's type.
func (d *FuzzyDeduplicator) DedupeCitations(raw []common.RawCitation) ([]*CitationMatch, DedupCounts) {
	var (
		buckets []*CitationMatch
		dropped int
	)
	for _, c := range raw {
		if strings.TrimSpace(c.Text) == "" {
			dropped++
			continue
		}
		norm := NormalizeCitationText(c.Text)
		pos := Position{Start: c.Start, End: c.End, ChunkIndex: c.SourceChunkIndex}

		best, bestScore := -1, 0.0
		for i, b := range buckets {
			if s := Similarity(norm, b.normalized); s >= d.citationThreshold && s > bestScore {
				best, bestScore = i, s
			}
		}
		if best >= 0 {
			b := buckets[best]
			b.add(c.Text, norm, c.Confidence, pos)
			if b.CitationType == "" {
				b.CitationType = c.CitationType
			}
			continue
		}
		buckets = append(buckets, &CitationMatch{match: newMatch(c.Text, norm, c.Confidence, pos), CitationType: c.CitationType})
	}
	buckets = consolidate(buckets, d.citationThreshold)
	return buckets, newDedupCounts(len(raw), dropped, len(buckets))
}

type mergeable[B any] interface {
	base() *match
	accepts(B) bool
	absorb(B)
}

// consolidate merges any two buckets whose canonical texts are within the
// threshold, comparing the later text against the earlier one as the
// bucketing loop does.  The earlier bucket absorbs the later one, and passes
// repeat until nothing merges.
func consolidate[B mergeable[B]](buckets []B, threshold float64) []B {
	for changed := true; changed; {
		changed = false
		for i := 0; i < len(buckets); i++ {
			for j := i + 1; j < len(buckets); {
				a, b := buckets[i], buckets[j]
				if !a.accepts(b) || Similarity(b.base().normalized, a.base().normalized) < threshold {
					j++
					continue
				}
				a.absorb(b)
				buckets = append(buckets[:j], buckets[j+1:]...)
				changed = true
			}
		}
	}
	return buckets
}
