package merger

import "sort"

const (
	// RelationEntityCitedIn links an entity to a citation found near it.
	RelationEntityCitedIn = "entity_cited_in"

	DefaultProximityWindow = 200
)

// Relationship is a proximity-derived link between a merged entity and a
// merged citation.
type Relationship struct {
	Type           string  `json:"type" yaml:"type"`
	SourceEntity   string  `json:"source_entity" yaml:"source_entity"`
	SourceType     string  `json:"source_type" yaml:"source_type"`
	TargetCitation string  `json:"target_citation" yaml:"target_citation"`
	TargetType     string  `json:"target_type,omitempty" yaml:"target_type,omitempty"`
	Confidence     float64 `json:"confidence" yaml:"confidence"`
	EvidenceChunks []int   `json:"evidence_chunks" yaml:"evidence_chunks"`
}

// RelationshipInferer emits an entity_cited_in relationship when an entity
// and a citation occur in the same chunk with starts less than window runes
// apart.  Output holds one relationship per (type, entity text, citation
// text), ordered by first discovery.
type RelationshipInferer struct {
	window int
}

// NewRelationshipInferer uses DefaultProximityWindow for a non-positive window.
func NewRelationshipInferer(window int) *RelationshipInferer {
	if window <= 0 {
		window = DefaultProximityWindow
	}
	return &RelationshipInferer{window: window}
}

type relationKey struct {
	kind, source, target string
}

// Infer derives relationships from deduplicated entities and citations.
func (ri *RelationshipInferer) Infer(entities []*EntityMatch, citations []*CitationMatch) []Relationship {
	var (
		out      []Relationship
		index    = map[relationKey]int{}
		evidence = map[relationKey]map[int]struct{}{}
	)
	for _, e := range entities {
		for _, c := range citations {
			chunks := ri.proximateChunks(e, c)
			if len(chunks) == 0 {
				continue
			}
			key := relationKey{RelationEntityCitedIn, e.CanonicalText, c.CanonicalText}
			if _, seen := index[key]; !seen {
				index[key] = len(out)
				evidence[key] = map[int]struct{}{}
				out = append(out, Relationship{
					Type:           RelationEntityCitedIn,
					SourceEntity:   e.CanonicalText,
					SourceType:     e.Type,
					TargetCitation: c.CanonicalText,
					TargetType:     c.CitationType,
					Confidence:     (e.AverageConfidence() + c.AverageConfidence()) / 2,
				})
			}
			for _, ch := range chunks {
				evidence[key][ch] = struct{}{}
			}
		}
	}
	for key, i := range index {
		chunks := make([]int, 0, len(evidence[key]))
		for ch := range evidence[key] {
			chunks = append(chunks, ch)
		}
		sort.Ints(chunks)
		out[i].EvidenceChunks = chunks
	}
	return out
}

// proximateChunks returns the shared chunks in which some occurrence of e
// starts within the window of some occurrence of c.
func (ri *RelationshipInferer) proximateChunks(e *EntityMatch, c *CitationMatch) []int {
	var chunks []int
	for ch := range e.SourceChunks {
		if _, shared := c.SourceChunks[ch]; !shared {
			continue
		}
		if ri.closeInChunk(e.Positions, c.Positions, ch) {
			chunks = append(chunks, ch)
		}
	}
	return chunks
}

func (ri *RelationshipInferer) closeInChunk(ep, cp []Position, chunk int) bool {
	for _, a := range ep {
		if a.ChunkIndex != chunk {
			continue
		}
		for _, b := range cp {
			if b.ChunkIndex != chunk {
				continue
			}
			d := a.Start - b.Start
			if d < 0 {
				d = -d
			}
			if d < ri.window {
				return true
			}
		}
	}
	return false
}
