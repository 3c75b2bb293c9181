package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexExtract/internal/intelligence/common"
)

func inferFrom(t *testing.T, window int, ents []common.RawEntity, cites []common.RawCitation) []Relationship {
	t.Helper()
	d := NewFuzzyDeduplicator(0, 0)
	em, _ := d.DedupeEntities(ents)
	cm, _ := d.DedupeCitations(cites)
	return NewRelationshipInferer(window).Infer(em, cm)
}

func TestInfer_WindowIsExclusive(t *testing.T) {
	rels := inferFrom(t, 0,
		[]common.RawEntity{person("Roberts", 0.9, 100, 0)},
		[]common.RawCitation{cite("347 U.S. 483", 0.7, 299, 0)})
	require.Len(t, rels, 1)
	r := rels[0]
	assert.Equal(t, RelationEntityCitedIn, r.Type)
	assert.Equal(t, "Roberts", r.SourceEntity)
	assert.Equal(t, "PERSON", r.SourceType)
	assert.Equal(t, "347 U.S. 483", r.TargetCitation)
	assert.Empty(t, r.TargetType)
	assert.InDelta(t, 0.8, r.Confidence, 1e-9)
	assert.Equal(t, []int{0}, r.EvidenceChunks)

	rels = inferFrom(t, 0,
		[]common.RawEntity{person("Roberts", 0.9, 100, 0)},
		[]common.RawCitation{cite("347 U.S. 483", 0.7, 300, 0)})
	assert.Empty(t, rels)
}

func TestInfer_RequiresSharedChunk(t *testing.T) {
	rels := inferFrom(t, 0,
		[]common.RawEntity{person("Roberts", 0.9, 990, 0)},
		[]common.RawCitation{cite("347 U.S. 483", 0.7, 1000, 1)})
	assert.Empty(t, rels)
}

func TestInfer_SharedChunkButFarApartInIt(t *testing.T) {
	// both chunks are shared, neither has the pair within the window
	rels := inferFrom(t, 0,
		[]common.RawEntity{person("Roberts", 0.9, 10, 0), person("Roberts", 0.9, 1500, 1)},
		[]common.RawCitation{cite("347 U.S. 483", 0.7, 500, 0), cite("347 U.S. 483", 0.7, 1000, 1)})
	assert.Empty(t, rels)
}

func TestInfer_DedupesAcrossChunks(t *testing.T) {
	rels := inferFrom(t, 0,
		[]common.RawEntity{person("Roberts", 0.9, 10, 0), person("Roberts", 0.9, 1010, 1)},
		[]common.RawCitation{cite("347 U.S. 483", 0.7, 50, 0), cite("347 U.S. 483", 0.7, 1060, 1)})
	require.Len(t, rels, 1)
	assert.Equal(t, []int{0, 1}, rels[0].EvidenceChunks)
}

func TestInfer_CustomWindowAndOrder(t *testing.T) {
	ents := []common.RawEntity{person("Roberts", 0.9, 0, 0), person("Alito", 0.8, 40, 0)}
	cites := []common.RawCitation{cite("347 U.S. 483", 0.7, 30, 0)}

	rels := inferFrom(t, 20, ents, cites)
	require.Len(t, rels, 1)
	assert.Equal(t, "Alito", rels[0].SourceEntity)

	rels = inferFrom(t, 50, ents, cites)
	require.Len(t, rels, 2)
	assert.Equal(t, "Roberts", rels[0].SourceEntity)
	assert.Equal(t, "Alito", rels[1].SourceEntity)

	assert.Empty(t, NewRelationshipInferer(0).Infer(nil, nil))
}

func TestInfer_TargetTypeFromCitation(t *testing.T) {
	statute := cite("42 U.S.C. § 1983", 0.8, 60, 0)
	statute.CitationType = "statute"
	rels := inferFrom(t, 0,
		[]common.RawEntity{person("Roberts", 0.9, 10, 0)},
		[]common.RawCitation{statute})
	require.Len(t, rels, 1)
	assert.Equal(t, "PERSON", rels[0].SourceType)
	assert.Equal(t, "statute", rels[0].TargetType)
}
