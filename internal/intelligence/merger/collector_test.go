package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexExtract/internal/intelligence/common"
	"github.com/turtacn/LexExtract/pkg/errors"
)

func TestCollectChunkResults_RemapsOffsets(t *testing.T) {
	results := []*common.ExtractionResult{
		{Entities: []common.RawEntity{{Text: "Roberts", Type: "PERSON", Start: 3, End: 10, SourceChunkIndex: 99}}},
		{
			Entities:  []common.RawEntity{{Text: "Roberts", Type: "PERSON", Start: 10, End: 20}},
			Citations: []common.RawCitation{{Text: "347 U.S. 483", Start: 40, End: 52}},
		},
	}
	boundaries := []ChunkBoundary{{Index: 0, Start: 0, End: 1000}, {Index: 1, Start: 1000, End: 2000}}

	got, err := CollectChunkResults(results, boundaries)
	require.NoError(t, err)
	require.Len(t, got.Entities, 2)
	require.Len(t, got.Citations, 1)

	assert.Equal(t, 3, got.Entities[0].Start)
	assert.Equal(t, 0, got.Entities[0].SourceChunkIndex)
	assert.Equal(t, 1010, got.Entities[1].Start)
	assert.Equal(t, 1020, got.Entities[1].End)
	assert.Equal(t, 1, got.Entities[1].SourceChunkIndex)
	assert.Equal(t, 1040, got.Citations[0].Start)
	assert.Equal(t, 1052, got.Citations[0].End)

	// inputs are not mutated
	assert.Equal(t, 10, results[1].Entities[0].Start)
}

func TestCollectChunkResults_NilResultSkipped(t *testing.T) {
	results := []*common.ExtractionResult{
		nil,
		{Entities: []common.RawEntity{{Text: "Alito", Type: "PERSON", Start: 0, End: 5}}},
	}
	got, err := CollectChunkResults(results, []ChunkBoundary{{Index: 0, Start: 0, End: 10}, {Index: 1, Start: 10, End: 20}})
	require.NoError(t, err)
	require.Len(t, got.Entities, 1)
	assert.Equal(t, 10, got.Entities[0].Start)
	assert.Empty(t, got.Citations)
}

func TestCollectChunkResults_InvalidBoundaries(t *testing.T) {
	one := []*common.ExtractionResult{{}}
	tests := []struct {
		name       string
		results    []*common.ExtractionResult
		boundaries []ChunkBoundary
	}{
		{"missing", one, nil},
		{"length mismatch", one, []ChunkBoundary{{Index: 0}, {Index: 1}}},
		{"negative start", one, []ChunkBoundary{{Index: 0, Start: -1, End: 5}}},
		{"end before start", one, []ChunkBoundary{{Index: 0, Start: 5, End: 4}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CollectChunkResults(tt.results, tt.boundaries)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidChunkBoundaries))
		})
	}

	got, err := CollectChunkResults(nil, []ChunkBoundary{})
	require.NoError(t, err)
	assert.Empty(t, got.Entities)
}
