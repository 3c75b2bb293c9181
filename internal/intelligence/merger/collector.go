package merger

import (
	"github.com/turtacn/LexExtract/internal/intelligence/common"
	"github.com/turtacn/LexExtract/pkg/errors"
)

// ChunkBoundary is the whole-document span of one chunk, as produced by the
// chunker.  Offsets count runes.
type ChunkBoundary struct {
	Index int `json:"index"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// Collected holds every raw record of a document in whole-document
// coordinates, in chunk order and then in-chunk order.
type Collected struct {
	Entities  []common.RawEntity
	Citations []common.RawCitation
}

// CollectChunkResults shifts chunk-local offsets by their chunk's start and
// tags each record with the chunk index.  results[i] belongs to
// boundaries[i]; a nil result contributes nothing.
func CollectChunkResults(results []*common.ExtractionResult, boundaries []ChunkBoundary) (*Collected, error) {
	if err := validateBoundaries(results, boundaries); err != nil {
		return nil, err
	}
	out := &Collected{}
	for i, res := range results {
		if res == nil {
			continue
		}
		b := boundaries[i]
		for _, e := range res.Entities {
			e.Start += b.Start
			e.End += b.Start
			e.SourceChunkIndex = b.Index
			out.Entities = append(out.Entities, e)
		}
		for _, c := range res.Citations {
			c.Start += b.Start
			c.End += b.Start
			c.SourceChunkIndex = b.Index
			out.Citations = append(out.Citations, c)
		}
	}
	return out, nil
}

func validateBoundaries(results []*common.ExtractionResult, boundaries []ChunkBoundary) error {
	if boundaries == nil {
		return errors.New(errors.ErrCodeInvalidChunkBoundaries, "chunk boundaries are required")
	}
	if len(boundaries) != len(results) {
		return errors.Newf(errors.ErrCodeInvalidChunkBoundaries,
			"%d chunk results but %d chunk boundaries", len(results), len(boundaries))
	}
	for _, b := range boundaries {
		if b.Start < 0 || b.End < b.Start {
			return errors.Newf(errors.ErrCodeInvalidChunkBoundaries,
				"chunk %d has invalid span [%d, %d)", b.Index, b.Start, b.End)
		}
	}
	return nil
}
