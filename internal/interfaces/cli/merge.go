package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/LexExtract/internal/intelligence/common"
	"github.com/turtacn/LexExtract/internal/intelligence/merger"
	"github.com/turtacn/LexExtract/pkg/errors"
)

type mergeOptions struct {
	chunksPath   string
	documentPath string
}

// ChunkFile is the input of the merge command: per-chunk extraction results
// with their whole-document boundaries.
type ChunkFile struct {
	Chunks []ChunkEntry `json:"chunks"`
}

// ChunkEntry pairs one chunk's boundary with its extraction result.
type ChunkEntry struct {
	Boundary merger.ChunkBoundary     `json:"boundary"`
	Result   *common.ExtractionResult `json:"result"`
}

// MergeOutput wraps a merged result for the text and table renderings.
type MergeOutput struct {
	*merger.MergedResult
}

// Text renders a short human summary.
func (o MergeOutput) Text() string {
	var b strings.Builder
	r := o.MergedResult
	fmt.Fprintf(&b, "chunks=%d entities=%d/%d citations=%d/%d relationships=%d position_warnings=%d\n",
		r.Metadata.ChunkCount,
		r.DedupStats.Entities.Merged, r.DedupStats.Entities.Raw,
		r.DedupStats.Citations.Merged, r.DedupStats.Citations.Raw,
		len(r.Relationships), r.Metadata.PositionWarnings)
	for _, e := range r.Entities {
		fmt.Fprintf(&b, "entity   [%d,%d) %-14s %.3f x%d %q\n", e.Start, e.End, e.Type, e.Confidence, e.OccurrenceCount, e.Text)
	}
	for _, c := range r.Citations {
		fmt.Fprintf(&b, "citation [%d,%d) %-14s %.3f x%d %q\n", c.Start, c.End, c.CitationType, c.Confidence, c.OccurrenceCount, c.Text)
	}
	for _, rel := range r.Relationships {
		fmt.Fprintf(&b, "relation %s %q -> %q %.3f\n", rel.Type, rel.SourceEntity, rel.TargetCitation, rel.Confidence)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Tables renders entities, citations and relationships.
func (o MergeOutput) Tables() []Table {
	r := o.MergedResult
	entities := Table{
		Title:   "Entities",
		Headers: []string{"Text", "Type", "Confidence", "Count", "Chunks", "Span"},
	}
	for _, e := range r.Entities {
		entities.Rows = append(entities.Rows, []string{
			e.Text, e.Type, formatConfidence(e.Confidence), strconv.Itoa(e.OccurrenceCount),
			joinInts(e.SourceChunks), fmt.Sprintf("%d-%d", e.Start, e.End),
		})
	}
	citations := Table{
		Title:   "Citations",
		Headers: []string{"Text", "Type", "Confidence", "Count", "Chunks", "Span"},
	}
	for _, c := range r.Citations {
		citations.Rows = append(citations.Rows, []string{
			c.Text, c.CitationType, formatConfidence(c.Confidence), strconv.Itoa(c.OccurrenceCount),
			joinInts(c.SourceChunks), fmt.Sprintf("%d-%d", c.Start, c.End),
		})
	}
	relations := Table{
		Title:   "Relationships",
		Headers: []string{"Type", "Entity", "Citation", "Confidence", "Chunks"},
	}
	for _, rel := range r.Relationships {
		relations.Rows = append(relations.Rows, []string{
			rel.Type, rel.SourceEntity, rel.TargetCitation, formatConfidence(rel.Confidence), joinInts(rel.EvidenceChunks),
		})
	}
	return []Table{entities, citations, relations}
}

func newMergeCmd() *cobra.Command {
	opts := &mergeOptions{}
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge per-chunk extraction results into one document result",
		Long: "Reads a JSON file of chunk results, each with its whole-document boundary,\n" +
			"and prints the deduplicated entities, citations and inferred relationships.\n" +
			"With --document the merged positions are checked against the source text.",
		Example: "  lexextract merge --chunks chunks.json --document opinion.txt -o table",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMerge(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.chunksPath, "chunks", "", "chunk results JSON file, or - for stdin (required)")
	cmd.Flags().StringVar(&opts.documentPath, "document", "", "full document text used for position validation")
	_ = cmd.MarkFlagRequired("chunks")
	return cmd
}

func runMerge(cmd *cobra.Command, opts *mergeOptions) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}

	raw, err := readInput(cmd, opts.chunksPath)
	if err != nil {
		return err
	}
	var input ChunkFile
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return errors.Wrapf(err, errors.ErrCodeSerialization, "decode %s", opts.chunksPath)
	}
	results := make([]*common.ExtractionResult, len(input.Chunks))
	boundaries := make([]merger.ChunkBoundary, len(input.Chunks))
	for i, c := range input.Chunks {
		results[i] = c.Result
		boundaries[i] = c.Boundary
	}

	var doc *string
	if opts.documentPath != "" {
		text, err := readDocument(opts.documentPath)
		if err != nil {
			return err
		}
		doc = &text
	}

	mc := cliCtx.Config.Merger
	m, err := merger.NewResultMerger(merger.Config{
		EntityThreshold:     mc.EntityThreshold,
		CitationThreshold:   mc.CitationThreshold,
		ProximityWindow:     mc.ProximityWindow,
		ValidationThreshold: mc.ValidationThreshold,
	}, merger.WithLogger(cliCtx.Logger.Named("merger")))
	if err != nil {
		return err
	}

	merged, err := m.Merge(results, boundaries, doc)
	if err != nil {
		return err
	}
	merged.SortByPosition()

	if cliCtx.OutputFormat == OutputJSON || cliCtx.OutputFormat == OutputYAML {
		return PrintResult(cmd, merged)
	}
	return PrintResult(cmd, MergeOutput{merged})
}

func readDocument(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrCodeBadRequest, "read %s", path)
	}
	return string(data), nil
}

func formatConfidence(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}
