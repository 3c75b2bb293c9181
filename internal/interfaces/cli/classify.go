package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/LexExtract/internal/intelligence/batching"
	"github.com/turtacn/LexExtract/internal/intelligence/common"
	"github.com/turtacn/LexExtract/pkg/errors"
)

type classifyOptions struct {
	calibrate bool
	encoding  string
}

// ClassifyResult is the output of the classify command.
type ClassifyResult struct {
	Source           string           `json:"source" yaml:"source"`
	Runes            int              `json:"runes" yaml:"runes"`
	Tier             common.SizeTier  `json:"tier" yaml:"tier"`
	EstimatedTokens  int              `json:"estimated_tokens" yaml:"estimated_tokens"`
	ActualTokens     *int             `json:"actual_tokens,omitempty" yaml:"actual_tokens,omitempty"`
	Encoding         string           `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	AdjustmentFactor float64          `json:"adjustment_factor" yaml:"adjustment_factor"`
	CalibratedTier   *common.SizeTier `json:"calibrated_tier,omitempty" yaml:"calibrated_tier,omitempty"`
}

// Text renders a one-line summary.
func (r *ClassifyResult) Text() string {
	s := fmt.Sprintf("%s: tier=%s estimated_tokens=%d", r.Source, r.Tier, r.EstimatedTokens)
	if r.ActualTokens != nil {
		s += fmt.Sprintf(" actual_tokens=%d (%s) adjustment_factor=%.3f", *r.ActualTokens, r.Encoding, r.AdjustmentFactor)
	}
	return s
}

// Tables renders the result as a key/value table.
func (r *ClassifyResult) Tables() []Table {
	rows := [][]string{
		{"source", r.Source},
		{"runes", strconv.Itoa(r.Runes)},
		{"tier", r.Tier.String()},
		{"estimated_tokens", strconv.Itoa(r.EstimatedTokens)},
	}
	if r.ActualTokens != nil {
		rows = append(rows,
			[]string{"actual_tokens", strconv.Itoa(*r.ActualTokens)},
			[]string{"encoding", r.Encoding},
			[]string{"adjustment_factor", strconv.FormatFloat(r.AdjustmentFactor, 'f', 3, 64)},
		)
	}
	if r.CalibratedTier != nil {
		rows = append(rows, []string{"calibrated_tier", r.CalibratedTier.String()})
	}
	return []Table{{Headers: []string{"Field", "Value"}, Rows: rows}}
}

func newClassifyCmd() *cobra.Command {
	opts := &classifyOptions{}
	cmd := &cobra.Command{
		Use:   "classify [file|-]",
		Short: "Estimate the token count and size tier of a document",
		Long: "Reads a document from a file or stdin and reports its estimated token\n" +
			"count and the size tier the batch scheduler would route it to.\n" +
			"With --calibrate the text is also tokenized exactly and the estimate\n" +
			"is corrected with the measured ratio.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(cmd, args, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.calibrate, "calibrate", false, "count tokens exactly with tiktoken and calibrate the estimate")
	cmd.Flags().StringVar(&opts.encoding, "encoding", "", "tiktoken encoding or model name (default: estimator.encoding)")
	return cmd
}

func runClassify(cmd *cobra.Command, args []string, opts *classifyOptions) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}

	source := "-"
	if len(args) == 1 {
		source = args[0]
	}
	text, err := readInput(cmd, source)
	if err != nil {
		return err
	}

	est := cliCtx.Config.Estimator
	classifier, err := batching.NewSizeClassifier(
		batching.WithCacheSize(est.CacheSize),
		batching.WithWordsPerTokenRatio(est.WordsPerTokenRatio),
		batching.WithCalibrationHistory(est.HistorySize),
		batching.WithClassifierLogger(cliCtx.Logger.Named("classifier")),
	)
	if err != nil {
		return err
	}

	tier, tokens := classifier.ClassifyDocument(text)
	res := &ClassifyResult{
		Source:           source,
		Runes:            len([]rune(text)),
		Tier:             tier,
		EstimatedTokens:  tokens,
		AdjustmentFactor: classifier.AdjustmentFactor(),
	}

	if opts.calibrate {
		encoding := opts.encoding
		if encoding == "" {
			encoding = est.Encoding
		}
		counter, err := batching.NewTiktokenCounter(encoding)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeValidation, "calibration encoding")
		}
		actual, err := classifier.CalibrateWith(counter, text)
		if err != nil {
			return err
		}
		calibrated := classifier.Classify(actual)
		res.ActualTokens = &actual
		res.Encoding = counter.Encoding()
		res.AdjustmentFactor = classifier.AdjustmentFactor()
		res.CalibratedTier = &calibrated
	}

	return PrintResult(cmd, res)
}

// readInput reads a whole file, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrCodeBadRequest, "read %s", path)
	}
	return string(data), nil
}
