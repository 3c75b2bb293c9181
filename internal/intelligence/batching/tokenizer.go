package batching

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/turtacn/LexExtract/internal/intelligence/common"
)

// DefaultEncoding is used when no encoding or model name is configured.
const DefaultEncoding = "cl100k_base"

// TiktokenCounter counts tokens with a BPE encoding.  It is what
// SizeClassifier.CalibrateWith is normally fed with.
type TiktokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

var _ common.TokenCounter = (*TiktokenCounter)(nil)

// NewTiktokenCounter resolves encodingOrModel first as an encoding name and
// then as a model name.
func NewTiktokenCounter(encodingOrModel string) (*TiktokenCounter, error) {
	if encodingOrModel == "" {
		encodingOrModel = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encodingOrModel)
	if err != nil {
		var modelErr error
		enc, modelErr = tiktoken.EncodingForModel(encodingOrModel)
		if modelErr != nil {
			return nil, fmt.Errorf("resolve tiktoken encoding %q: %w", encodingOrModel, err)
		}
	}
	return &TiktokenCounter{encoding: encodingOrModel, enc: enc}, nil
}

// CountTokens returns the exact token count of text.
func (t *TiktokenCounter) CountTokens(text string) (int, error) {
	if t.enc == nil {
		return 0, fmt.Errorf("tiktoken encoder for %s is not initialized", t.encoding)
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

// Encoding returns the configured encoding or model name.
func (t *TiktokenCounter) Encoding() string {
	return t.encoding
}
