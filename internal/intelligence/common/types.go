package common

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Size tiers
// ---------------------------------------------------------------------------

// SizeTier is the coarse size bucket a request is routed to.
type SizeTier int

const (
	TierSmall SizeTier = iota
	TierMedium
	TierLarge
	TierExtraLarge
)

// AllTiers lists every tier in ascending size order.
var AllTiers = []SizeTier{TierSmall, TierMedium, TierLarge, TierExtraLarge}

func (t SizeTier) String() string {
	switch t {
	case TierSmall:
		return "small"
	case TierMedium:
		return "medium"
	case TierLarge:
		return "large"
	case TierExtraLarge:
		return "extra_large"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Valid reports whether t is one of the four known tiers.
func (t SizeTier) Valid() bool {
	return t >= TierSmall && t <= TierExtraLarge
}

// ParseSizeTier converts a tier name ("small", "extra_large", "xl") to a SizeTier.
func ParseSizeTier(s string) (SizeTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "small", "s":
		return TierSmall, nil
	case "medium", "m":
		return TierMedium, nil
	case "large", "l":
		return TierLarge, nil
	case "extra_large", "extralarge", "xl":
		return TierExtraLarge, nil
	}
	return TierSmall, fmt.Errorf("unknown size tier %q", s)
}

func (t SizeTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *SizeTier) UnmarshalText(b []byte) error {
	v, err := ParseSizeTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ---------------------------------------------------------------------------
// Priority
// ---------------------------------------------------------------------------

// Priority orders requests within a tier queue; lower values are served
// first.  The zero value is PriorityNormal.
type Priority int

const (
	PriorityUrgent Priority = -2
	PriorityHigh   Priority = -1
	PriorityNormal Priority = 0
	PriorityLow    Priority = 1
)

// Escalate returns the more urgent of p and to.
func (p Priority) Escalate(to Priority) Priority {
	if to < p {
		return to
	}
	return p
}

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority converts a priority name to a Priority.  An empty string is
// PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "urgent":
		return PriorityUrgent, nil
	case "high":
		return PriorityHigh, nil
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ---------------------------------------------------------------------------
// Raw extraction records
// ---------------------------------------------------------------------------

// RawEntity is one entity candidate reported by the extraction backend.
// Start and End are relative to the text the backend was given (the chunk);
// after collection they are whole-document offsets.
type RawEntity struct {
	Text             string  `json:"text"`
	Type             string  `json:"type"`
	Confidence       float64 `json:"confidence"`
	Start            int     `json:"start"`
	End              int     `json:"end"`
	SourceChunkIndex int     `json:"source_chunk_index"`
}

// RawCitation is one citation candidate reported by the extraction backend.
// CitationType is empty when the backend could not classify the citation.
type RawCitation struct {
	Text             string  `json:"text"`
	CitationType     string  `json:"citation_type,omitempty"`
	Confidence       float64 `json:"confidence"`
	Start            int     `json:"start"`
	End              int     `json:"end"`
	SourceChunkIndex int     `json:"source_chunk_index"`
}

// ---------------------------------------------------------------------------
// Requests and results
// ---------------------------------------------------------------------------

// ResultCallback receives the result of a completed request.  Errors and
// panics raised by a callback are logged by the scheduler and never affect
// other requests of the same batch.
type ResultCallback func(ctx context.Context, id string, result *ExtractionResult) error

// ExtractionRequest is one caller-submitted unit of work.
type ExtractionRequest struct {
	ID              string            `json:"id"`
	Text            string            `json:"text"`
	SizeTier        SizeTier          `json:"size_tier"`
	EstimatedTokens int               `json:"estimated_tokens"`
	Priority        Priority          `json:"priority"`
	EnqueuedAt      time.Time         `json:"enqueued_at"`
	Attempts        int               `json:"attempts"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Callback        ResultCallback    `json:"-"`
}

// ExtractionResult carries what the backend found in one request's text.
type ExtractionResult struct {
	RequestID string        `json:"request_id"`
	Entities  []RawEntity   `json:"entities"`
	Citations []RawCitation `json:"citations"`
}

// BatchProcessor is the inference backend boundary: one result per request,
// same length and order.  A returned error fails the whole batch.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, requests []*ExtractionRequest) ([]*ExtractionResult, error)
}

// ProcessBatchFunc adapts a function to the BatchProcessor interface.
type ProcessBatchFunc func(ctx context.Context, requests []*ExtractionRequest) ([]*ExtractionResult, error)

// ProcessBatch calls f.
func (f ProcessBatchFunc) ProcessBatch(ctx context.Context, requests []*ExtractionRequest) ([]*ExtractionResult, error) {
	return f(ctx, requests)
}

// TokenCounter returns an exact post-tokenization count for text.
type TokenCounter interface {
	CountTokens(text string) (int, error)
}
