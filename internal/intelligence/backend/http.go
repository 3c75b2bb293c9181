// Package backend holds BatchProcessor implementations: the HTTP client for
// the remote extraction model and a result-caching decorator.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/turtacn/LexExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract/internal/intelligence/common"
	"github.com/turtacn/LexExtract/pkg/errors"
)

const (
	Version = "0.1.0"

	DefaultTimeout        = 60 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = 200 * time.Millisecond
	DefaultRetryMaxDelay  = 5 * time.Second

	maxErrorBody = 4 << 10
)

// APIError is a non-2xx answer from the extraction service.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("extraction service: %s (HTTP %d): %s [request_id=%s]", e.Code, e.StatusCode, e.Message, e.RequestID)
}

// Retryable reports whether the same call may succeed later.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type wireRequest struct {
	ID       string          `json:"id"`
	Text     string          `json:"text"`
	SizeTier common.SizeTier `json:"size_tier"`
}

type batchRequest struct {
	Requests []wireRequest `json:"requests"`
}

type wireResult struct {
	ID        string               `json:"id"`
	Entities  []common.RawEntity   `json:"entities"`
	Citations []common.RawCitation `json:"citations"`
}

type batchResponse struct {
	Results []wireResult `json:"results"`
}

// HTTPOption configures an HTTPBackend.
type HTTPOption func(*HTTPBackend)

func WithAPIKey(key string) HTTPOption {
	return func(b *HTTPBackend) { b.apiKey = key }
}

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(b *HTTPBackend) {
		if c != nil {
			b.client = c
		}
	}
}

func WithTimeout(d time.Duration) HTTPOption {
	return func(b *HTTPBackend) {
		if d > 0 {
			b.client.Timeout = d
		}
	}
}

// WithRetry sets the retry budget: up to maxRetries further attempts with
// exponential delays starting at base and capped at max.
func WithRetry(maxRetries int, base, max time.Duration) HTTPOption {
	return func(b *HTTPBackend) {
		if maxRetries >= 0 {
			b.maxRetries = maxRetries
		}
		if base > 0 {
			b.baseDelay = base
		}
		if max > 0 {
			b.maxDelay = max
		}
	}
}

func WithLogger(l logging.Logger) HTTPOption {
	return func(b *HTTPBackend) {
		if l != nil {
			b.logger = l
		}
	}
}

// HTTPBackend posts whole batches to a remote extraction endpoint.
type HTTPBackend struct {
	endpoint   string
	apiKey     string
	userAgent  string
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     logging.Logger
}

// NewHTTPBackend validates endpoint and applies options.
func NewHTTPBackend(endpoint string, opts ...HTTPOption) (*HTTPBackend, error) {
	if endpoint == "" {
		return nil, errors.New(errors.ErrCodeValidation, "backend endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "invalid backend endpoint")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Newf(errors.ErrCodeValidation, "backend endpoint scheme must be http or https, got %q", u.Scheme)
	}

	b := &HTTPBackend{
		endpoint:   endpoint,
		userAgent:  "lexextract/" + Version,
		client:     &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultRetryBaseDelay,
		maxDelay:   DefaultRetryMaxDelay,
		logger:     logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// ProcessBatch sends requests in one call and returns one result per request
// in request order.  Transport errors, 429 and 5xx answers are retried.
func (b *HTTPBackend) ProcessBatch(ctx context.Context, requests []*common.ExtractionRequest) ([]*common.ExtractionResult, error) {
	if len(requests) == 0 {
		return []*common.ExtractionResult{}, nil
	}

	payload := batchRequest{Requests: make([]wireRequest, len(requests))}
	for i, r := range requests {
		payload.Requests[i] = wireRequest{ID: r.ID, Text: r.Text, SizeTier: r.SizeTier}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "encode batch request")
	}

	backoff := retry.WithMaxRetries(uint64(b.maxRetries),
		retry.WithCappedDuration(b.maxDelay, retry.NewExponential(b.baseDelay)))

	var (
		resp    batchResponse
		attempt int
	)
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		callErr := b.post(ctx, body, &resp)
		if callErr == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(callErr, &apiErr) && !apiErr.Retryable() {
			return callErr
		}
		if ctx.Err() != nil {
			return callErr
		}
		b.logger.Warn("extraction call failed, retrying",
			logging.Int("attempt", attempt),
			logging.Int("batch_size", len(requests)),
			logging.Err(callErr),
		)
		return retry.RetryableError(callErr)
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeExternalService, "extraction call failed after %d attempt(s)", attempt)
	}
	return assemble(requests, resp.Results)
}

func (b *HTTPBackend) post(ctx context.Context, body []byte, out *batchResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	requestID := uuid.New().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", b.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b.logger.Debug("extraction call",
		logging.Int("status", resp.StatusCode),
		logging.String("request_id", requestID),
		logging.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: requestID}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var errResp struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &errResp) == nil && errResp.Message != "" {
			apiErr.Code, apiErr.Message = errResp.Code, errResp.Message
		} else {
			apiErr.Message = string(raw)
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "decode batch response")
	}
	return nil
}

// assemble maps wire results back to requests.  Results carrying an id are
// matched by id; results without one are taken positionally.
func assemble(requests []*common.ExtractionRequest, results []wireResult) ([]*common.ExtractionResult, error) {
	if len(results) != len(requests) {
		return nil, errors.Newf(errors.ErrCodeResultCountMismatch,
			"backend returned %d results for %d requests", len(results), len(requests))
	}
	index := make(map[string]int, len(requests))
	for i, r := range requests {
		index[r.ID] = i
	}
	out := make([]*common.ExtractionResult, len(requests))
	for i, w := range results {
		pos := i
		if w.ID != "" {
			p, ok := index[w.ID]
			if !ok {
				return nil, errors.Newf(errors.ErrCodeResultCountMismatch, "backend returned unknown request id %q", w.ID)
			}
			pos = p
		}
		if out[pos] != nil {
			return nil, errors.Newf(errors.ErrCodeResultCountMismatch, "backend returned request %q twice", requests[pos].ID)
		}
		out[pos] = &common.ExtractionResult{
			RequestID: requests[pos].ID,
			Entities:  w.Entities,
			Citations: w.Citations,
		}
	}
	return out, nil
}
