package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/turtacn/LexExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract/internal/intelligence/common"
	"github.com/turtacn/LexExtract/pkg/errors"
)

// ResultStore is the cache used by CachedProcessor.  GetMany returns the JSON
// payloads of the keys it holds; absent keys are misses.
type ResultStore interface {
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	SetMany(ctx context.Context, items map[string]interface{}) error
	Delete(ctx context.Context, keys ...string) error
}

// CacheKey is the store key for a request text.
func CacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "v1:" + hex.EncodeToString(sum[:])
}

type CachedOption func(*CachedProcessor)

func WithCacheLogger(l logging.Logger) CachedOption {
	return func(p *CachedProcessor) {
		if l != nil {
			p.logger = l
		}
	}
}

// CachedProcessor serves requests whose text was already extracted from the
// store and forwards only the rest to the wrapped processor.
type CachedProcessor struct {
	next   common.BatchProcessor
	store  ResultStore
	logger logging.Logger
}

func NewCachedProcessor(next common.BatchProcessor, store ResultStore, opts ...CachedOption) *CachedProcessor {
	p := &CachedProcessor{next: next, store: store, logger: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessBatch implements common.BatchProcessor.  The whole batch is looked
// up in one store read and fresh results are written back in one store write.
// Results come back in request order with RequestID set to the requesting id,
// cached or not.  Store failures are logged and treated as misses; an entry
// that no longer decodes is deleted.
func (p *CachedProcessor) ProcessBatch(ctx context.Context, requests []*common.ExtractionRequest) ([]*common.ExtractionResult, error) {
	out := make([]*common.ExtractionResult, len(requests))
	keys := make([]string, len(requests))
	for i, r := range requests {
		keys[i] = CacheKey(r.Text)
	}

	hits, err := p.store.GetMany(ctx, keys)
	if err != nil {
		p.logger.Warn("result cache lookup failed", logging.Int("requests", len(requests)), logging.Err(err))
		hits = nil
	}

	var (
		misses   []*common.ExtractionRequest
		missIdxs []int
		corrupt  []string
	)
	for i, r := range requests {
		if data, ok := hits[keys[i]]; ok {
			var cached common.ExtractionResult
			if err := json.Unmarshal(data, &cached); err == nil {
				cached.RequestID = r.ID
				out[i] = &cached
				continue
			}
			corrupt = append(corrupt, keys[i])
		}
		misses = append(misses, r)
		missIdxs = append(missIdxs, i)
	}
	if len(corrupt) > 0 {
		p.logger.Warn("dropping undecodable cache entries", logging.Int("count", len(corrupt)))
		if err := p.store.Delete(ctx, corrupt...); err != nil {
			p.logger.Warn("result cache delete failed", logging.Err(err))
		}
	}

	if len(misses) > 0 {
		fresh, err := p.next.ProcessBatch(ctx, misses)
		if err != nil {
			return nil, err
		}
		if len(fresh) != len(misses) {
			return nil, errors.Newf(errors.ErrCodeResultCountMismatch,
				"backend returned %d results for %d requests", len(fresh), len(misses))
		}
		items := make(map[string]interface{}, len(fresh))
		for j, res := range fresh {
			i := missIdxs[j]
			out[i] = res
			if res != nil {
				items[keys[i]] = res
			}
		}
		if err := p.store.SetMany(ctx, items); err != nil {
			p.logger.Warn("result cache write failed", logging.Int("entries", len(items)), logging.Err(err))
		}
	}

	p.logger.Debug("batch served",
		logging.Int("requests", len(requests)),
		logging.Int("cache_hits", len(requests)-len(misses)),
	)
	return out, nil
}
