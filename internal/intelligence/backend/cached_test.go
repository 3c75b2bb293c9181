package backend

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexExtract/internal/infrastructure/cache"
	"github.com/turtacn/LexExtract/internal/intelligence/common"
	"github.com/turtacn/LexExtract/internal/testutil"
	"github.com/turtacn/LexExtract/pkg/errors"
)

// echoProcessor reports one entity per request whose text is the request text.
type echoProcessor struct {
	mu    sync.Mutex
	seen  [][]string
	err   error
	short bool
}

func (p *echoProcessor) ProcessBatch(_ context.Context, reqs []*common.ExtractionRequest) ([]*common.ExtractionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, len(reqs))
	for i, r := range reqs {
		ids[i] = r.ID
	}
	p.seen = append(p.seen, ids)
	if p.err != nil {
		return nil, p.err
	}
	out := make([]*common.ExtractionResult, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, &common.ExtractionResult{
			RequestID: r.ID,
			Entities:  []common.RawEntity{{Text: r.Text, Type: "PERSON", Confidence: 0.9, End: len(r.Text)}},
		})
	}
	if p.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

type brokenStore struct{}

func (brokenStore) GetMany(context.Context, []string) (map[string][]byte, error) {
	return nil, errors.New(errors.ErrCodeCacheError, "redis unreachable")
}

func (brokenStore) SetMany(context.Context, map[string]interface{}) error {
	return errors.New(errors.ErrCodeCacheError, "redis unreachable")
}

func (brokenStore) Delete(context.Context, ...string) error {
	return errors.New(errors.ErrCodeCacheError, "redis unreachable")
}

// countingStore wraps a layered cache and records each batch call.
type countingStore struct {
	*cache.LayeredCache
	gets    [][]string
	sets    []int
	deleted []string
}

func (s *countingStore) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	s.gets = append(s.gets, keys)
	return s.LayeredCache.GetMany(ctx, keys)
}

func (s *countingStore) SetMany(ctx context.Context, items map[string]interface{}) error {
	s.sets = append(s.sets, len(items))
	return s.LayeredCache.SetMany(ctx, items)
}

func (s *countingStore) Delete(ctx context.Context, keys ...string) error {
	s.deleted = append(s.deleted, keys...)
	return s.LayeredCache.Delete(ctx, keys...)
}

func req(id, text string) *common.ExtractionRequest {
	return &common.ExtractionRequest{ID: id, Text: text}
}

func TestCachedProcessor_ServesRepeatsFromCache(t *testing.T) {
	next := &echoProcessor{}
	p := NewCachedProcessor(next, cache.New(cache.Config{}, nil))
	ctx := context.Background()

	first, err := p.ProcessBatch(ctx, []*common.ExtractionRequest{req("1", "Roberts"), req("2", "Alito")})
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := p.ProcessBatch(ctx, []*common.ExtractionRequest{
		req("3", "Alito"), req("4", "Marshall"), req("5", "Roberts"),
	})
	require.NoError(t, err)
	require.Len(t, second, 3)

	assert.Equal(t, [][]string{{"1", "2"}, {"4"}}, next.seen)
	assert.Equal(t, "3", second[0].RequestID)
	assert.Equal(t, "Alito", second[0].Entities[0].Text)
	assert.Equal(t, "4", second[1].RequestID)
	assert.Equal(t, "Marshall", second[1].Entities[0].Text)
	assert.Equal(t, "5", second[2].RequestID)
	assert.Equal(t, "Roberts", second[2].Entities[0].Text)

	// cached copies are independent of earlier callers' results
	assert.Equal(t, "1", first[0].RequestID)
}

func TestCachedProcessor_AllHitsSkipBackend(t *testing.T) {
	next := &echoProcessor{}
	p := NewCachedProcessor(next, cache.New(cache.Config{}, nil))
	ctx := context.Background()

	_, err := p.ProcessBatch(ctx, []*common.ExtractionRequest{req("1", "Roberts")})
	require.NoError(t, err)
	out, err := p.ProcessBatch(ctx, []*common.ExtractionRequest{req("9", "Roberts")})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "9", out[0].RequestID)
	assert.Len(t, next.seen, 1)
}

func TestCachedProcessor_StoreFailureFallsThrough(t *testing.T) {
	next := &echoProcessor{}
	log := testutil.NewMockLogger()
	p := NewCachedProcessor(next, brokenStore{}, WithCacheLogger(log))

	out, err := p.ProcessBatch(context.Background(), []*common.ExtractionRequest{req("1", "Roberts")})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, log.HasMessage("warn", "result cache lookup failed"))
	assert.True(t, log.HasMessage("warn", "result cache write failed"))
}

func TestCachedProcessor_OneStoreRoundTripPerBatch(t *testing.T) {
	next := &echoProcessor{}
	store := &countingStore{LayeredCache: cache.New(cache.Config{}, nil)}
	p := NewCachedProcessor(next, store)
	ctx := context.Background()

	_, err := p.ProcessBatch(ctx, []*common.ExtractionRequest{req("1", "Roberts"), req("2", "Alito"), req("3", "Marshall")})
	require.NoError(t, err)
	_, err = p.ProcessBatch(ctx, []*common.ExtractionRequest{req("4", "Roberts"), req("5", "Sotomayor")})
	require.NoError(t, err)

	require.Len(t, store.gets, 2)
	assert.Len(t, store.gets[0], 3)
	assert.Equal(t, []string{CacheKey("Roberts"), CacheKey("Sotomayor")}, store.gets[1])
	assert.Equal(t, []int{3, 1}, store.sets)
	assert.Equal(t, [][]string{{"1", "2", "3"}, {"5"}}, next.seen)
}

func TestCachedProcessor_DropsUndecodableEntry(t *testing.T) {
	next := &echoProcessor{}
	log := testutil.NewMockLogger()
	store := &countingStore{LayeredCache: cache.New(cache.Config{}, nil)}
	require.NoError(t, store.LayeredCache.SetMany(context.Background(), map[string]interface{}{
		CacheKey("Roberts"): []int{1, 2, 3},
	}))
	p := NewCachedProcessor(next, store, WithCacheLogger(log))

	out, err := p.ProcessBatch(context.Background(), []*common.ExtractionRequest{req("1", "Roberts")})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Roberts", out[0].Entities[0].Text)
	assert.Equal(t, []string{CacheKey("Roberts")}, store.deleted)
	assert.True(t, log.HasMessage("warn", "dropping undecodable cache entries"))
	assert.Len(t, next.seen, 1)
}

func TestCachedProcessor_BackendErrors(t *testing.T) {
	boom := stderrors.New("model offline")
	p := NewCachedProcessor(&echoProcessor{err: boom}, cache.New(cache.Config{}, nil))
	_, err := p.ProcessBatch(context.Background(), []*common.ExtractionRequest{req("1", "Roberts")})
	assert.ErrorIs(t, err, boom)

	p = NewCachedProcessor(&echoProcessor{short: true}, cache.New(cache.Config{}, nil))
	_, err = p.ProcessBatch(context.Background(), []*common.ExtractionRequest{req("1", "Roberts"), req("2", "Alito")})
	assert.True(t, errors.IsCode(err, errors.ErrCodeResultCountMismatch))
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, CacheKey("Roberts"), CacheKey("Roberts"))
	assert.NotEqual(t, CacheKey("Roberts"), CacheKey("roberts"))
	assert.Len(t, CacheKey(""), len("v1:")+64)
}
