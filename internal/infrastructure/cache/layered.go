// Package cache provides the two-tier extraction result cache: a process-local
// go-cache tier in front of an optional shared redis tier.
package cache

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/turtacn/LexExtract/internal/infrastructure/database/redis"
	"github.com/turtacn/LexExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract/internal/intelligence/common"
	"github.com/turtacn/LexExtract/pkg/errors"
)

const (
	DefaultMemoryTTL       = 10 * time.Minute
	DefaultCleanupInterval = 15 * time.Minute
	DefaultRemoteTTL       = 24 * time.Hour

	// Names reported to ExtractionMetrics.RecordCacheAccess.
	MemoryTierName = "result_memory"
	RemoteTierName = "result_redis"
)

// Config sets the lifetimes of both tiers.
type Config struct {
	MemoryTTL       time.Duration
	CleanupInterval time.Duration
	RemoteTTL       time.Duration
}

type Option func(*LayeredCache)

func WithLogger(l logging.Logger) Option {
	return func(c *LayeredCache) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m common.ExtractionMetrics) Option {
	return func(c *LayeredCache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// LayeredCache stores JSON payloads a batch at a time.  Reads try memory,
// then redis; a redis hit is copied into memory.  Redis failures degrade to
// misses and are logged, so an unavailable redis never fails a read.
type LayeredCache struct {
	local     *gocache.Cache
	remote    redis.Cache
	remoteTTL time.Duration
	logger    logging.Logger
	metrics   common.ExtractionMetrics
}

// New builds a layered cache.  remote may be nil for a memory-only cache.
func New(cfg Config, remote redis.Cache, opts ...Option) *LayeredCache {
	if cfg.MemoryTTL <= 0 {
		cfg.MemoryTTL = DefaultMemoryTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.RemoteTTL <= 0 {
		cfg.RemoteTTL = DefaultRemoteTTL
	}
	c := &LayeredCache{
		local:     gocache.New(cfg.MemoryTTL, cfg.CleanupInterval),
		remote:    remote,
		remoteTTL: cfg.RemoteTTL,
		logger:    logging.NewNopLogger(),
		metrics:   common.NewNoopExtractionMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetMany returns the cached payloads of keys.  Keys missing from memory are
// fetched from redis in one round trip and copied into memory.  A redis
// failure is logged and leaves those keys as misses; the error return is
// reserved for stores that cannot degrade.
func (c *LayeredCache) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	found := make(map[string][]byte, len(keys))
	seen := make(map[string]struct{}, len(keys))
	var missing []string
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if v, ok := c.local.Get(k); ok {
			c.metrics.RecordCacheAccess(ctx, MemoryTierName, true)
			found[k] = v.([]byte)
			continue
		}
		c.metrics.RecordCacheAccess(ctx, MemoryTierName, false)
		missing = append(missing, k)
	}
	if len(missing) == 0 || c.remote == nil {
		return found, nil
	}

	remote, err := c.remote.MGet(ctx, missing)
	if err != nil {
		c.logger.Warn("remote cache read failed", logging.Int("keys", len(missing)), logging.Err(err))
		remote = nil
	}
	for _, k := range missing {
		data, ok := remote[k]
		c.metrics.RecordCacheAccess(ctx, RemoteTierName, ok)
		if !ok {
			continue
		}
		c.local.SetDefault(k, data)
		found[k] = data
	}
	return found, nil
}

// SetMany encodes every value and writes it to both tiers.  The memory tier
// is always updated; a redis write failure is returned.
func (c *LayeredCache) SetMany(ctx context.Context, items map[string]interface{}) error {
	if len(items) == 0 {
		return nil
	}
	encoded := make(map[string]interface{}, len(items))
	for k, v := range items {
		data, err := json.Marshal(v)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "encode cache entry")
		}
		c.local.SetDefault(k, data)
		encoded[k] = json.RawMessage(data)
	}
	if c.remote == nil {
		return nil
	}
	if err := c.remote.MSet(ctx, encoded, c.remoteTTL); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "write remote cache")
	}
	return nil
}

// Delete removes keys from both tiers.
func (c *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		c.local.Delete(k)
	}
	if c.remote == nil {
		return nil
	}
	return c.remote.Delete(ctx, keys...)
}

// Flush empties the memory tier only.
func (c *LayeredCache) Flush() {
	c.local.Flush()
}

// LocalLen is the number of entries in the memory tier, expired ones included
// until the next cleanup.
func (c *LayeredCache) LocalLen() int {
	return c.local.ItemCount()
}
