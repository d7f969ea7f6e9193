package inference

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"jobsift/core/port/out"
)

const defaultCacheTTL = 7 * 24 * time.Hour

// StageCache memoizes per-stage results keyed by a normalized hash of
// (subject, truncated body). A hit short-circuits before any model
// invocation.
type StageCache struct {
	cache out.Cache
	ttl   time.Duration
}

// NewStageCache creates a stage cache with the configured retention
// window.
func NewStageCache(cache out.Cache, ttl time.Duration) *StageCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &StageCache{cache: cache, ttl: ttl}
}

// Key derives the cache key for one stage result. Normalization
// lowercases and collapses whitespace so trivially re-encoded duplicates
// still hit.
func (c *StageCache) Key(stage, subject, truncatedBody string) string {
	h := sha256.New()
	h.Write([]byte(stage))
	h.Write([]byte{0})
	h.Write([]byte(normalize(subject)))
	h.Write([]byte{0})
	h.Write([]byte(normalize(truncatedBody)))
	return "inference:" + stage + ":" + hex.EncodeToString(h.Sum(nil))
}

// Get loads a cached stage result into dest. Returns false on miss or
// decode failure; cache errors never fail the pipeline.
func (c *StageCache) Get(ctx context.Context, key string, dest interface{}) bool {
	data, err := c.cache.Get(ctx, key)
	if err != nil || len(data) == 0 {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}

// Store writes a stage result; failures are ignored.
func (c *StageCache) Store(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.cache.Set(ctx, key, data, c.ttl)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
