// Package embedcache memoizes text embeddings in a bounded, expiring LRU so
// repeated context windows do not pay for a second embedding call.
package embedcache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const (
	defaultSize = 1024
	defaultTTL  = time.Hour
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cache is an Embedder that serves repeated texts from memory.
type Cache struct {
	next   Embedder
	lru    *expirable.LRU[string, []float32]
	logger *zap.Logger
}

// New wraps next. Non-positive size or ttl fall back to defaults.
func New(next Embedder, size int, ttl time.Duration, logger *zap.Logger) (*Cache, error) {
	if next == nil {
		return nil, errors.New("embedcache: embedder must not be nil")
	}
	if size <= 0 {
		size = defaultSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		next:   next,
		lru:    expirable.NewLRU[string, []float32](size, nil, ttl),
		logger: logger,
	}, nil
}

// Embed returns the memoized vector for text, calling the wrapped embedder on
// a miss. Failed calls are not cached.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.lru.Get(text); ok {
		c.logger.Debug("embedding cache hit", zap.Int("chars", len(text)))
		return slices.Clone(vec), nil
	}
	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedcache: %w", err)
	}
	c.lru.Add(text, slices.Clone(vec))
	return vec, nil
}

// Len returns the number of memoized texts.
func (c *Cache) Len() int { return c.lru.Len() }

// Purge drops every memoized vector.
func (c *Cache) Purge() { c.lru.Purge() }
