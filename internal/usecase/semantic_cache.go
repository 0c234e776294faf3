package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"semantic-chat/internal/domain"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore is a cosine nearest-neighbour index of cached completions.
// Expired entries must never be returned.
type VectorStore interface {
	// NearestNeighbor returns the top-1 entry if its similarity is strictly
	// greater than minSimilarity.
	NearestNeighbor(ctx context.Context, vector []float32, minSimilarity float64) (domain.CacheEntry, bool, error)
	UpsertCacheEntry(ctx context.Context, entry domain.CacheEntry) error
	DeleteAllCacheEntries(ctx context.Context) error
}

// LookupResult is the outcome of a cache lookup. Prompts and Vector are set on
// a miss too, so the caller can insert without embedding twice.
type LookupResult struct {
	Hit        bool
	Completion string
	EntryID    string
	Similarity float64
	Prompts    string
	Vector     []float32
}

// SemanticCache reuses completions for context windows whose prompts embed
// close to an earlier window's.
type SemanticCache struct {
	embedder  Embedder
	store     VectorStore
	threshold float64
}

func NewSemanticCache(embedder Embedder, store VectorStore, threshold float64) (*SemanticCache, error) {
	if embedder == nil {
		return nil, errors.New("usecase: embedder must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: vector store must not be nil")
	}
	if threshold < -1 || threshold > 1 || math.IsNaN(threshold) {
		return nil, fmt.Errorf("usecase: similarity threshold must be within [-1,1], got %v", threshold)
	}
	return &SemanticCache{embedder: embedder, store: store, threshold: threshold}, nil
}

// Lookup embeds the prompts of window and returns the cached completion of
// the nearest entry above the threshold.
func (c *SemanticCache) Lookup(ctx context.Context, window []domain.Message) (LookupResult, error) {
	prompts := windowPrompts(window)
	if strings.TrimSpace(prompts) == "" {
		return LookupResult{Prompts: prompts}, nil
	}
	vec, err := c.embedder.Embed(ctx, prompts)
	if err != nil {
		return LookupResult{}, fmt.Errorf("usecase: embed window: %w", err)
	}
	res := LookupResult{Prompts: prompts, Vector: vec}
	entry, ok, err := c.store.NearestNeighbor(ctx, vec, c.threshold)
	if err != nil {
		return res, fmt.Errorf("usecase: nearest neighbour: %w", err)
	}
	if !ok {
		return res, nil
	}
	res.Hit = true
	res.Completion = entry.Completion
	res.EntryID = entry.ID
	res.Similarity = entry.Similarity
	return res, nil
}

// Insert stores completion under the embedding of prompts. vector may be nil,
// in which case prompts are embedded first. Entries are never deduplicated.
func (c *SemanticCache) Insert(ctx context.Context, prompts string, vector []float32, completion string) error {
	if vector == nil {
		if strings.TrimSpace(prompts) == "" {
			return errors.New("usecase: cache insert needs prompts or a vector")
		}
		vec, err := c.embedder.Embed(ctx, prompts)
		if err != nil {
			return fmt.Errorf("usecase: embed prompts: %w", err)
		}
		vector = vec
	}
	err := c.store.UpsertCacheEntry(ctx, domain.CacheEntry{
		ID:         newUUID(),
		Vector:     vector,
		Prompts:    prompts,
		Completion: completion,
	})
	if err != nil {
		return fmt.Errorf("usecase: upsert cache entry: %w", err)
	}
	return nil
}

// Clear removes every cached completion.
func (c *SemanticCache) Clear(ctx context.Context) error {
	if err := c.store.DeleteAllCacheEntries(ctx); err != nil {
		return fmt.Errorf("usecase: clear cache: %w", err)
	}
	return nil
}
