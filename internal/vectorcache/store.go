// Package vectorcache is the nearest-neighbour store behind the semantic cache.
//
// Entries are ranked in an in-memory chromem-go collection by cosine
// similarity. Each entry carries an expiry; expired entries never match a
// lookup and are evicted on the next write.
//
// With a Backing the collection is a local index of a shared table: writes go
// to the table first, every lookup first brings the index in line with the
// table's live rows, and a clear empties the table. Processes sharing the
// table therefore see each other's entries and clears.
package vectorcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"semantic-chat/internal/domain"
)

const (
	collectionName = "completions"

	metaCompletion = "completion"
	metaExpiresAt  = "expiresAt"

	// initialTopK is how many neighbours a lookup asks for first. It doubles
	// while every returned neighbour has expired.
	initialTopK = 4
)

// ErrDimension is returned when a vector does not have the store's dimension.
var ErrDimension = errors.New("vectorcache: vector dimension mismatch")

// Backing is the durable store of cache entries shared between processes.
type Backing interface {
	PutCacheEntry(ctx context.Context, entry domain.CacheEntry) error
	// ListCacheEntries returns the entries that have not expired at now.
	ListCacheEntries(ctx context.Context, now time.Time) ([]domain.CacheEntry, error)
	DeleteAllCacheEntries(ctx context.Context) error
}

// Store is a TTL-bounded cosine similarity index of cached completions.
// It is safe for concurrent use. Without a Backing, lookups run in parallel
// with each other.
type Store struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	expires    map[string]time.Time
	backing    Backing

	dimensions int
	ttl        time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithBacking makes b the source of truth for entries. A nil b keeps the
// store process-local.
func WithBacking(b Backing) Option {
	return func(s *Store) { s.backing = b }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an empty Store for vectors of the given dimension whose entries
// live for ttl unless an entry sets its own ExpiresAt.
func New(dimensions int, ttl time.Duration, opts ...Option) (*Store, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("vectorcache: dimensions must be positive, got %d", dimensions)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("vectorcache: ttl must be positive, got %s", ttl)
	}
	s := &Store{
		db:         chromem.NewDB(),
		expires:    make(map[string]time.Time),
		dimensions: dimensions,
		ttl:        ttl,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	col, err := s.db.GetOrCreateCollection(collectionName, nil, refuseEmbedding)
	if err != nil {
		return nil, fmt.Errorf("vectorcache: create collection: %w", err)
	}
	s.collection = col
	return s, nil
}

// refuseEmbedding is the collection's embedding func. Callers always supply
// vectors, so the collection must never compute one itself.
func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("vectorcache: entries must carry a precomputed vector")
}

// Dimensions returns the vector dimension accepted by the store.
func (s *Store) Dimensions() int { return s.dimensions }

// Count returns the number of stored entries, expired ones included.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.expires)
}

// NearestNeighbor returns the most similar non-expired entry if its cosine
// similarity is strictly greater than minSimilarity.
func (s *Store) NearestNeighbor(ctx context.Context, vector []float32, minSimilarity float64) (domain.CacheEntry, bool, error) {
	if err := s.checkDimension(vector); err != nil {
		return domain.CacheEntry{}, false, err
	}

	if s.backing != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.refreshLocked(ctx); err != nil {
			return domain.CacheEntry{}, false, err
		}
	} else {
		s.mu.RLock()
		defer s.mu.RUnlock()
	}

	count := s.collection.Count()
	if count == 0 {
		return domain.CacheEntry{}, false, nil
	}
	now := s.now()
	for k := min(initialTopK, count); ; k = min(k*2, count) {
		results, err := s.collection.QueryEmbedding(ctx, vector, k, nil, nil)
		if err != nil {
			return domain.CacheEntry{}, false, fmt.Errorf("vectorcache: query: %w", err)
		}
		for _, r := range results {
			expiresAt, ok := s.expires[r.ID]
			if !ok || !now.Before(expiresAt) {
				continue
			}
			// Results are ordered by similarity, so the first live one decides.
			if float64(r.Similarity) <= minSimilarity {
				return domain.CacheEntry{}, false, nil
			}
			return domain.CacheEntry{
				ID:         r.ID,
				Vector:     r.Embedding,
				Prompts:    r.Content,
				Completion: r.Metadata[metaCompletion],
				ExpiresAt:  expiresAt,
				Similarity: float64(r.Similarity),
			}, true, nil
		}
		if k >= count {
			return domain.CacheEntry{}, false, nil
		}
	}
}

// UpsertCacheEntry stores entry, replacing any entry with the same id. A zero
// ExpiresAt is set to now plus the store's ttl. Expired entries are evicted
// as a side effect. With a Backing the entry is written there first.
func (s *Store) UpsertCacheEntry(ctx context.Context, entry domain.CacheEntry) error {
	if entry.ID == "" {
		return errors.New("vectorcache: entry id is required")
	}
	if err := s.checkDimension(entry.Vector); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if entry.ExpiresAt.IsZero() {
		entry.ExpiresAt = now.Add(s.ttl)
	}
	if s.backing != nil {
		if err := s.backing.PutCacheEntry(ctx, entry); err != nil {
			return fmt.Errorf("vectorcache: persist %s: %w", entry.ID, err)
		}
	}
	if err := s.evictExpiredLocked(ctx, now); err != nil {
		return err
	}
	return s.addLocked(ctx, entry)
}

// addLocked indexes entry, replacing a local entry with the same id.
func (s *Store) addLocked(ctx context.Context, entry domain.CacheEntry) error {
	if _, exists := s.expires[entry.ID]; exists {
		if err := s.collection.Delete(ctx, nil, nil, entry.ID); err != nil {
			return fmt.Errorf("vectorcache: replace %s: %w", entry.ID, err)
		}
		delete(s.expires, entry.ID)
	}

	vec := make([]float32, len(entry.Vector))
	copy(vec, entry.Vector)
	err := s.collection.AddDocument(ctx, chromem.Document{
		ID:        entry.ID,
		Content:   entry.Prompts,
		Embedding: vec,
		Metadata: map[string]string{
			metaCompletion: entry.Completion,
			metaExpiresAt:  entry.ExpiresAt.UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return fmt.Errorf("vectorcache: add document %s: %w", entry.ID, err)
	}
	s.expires[entry.ID] = entry.ExpiresAt
	return nil
}

// DeleteAllCacheEntries removes every entry, from the Backing as well when
// there is one. Deleting from an empty store is a no-op.
func (s *Store) DeleteAllCacheEntries(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backing != nil {
		if err := s.backing.DeleteAllCacheEntries(ctx); err != nil {
			return fmt.Errorf("vectorcache: delete all: %w", err)
		}
	}
	ids := make([]string, 0, len(s.expires))
	for id := range s.expires {
		ids = append(ids, id)
	}
	if err := s.removeLocked(ctx, ids); err != nil {
		return fmt.Errorf("vectorcache: delete all: %w", err)
	}
	s.logger.Info("cache cleared", zap.Int("local_entries", len(ids)))
	return nil
}

// refreshLocked makes the local index hold exactly the Backing's live
// entries.
func (s *Store) refreshLocked(ctx context.Context) error {
	entries, err := s.backing.ListCacheEntries(ctx, s.now())
	if err != nil {
		return fmt.Errorf("vectorcache: load entries: %w", err)
	}
	live := make(map[string]domain.CacheEntry, len(entries))
	for _, e := range entries {
		live[e.ID] = e
	}

	var stale []string
	for id, at := range s.expires {
		if e, ok := live[id]; !ok || !e.ExpiresAt.Equal(at) {
			stale = append(stale, id)
		}
	}
	if err := s.removeLocked(ctx, stale); err != nil {
		return fmt.Errorf("vectorcache: drop stale entries: %w", err)
	}

	added := 0
	for id, e := range live {
		if _, ok := s.expires[id]; ok {
			continue
		}
		if err := s.checkDimension(e.Vector); err != nil {
			s.logger.Warn("skipping stored cache entry", zap.String("entry_id", id), zap.Error(err))
			continue
		}
		if err := s.addLocked(ctx, e); err != nil {
			return err
		}
		added++
	}
	if added > 0 || len(stale) > 0 {
		s.logger.Debug("cache index refreshed", zap.Int("added", added), zap.Int("removed", len(stale)))
	}
	return nil
}

func (s *Store) removeLocked(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return err
	}
	for _, id := range ids {
		delete(s.expires, id)
	}
	return nil
}

func (s *Store) evictExpiredLocked(ctx context.Context, now time.Time) error {
	var expired []string
	for id, at := range s.expires {
		if !now.Before(at) {
			expired = append(expired, id)
		}
	}
	if len(expired) == 0 {
		return nil
	}
	if err := s.removeLocked(ctx, expired); err != nil {
		return fmt.Errorf("vectorcache: evict expired: %w", err)
	}
	s.logger.Debug("evicted expired cache entries", zap.Int("entries", len(expired)))
	return nil
}

func (s *Store) checkDimension(vector []float32) error {
	if len(vector) != s.dimensions {
		return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(vector), s.dimensions)
	}
	return nil
}
