// Package vector implements the fixed-dimension embedding store described
// in spec.md section 3 (Vector record) and section 4's cosine top-k
// search: rejects embeddings of the wrong dimension or containing NaN/Inf,
// and age-cleans records past a configured retention window.
//
// Storage is delegated to chromem-go, an embeddable persistent vector
// database with cosine similarity search (sourced from the other_examples
// retrieval pack, cklxx-elephant.ai's go.mod) so the durability and
// top-k-search requirements of spec.md section 3/8 are satisfied by a real
// vector engine rather than a hand-rolled linear scan. A small sidecar
// index tracks creation time per record id for age-based cleanup, since
// that is a retention policy specific to this being rather than something
// a general-purpose embedding store is expected to implement itself.
package vector

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/digitalbeing/core/internal/atomicfile"
	"github.com/digitalbeing/core/internal/logging"
	"github.com/digitalbeing/core/internal/model"
)

const collectionName = "episodic_vectors"

// ErrInvalidEmbedding is returned by Search when the query embedding has
// the wrong dimension or contains NaN/Inf. Add reports such an embedding
// by returning false instead.
var ErrInvalidEmbedding = fmt.Errorf("vector: embedding has wrong dimension or contains NaN/Inf")

// Store is the vector memory engine.
type Store struct {
	logger     logging.Logger
	dimension  int
	indexPath  string
	db         *chromem.DB
	collection *chromem.Collection

	mu    sync.Mutex
	index map[string]time.Time // record id -> created_at, persisted as JSON sidecar
}

// unsupportedEmbed is used as the collection's embedding function: this
// store only ever supplies precomputed embeddings, so the function is
// never actually invoked, but chromem-go requires one to be registered.
func unsupportedEmbed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("vector: collection requires precomputed embeddings, not text-derived ones")
}

// Open opens (creating if necessary) the persistent vector database rooted
// at dir, with the given expected embedding dimension.
func Open(dir string, dimension int, logger logging.Logger) (*Store, error) {
	db, err := chromem.NewPersistentDB(dir, true)
	if err != nil {
		return nil, fmt.Errorf("vector: open %s: %w", dir, err)
	}
	col, err := db.GetOrCreateCollection(collectionName, nil, unsupportedEmbed)
	if err != nil {
		return nil, fmt.Errorf("vector: open collection: %w", err)
	}
	s := &Store{
		logger:     logger,
		dimension:  dimension,
		indexPath:  dir + "/created_index.json",
		db:         db,
		collection: col,
		index:      make(map[string]time.Time),
	}
	s.loadIndex()
	return s, nil
}

// validate rejects embeddings of the wrong dimension or containing a
// non-finite value, per spec.md section 3's Vector record invariant.
func validate(embedding []float32, expectedDim int) bool {
	if len(embedding) != expectedDim {
		return false
	}
	for _, v := range embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Add stores a new vector record. Returns ("", false) on validation
// failure without mutating the store.
func (s *Store) Add(ctx context.Context, episodeID int64, eventType, text string, embedding []float32) (string, bool) {
	if !validate(embedding, s.dimension) {
		if s.logger != nil {
			s.logger.Error("vector: rejected embedding", "event_type", eventType, "got_dim", len(embedding), "want_dim", s.dimension)
		}
		return "", false
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	doc := chromem.Document{
		ID:        id,
		Embedding: embedding,
		Content:   text,
		Metadata: map[string]string{
			"episode_id": fmt.Sprintf("%d", episodeID),
			"event_type": eventType,
			"created_at": now.Format(time.RFC3339),
		},
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		if s.logger != nil {
			s.logger.Error("vector: add document failed", "error", err)
		}
		return "", false
	}

	s.mu.Lock()
	s.index[id] = now
	s.mu.Unlock()
	s.saveIndex()
	return id, true
}

// SearchResult pairs a vector record with its similarity score.
type SearchResult struct {
	Record model.VectorRecord
	Score  float32
}

// Search returns the topK nearest records to embedding by cosine
// similarity, ties broken by insertion order (chromem-go's result order
// for equal scores).
func (s *Store) Search(ctx context.Context, embedding []float32, topK int) ([]SearchResult, error) {
	if !validate(embedding, s.dimension) {
		return nil, ErrInvalidEmbedding
	}
	n := s.collection.Count()
	if n == 0 {
		return nil, nil
	}
	if topK > n {
		topK = n
	}
	results, err := s.collection.QueryEmbedding(ctx, embedding, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector: query: %w", err)
	}
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		var episodeID int64
		fmt.Sscanf(r.Metadata["episode_id"], "%d", &episodeID)
		createdAt, _ := time.Parse(time.RFC3339, r.Metadata["created_at"])
		out = append(out, SearchResult{
			Record: model.VectorRecord{
				ID:        r.ID,
				EpisodeID: episodeID,
				EventType: r.Metadata["event_type"],
				Text:      r.Content,
				Embedding: r.Embedding,
				CreatedAt: createdAt,
			},
			Score: r.Similarity,
		})
	}
	return out, nil
}

// Count returns the number of stored vector records.
func (s *Store) Count() int {
	return s.collection.Count()
}

// CleanupOlderThan deletes vector records created more than `days` ago and
// returns the number removed.
func (s *Store) CleanupOlderThan(ctx context.Context, days int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	s.mu.Lock()
	var stale []string
	for id, createdAt := range s.index {
		if createdAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.collection.Delete(ctx, nil, nil, stale...); err != nil {
		return 0, fmt.Errorf("vector: cleanup delete: %w", err)
	}
	s.mu.Lock()
	for _, id := range stale {
		delete(s.index, id)
	}
	s.mu.Unlock()
	s.saveIndex()
	return len(stale), nil
}

func (s *Store) saveIndex() {
	s.mu.Lock()
	snapshot := make(map[string]time.Time, len(s.index))
	for k, v := range s.index {
		snapshot[k] = v
	}
	s.mu.Unlock()

	b, err := marshalIndex(snapshot)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("vector: failed to marshal created-at index", "error", err)
		}
		return
	}
	if err := atomicfile.WriteJSON(s.indexPath, b); err != nil && s.logger != nil {
		s.logger.Warn("vector: failed to persist created-at index", "error", err)
	}
}

func (s *Store) loadIndex() {
	idx, err := readIndex(s.indexPath)
	if err != nil {
		return // absent on first run; not fatal
	}
	s.mu.Lock()
	s.index = idx
	s.mu.Unlock()
}
