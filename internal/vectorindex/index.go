package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dshills/brandnexus-mcp/internal/storage"
)

// Snapshot is an immutable view of the fresh vectors for one model version
type Snapshot struct {
	ModelVersion string
	entries      map[int64]entry
}

type entry struct {
	vector []float32
	hash   [32]byte
}

// Get returns the vector for a document id
func (s *Snapshot) Get(id int64) ([]float32, bool) {
	e, ok := s.entries[id]
	return e.vector, ok
}

// Fresh returns the vector for a document id only if it was computed from
// content with the given hash
func (s *Snapshot) Fresh(id int64, hash [32]byte) ([]float32, bool) {
	e, ok := s.entries[id]
	if !ok || e.hash != hash {
		return nil, false
	}
	return e.vector, true
}

// Len returns the number of vectors in the snapshot
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// IDs returns the document ids in ascending order
func (s *Snapshot) IDs() []int64 {
	ids := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

// Index holds the current snapshot. Readers never observe a partially
// built snapshot; Rebuild swaps in a complete one.
type Index struct {
	store        storage.Storage
	modelVersion string
	logger       *zap.Logger
	snap         atomic.Pointer[Snapshot]
}

// New creates an empty index for modelVersion. Call Rebuild to load it.
func New(store storage.Storage, modelVersion string, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	idx := &Index{store: store, modelVersion: modelVersion, logger: logger}
	idx.snap.Store(&Snapshot{ModelVersion: modelVersion, entries: map[int64]entry{}})
	return idx
}

// ModelVersion returns the active model version
func (i *Index) ModelVersion() string {
	return i.modelVersion
}

// Snapshot returns the current snapshot
func (i *Index) Snapshot() *Snapshot {
	return i.snap.Load()
}

// Rebuild loads the fresh vectors from the store and swaps them in
func (i *Index) Rebuild(ctx context.Context) error {
	vectors, err := i.store.ListVectors(ctx, i.modelVersion)
	if err != nil {
		return fmt.Errorf("failed to load vectors: %w", err)
	}

	entries := make(map[int64]entry, len(vectors))
	for _, v := range vectors {
		entries[v.DocumentID] = entry{vector: v.Embedding, hash: v.ContentHash}
	}
	i.snap.Store(&Snapshot{ModelVersion: i.modelVersion, entries: entries})

	i.logger.Debug("vector index rebuilt",
		zap.String("model_version", i.modelVersion),
		zap.Int("vectors", len(entries)))
	return nil
}

// Similarity is the cosine similarity of a and b clamped to [0, 1].
// Mismatched dimensions and zero vectors score 0.
func Similarity(a, b []float32) float64 {
	s := storage.CosineSimilarity(a, b)
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
