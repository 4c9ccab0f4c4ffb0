package store

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

const chromemCollection = "child_chunks"

// ChromemStore is a VectorStore over chromem-go. It does an exact scan
// instead of a graph walk, which is the better trade for small corpora.
// With a path, chromem persists every Add itself and Save is a no-op.
type ChromemStore struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	dims       int
	closed     bool
}

var _ VectorStore = (*ChromemStore)(nil)

var errNoEmbedFunc = errors.New("chromem store only accepts precomputed embeddings")

// NewChromemStore opens the database at path, or an in-memory one for "".
func NewChromemStore(path string, dimensions int) (*ChromemStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", dimensions)
	}

	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else if db, err = chromem.NewPersistentDB(path, true); err != nil {
		return nil, fmt.Errorf("failed to open chromem db: %w", err)
	}

	// The embedding func must be set, or chromem defaults to OpenAI.
	coll, err := db.GetOrCreateCollection(chromemCollection, nil, func(context.Context, string) ([]float32, error) {
		return nil, errNoEmbedFunc
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open collection: %w", err)
	}
	return &ChromemStore{db: db, collection: coll, dims: dimensions}, nil
}

// Add implements VectorStore.
func (s *ChromemStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != s.dims {
			return ErrDimensionMismatch{Expected: s.dims, Got: len(vectors[i])}
		}
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)
		docs[i] = chromem.Document{ID: id, Embedding: vec}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add vectors: %w", err)
	}
	return nil
}

// Search implements VectorStore.
func (s *ChromemStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != s.dims {
		return nil, ErrDimensionMismatch{Expected: s.dims, Got: len(query)}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	// chromem rejects nResults above the document count.
	n := s.collection.Count()
	if k > n {
		k = n
	}
	if k <= 0 {
		return []*VectorResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	res, err := s.collection.QueryEmbedding(ctx, q, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	out := make([]*VectorResult, len(res))
	for i, r := range res {
		// Similarity is cosine in [-1, 1]; report it on the HNSW scale.
		d := 1 - r.Similarity
		out[i] = &VectorResult{ID: r.ID, Distance: d, Score: similarity(d, "cos")}
	}
	return out, nil
}

// Count implements VectorStore.
func (s *ChromemStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.collection.Count()
}

// Save implements VectorStore. Persistent databases write on Add.
func (s *ChromemStore) Save(string) error { return nil }

// Load implements VectorStore. The database is read when it is opened.
func (s *ChromemStore) Load(string) error { return nil }

// Close implements VectorStore.
func (s *ChromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
