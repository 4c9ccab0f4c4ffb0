package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Aman-CERP/amanrag/internal/chunk"
)

// memChunkStore is an in-memory ChunkStore that counts lookups.
type memChunkStore struct {
	mu           sync.Mutex
	parents      map[string]*chunk.ParentChunk
	childParent  map[string]string
	err          error
	parentIDCall atomic.Int32
	parentsCall  atomic.Int32
	lastParents  []string
}

func newMemChunkStore() *memChunkStore {
	return &memChunkStore{
		parents:     make(map[string]*chunk.ParentChunk),
		childParent: make(map[string]string),
	}
}

// addParent registers a parent and its children.
func (m *memChunkStore) addParent(id, doc, text string, children ...string) {
	m.parents[id] = &chunk.ParentChunk{ID: id, DocumentID: doc, Text: text}
	for _, c := range children {
		m.childParent[c] = id
	}
}

func (m *memChunkStore) ParentIDs(_ context.Context, childIDs []string) (map[string]string, error) {
	m.parentIDCall.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]string)
	for _, id := range childIDs {
		if p, ok := m.childParent[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *memChunkStore) Parents(_ context.Context, parentIDs []string) (map[string]*chunk.ParentChunk, error) {
	m.parentsCall.Add(1)
	m.mu.Lock()
	m.lastParents = append([]string(nil), parentIDs...)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]*chunk.ParentChunk)
	for _, id := range parentIDs {
		if p, ok := m.parents[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *memChunkStore) Close() error { return nil }

// staticRetriever returns fixed ids per query text, or for any text under "".
type staticRetriever struct {
	byQuery map[string][]string
	err     error
	calls   atomic.Int32
}

func fixed(ids ...string) *staticRetriever {
	return &staticRetriever{byQuery: map[string][]string{"": ids}}
}

func failing(msg string) *staticRetriever {
	return &staticRetriever{err: errors.New(msg)}
}

func (r *staticRetriever) Search(_ context.Context, text string, poolSize int) ([]Hit, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	ids, ok := r.byQuery[text]
	if !ok {
		ids = r.byQuery[""]
	}
	if poolSize > 0 && len(ids) > poolSize {
		ids = ids[:poolSize]
	}
	hits := make([]Hit, len(ids))
	for i, id := range ids {
		hits[i] = Hit{ID: id, Score: float64(len(ids) - i)}
	}
	return hits, nil
}

// countingScorer scores from a fixed table and counts calls.
type countingScorer struct {
	scores map[string]float64
	fail   map[string]bool
	calls  atomic.Int32
}

func (s *countingScorer) Score(_ context.Context, _ string, doc string) (float64, error) {
	s.calls.Add(1)
	if s.fail[doc] {
		return 0, errors.New("scoring service unavailable")
	}
	return s.scores[doc], nil
}

func ids(results []RerankedResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ParentChunkID
	}
	return out
}
