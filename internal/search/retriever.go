package search

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// Retriever is one recall path. Hits are ordered best first and the order
// is preserved by the engine.
type Retriever interface {
	Search(ctx context.Context, text string, poolSize int) ([]Hit, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, text string, poolSize int) ([]Hit, error)

// Search implements Retriever.
func (f RetrieverFunc) Search(ctx context.Context, text string, poolSize int) ([]Hit, error) {
	return f(ctx, text, poolSize)
}

// VectorRetriever embeds the query and searches the vector store.
type VectorRetriever struct {
	embedder embed.Embedder
	vectors  store.VectorStore
}

var _ Retriever = (*VectorRetriever)(nil)

// NewVectorRetriever creates the vector recall path.
func NewVectorRetriever(embedder embed.Embedder, vectors store.VectorStore) *VectorRetriever {
	return &VectorRetriever{embedder: embedder, vectors: vectors}
}

// Search implements Retriever.
func (r *VectorRetriever) Search(ctx context.Context, text string, poolSize int) ([]Hit, error) {
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := r.vectors.Search(ctx, vec, poolSize)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	hits := make([]Hit, len(results))
	for i, res := range results {
		hits[i] = Hit{ID: res.ID, Score: float64(res.Score)}
	}
	return hits, nil
}

// FieldRetriever searches one field of the lexical index.
type FieldRetriever struct {
	index store.FieldIndex
	field store.Field
}

var _ Retriever = (*FieldRetriever)(nil)

// NewFieldRetriever creates a lexical recall path over field.
func NewFieldRetriever(index store.FieldIndex, field store.Field) *FieldRetriever {
	return &FieldRetriever{index: index, field: field}
}

// Search implements Retriever.
func (r *FieldRetriever) Search(ctx context.Context, text string, poolSize int) ([]Hit, error) {
	results, err := r.index.Search(ctx, text, r.field, poolSize)
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", r.field, err)
	}
	hits := make([]Hit, len(results))
	for i, res := range results {
		hits[i] = Hit{ID: res.ID, Score: res.Score}
	}
	return hits, nil
}

// NewRetrievers wires the standard four paths. A nil embedder or vector
// store leaves the vector path out.
func NewRetrievers(embedder embed.Embedder, vectors store.VectorStore, fields store.FieldIndex) map[Path]Retriever {
	out := map[Path]Retriever{
		PathContent:  NewFieldRetriever(fields, store.FieldContent),
		PathSummary:  NewFieldRetriever(fields, store.FieldSummary),
		PathKeywords: NewFieldRetriever(fields, store.FieldKeywords),
	}
	if embedder != nil && vectors != nil {
		out[PathVector] = NewVectorRetriever(embedder, vectors)
	}
	return out
}
