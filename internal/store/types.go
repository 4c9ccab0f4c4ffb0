// Package store holds the indexes the retrieval engine reads from: the
// three-field lexical index (bleve or SQLite FTS5), the vector index (HNSW or
// chromem) and the relational parent/child chunk store.
//
// All stores are written by the indexer and are read-only at query time.
package store

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/amanrag/internal/chunk"
)

// Field names one of the lexically indexed child chunk fields.
type Field string

const (
	FieldContent  Field = "content"
	FieldSummary  Field = "summary"
	FieldKeywords Field = "keywords"
)

// AllFields lists the indexed fields in canonical order.
var AllFields = []Field{FieldContent, FieldSummary, FieldKeywords}

// Valid reports whether f is one of the indexed fields.
func (f Field) Valid() bool {
	switch f {
	case FieldContent, FieldSummary, FieldKeywords:
		return true
	}
	return false
}

// FieldDocument is one child chunk as seen by the lexical index.
type FieldDocument struct {
	ID       string
	Content  string
	Summary  string
	Keywords string
}

// FieldDocumentFromChild projects a child chunk onto the lexical fields.
func FieldDocumentFromChild(c *chunk.ChildChunk) *FieldDocument {
	return &FieldDocument{
		ID:       c.ID,
		Content:  c.Text,
		Summary:  c.Summary,
		Keywords: c.KeywordText(),
	}
}

func (d *FieldDocument) text(f Field) string {
	switch f {
	case FieldSummary:
		return d.Summary
	case FieldKeywords:
		return d.Keywords
	default:
		return d.Content
	}
}

// FieldHit is a lexical search result. Score is BM25, higher is better.
type FieldHit struct {
	ID    string
	Score float64
}

// FieldIndex is a BM25 index over the three child chunk fields.
type FieldIndex interface {
	// Index adds or replaces documents.
	Index(ctx context.Context, docs []*FieldDocument) error

	// Search ranks documents by BM25 over a single field, best first.
	// An empty or all-stopword query returns no hits and no error.
	Search(ctx context.Context, query string, field Field, limit int) ([]*FieldHit, error)

	Count() int
	Close() error
}

// TextConfig configures query and document analysis for the lexical index.
type TextConfig struct {
	// StopWords are dropped from documents and queries.
	StopWords []string

	// MinTokenLength is the shortest token kept (default: 2).
	MinTokenLength int
}

// DefaultTextConfig returns English stop words and a two-rune minimum.
func DefaultTextConfig() TextConfig {
	return TextConfig{
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords are high-frequency English function words.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"has", "have", "in", "is", "it", "its", "of", "on", "or", "that",
	"the", "this", "to", "was", "were", "will", "with", "what", "which",
	"how", "who", "does", "do",
}

// VectorResult is a nearest-neighbour hit.
type VectorResult struct {
	ID       string
	Distance float32 // lower is closer
	Score    float32 // similarity in [0, 1]
}

// VectorStoreConfig configures a vector index.
type VectorStoreConfig struct {
	// Dimensions must match the embedder.
	Dimensions int

	// Metric is "cos" (default) or "l2".
	Metric string

	// M is the HNSW max connections per layer (default: 16).
	M int

	// EfSearch is the HNSW query-time search width (default: 20).
	EfSearch int
}

// DefaultVectorStoreConfig returns HNSW defaults for the given dimensions.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore indexes child chunk embeddings.
type VectorStore interface {
	// Add inserts vectors. An existing ID is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search returns up to k nearest neighbours, closest first.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	Count() int

	Save(path string) error
	Load(path string) error
	Close() error
}

// ChunkStore resolves children to parents. Unknown IDs are absent from the
// returned maps, never an error.
type ChunkStore interface {
	// ParentIDs maps child chunk IDs to their parent chunk IDs.
	ParentIDs(ctx context.Context, childIDs []string) (map[string]string, error)

	// Parents loads parent chunks by ID.
	Parents(ctx context.Context, parentIDs []string) (map[string]*chunk.ParentChunk, error)

	Close() error
}

// ChunkWriter persists chunks for later lookup.
type ChunkWriter interface {
	SaveParents(ctx context.Context, parents []*chunk.ParentChunk) error
	SaveChildren(ctx context.Context, children []*chunk.ChildChunk) error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (re-run 'amanrag index' with the current embedder)", e.Expected, e.Got)
}
