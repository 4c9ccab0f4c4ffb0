package search

import (
	"context"

	"github.com/Aman-CERP/amanrag/internal/store"
)

// Scorer rates how well a document answers a query. Higher is better.
type Scorer interface {
	Score(ctx context.Context, query, document string) (float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, query, document string) (float64, error)

// Score implements Scorer.
func (f ScorerFunc) Score(ctx context.Context, query, document string) (float64, error) {
	return f(ctx, query, document)
}

// LexicalScorer scores by the fraction of distinct query terms present in
// the document, in [0, 1]. It needs no service and is used offline.
type LexicalScorer struct {
	stop   map[string]struct{}
	minLen int
}

var _ Scorer = (*LexicalScorer)(nil)

// NewLexicalScorer creates a scorer using the lexical index's analysis rules.
func NewLexicalScorer(cfg store.TextConfig) *LexicalScorer {
	if cfg.MinTokenLength <= 0 {
		cfg.MinTokenLength = 2
	}
	return &LexicalScorer{stop: store.BuildStopWordMap(cfg.StopWords), minLen: cfg.MinTokenLength}
}

// Score implements Scorer. A query with no content terms scores 0.
func (s *LexicalScorer) Score(_ context.Context, query, document string) (float64, error) {
	qTerms := store.FilterStopWords(store.Tokenize(query, s.minLen), s.stop)
	if len(qTerms) == 0 {
		return 0, nil
	}
	doc := make(map[string]struct{})
	for _, t := range store.Tokenize(document, s.minLen) {
		doc[t] = struct{}{}
	}

	distinct := make(map[string]struct{}, len(qTerms))
	matched := 0
	for _, t := range qTerms {
		if _, dup := distinct[t]; dup {
			continue
		}
		distinct[t] = struct{}{}
		if _, ok := doc[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(distinct)), nil
}
