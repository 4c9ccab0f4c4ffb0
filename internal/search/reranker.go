package search

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Aman-CERP/amanrag/internal/cache"
)

// DefaultRerankConcurrency bounds in-flight scoring calls per request.
const DefaultRerankConcurrency = 8

// RerankerConfig configures a Reranker.
type RerankerConfig struct {
	Concurrency int
	Timeout     time.Duration
}

// RerankOutcome is the result of one rerank pass.
type RerankOutcome struct {
	Results []RerankedResult

	// Degraded is set when every scoring call failed and Results are in
	// fused order.
	Degraded bool

	CacheHits   int
	CacheMisses int
	Failures    int
}

// Reranker scores (query, parent text) pairs, consulting the cache first.
type Reranker struct {
	scorer Scorer
	cache  cache.ScoreCache
	cfg    RerankerConfig
	now    func() time.Time
}

// NewReranker creates a reranker. c may be nil to disable caching.
func NewReranker(scorer Scorer, c cache.ScoreCache, cfg RerankerConfig) *Reranker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultRerankConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRerankTimeout
	}
	return &Reranker{scorer: scorer, cache: c, cfg: cfg, now: time.Now}
}

// Rerank scores candidates concurrently and returns the topK best.
//
// A failed or timed-out call gives its candidate -Inf. A cache error counts
// as a miss. When nothing was scored (no hit, no success) the candidates are
// returned in fused order with Degraded set. Equal scores keep fused order.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []ResolvedCandidate, topK int) RerankOutcome {
	return r.rerank(ctx, query, candidates, topK, r.cfg.Timeout)
}

func (r *Reranker) rerank(ctx context.Context, query string, candidates []ResolvedCandidate, topK int, timeout time.Duration) RerankOutcome {
	n := len(candidates)
	if n == 0 {
		return RerankOutcome{Results: []RerankedResult{}}
	}

	scores := make([]float64, n)
	hit := make([]bool, n)
	failed := make([]bool, n)

	sem := semaphore.NewWeighted(int64(r.cfg.Concurrency))
	var g errgroup.Group
	for i := range candidates {
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				scores[i], failed[i] = math.Inf(-1), true
				return nil
			}
			defer sem.Release(1)

			s, fromCache, err := r.scoreOne(ctx, query, candidates[i].ParentText, timeout)
			if err != nil {
				slog.Debug("rerank_score_failed",
					slog.String("parent_chunk_id", candidates[i].ParentChunkID),
					slog.String("error", err.Error()))
				scores[i], failed[i] = math.Inf(-1), true
				return nil
			}
			scores[i], hit[i] = s, fromCache
			return nil
		})
	}
	_ = g.Wait()

	out := RerankOutcome{}
	for i := range candidates {
		switch {
		case hit[i]:
			out.CacheHits++
		case failed[i]:
			out.CacheMisses++
			out.Failures++
		default:
			out.CacheMisses++
		}
	}

	if out.Failures == n {
		out.Degraded = true
		out.Results = passthrough(candidates, topK)
		return out
	}

	results := make([]RerankedResult, n)
	for i, c := range candidates {
		results[i] = RerankedResult{
			ParentChunkID:         c.ParentChunkID,
			DocumentID:            c.DocumentID,
			RepresentativeChildID: c.RepresentativeChildID,
			ParentText:            c.ParentText,
			RerankScore:           scores[i],
			FusedScore:            c.FusedScore,
			FromCache:             hit[i],
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RerankScore > results[j].RerankScore
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	out.Results = results
	return out
}

// scoreOne returns the cached score for (query, text) or asks the scorer
// and stores the answer.
func (r *Reranker) scoreOne(ctx context.Context, query, text string, timeout time.Duration) (float64, bool, error) {
	key := cache.Key(query, text)
	if r.cache != nil {
		e, ok, err := r.cache.Get(ctx, key)
		if err != nil {
			slog.Debug("rerank_cache_get_failed", slog.String("error", err.Error()))
		} else if ok {
			return e.Score, true, nil
		}
	}

	s, err := callWithTimeout(ctx, timeout, func(ctx context.Context) (float64, error) {
		return r.scorer.Score(ctx, query, text)
	})
	if err != nil {
		return 0, false, err
	}
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, false, errors.New("scorer returned a non-finite score")
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, cache.Entry{Score: s, CreatedAt: r.now()}); err != nil {
			slog.Debug("rerank_cache_set_failed", slog.String("error", err.Error()))
		}
	}
	return s, false, nil
}

// passthrough keeps fused order, using the fused score as the result score
// so results stay sorted by RerankScore.
func passthrough(candidates []ResolvedCandidate, topK int) []RerankedResult {
	n := len(candidates)
	if topK > 0 && n > topK {
		n = topK
	}
	out := make([]RerankedResult, n)
	for i := range out {
		c := candidates[i]
		out[i] = RerankedResult{
			ParentChunkID:         c.ParentChunkID,
			DocumentID:            c.DocumentID,
			RepresentativeChildID: c.RepresentativeChildID,
			ParentText:            c.ParentText,
			RerankScore:           c.FusedScore,
			FusedScore:            c.FusedScore,
		}
	}
	return out
}
