package search

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/cache"
)

func resolvedSet() []ResolvedCandidate {
	return []ResolvedCandidate{
		{ParentChunkID: "P1", ParentText: "one", FusedScore: 0.05},
		{ParentChunkID: "P2", ParentText: "two", FusedScore: 0.04},
		{ParentChunkID: "P3", ParentText: "three", FusedScore: 0.03},
	}
}

func TestReranker_SortsByScore(t *testing.T) {
	// Given: a scorer that prefers P3
	sc := &countingScorer{scores: map[string]float64{"one": 0.2, "two": 0.5, "three": 0.9}}
	r := NewReranker(sc, nil, RerankerConfig{})

	// When: reranking
	out := r.Rerank(context.Background(), "q", resolvedSet(), 0)

	// Then: results are ordered by rerank score and keep fused scores
	assert.Equal(t, []string{"P3", "P2", "P1"}, ids(out.Results))
	assert.InDelta(t, 0.9, out.Results[0].RerankScore, 1e-9)
	assert.InDelta(t, 0.03, out.Results[0].FusedScore, 1e-9)
	assert.False(t, out.Degraded)
	assert.Equal(t, 3, out.CacheMisses)
}

func TestReranker_CacheAvoidsSecondCall(t *testing.T) {
	// Given: a reranker with an LRU cache
	sc := &countingScorer{scores: map[string]float64{"one": 0.2, "two": 0.5, "three": 0.9}}
	c := cache.NewLRUCache(100)
	r := NewReranker(sc, c, RerankerConfig{})
	ctx := context.Background()

	// When: reranking the same candidates twice
	first := r.Rerank(ctx, "q", resolvedSet(), 0)
	second := r.Rerank(ctx, "q", resolvedSet(), 0)

	// Then: the scorer ran once per pair and the scores are identical
	assert.Equal(t, int32(3), sc.calls.Load())
	assert.Equal(t, 3, second.CacheHits)
	assert.Equal(t, 0, second.CacheMisses)
	for i := range first.Results {
		assert.Equal(t, first.Results[i].RerankScore, second.Results[i].RerankScore)
		assert.True(t, second.Results[i].FromCache)
	}

	// And: a different query is a different key
	_ = r.Rerank(ctx, "other", resolvedSet(), 0)
	assert.Equal(t, int32(6), sc.calls.Load())
}

func TestReranker_FailedCallScoresLowest(t *testing.T) {
	// Given: scoring fails for P1 only
	sc := &countingScorer{
		scores: map[string]float64{"two": 0.1, "three": 0.2},
		fail:   map[string]bool{"one": true},
	}
	c := cache.NewLRUCache(10)
	r := NewReranker(sc, c, RerankerConfig{})

	out := r.Rerank(context.Background(), "q", resolvedSet(), 0)

	// Then: P1 is last with -Inf, the pass is not degraded, failures are not cached
	assert.Equal(t, []string{"P3", "P2", "P1"}, ids(out.Results))
	assert.True(t, math.IsInf(out.Results[2].RerankScore, -1))
	assert.False(t, out.Degraded)
	assert.Equal(t, 1, out.Failures)
	assert.Equal(t, 2, c.Len())
}

func TestReranker_AllFailedKeepsFusedOrder(t *testing.T) {
	sc := &countingScorer{fail: map[string]bool{"one": true, "two": true, "three": true}}
	r := NewReranker(sc, nil, RerankerConfig{})

	out := r.Rerank(context.Background(), "q", resolvedSet(), 2)

	assert.True(t, out.Degraded)
	assert.Equal(t, 3, out.Failures)
	assert.Equal(t, []string{"P1", "P2"}, ids(out.Results))
	assert.InDelta(t, 0.05, out.Results[0].RerankScore, 1e-9)
}

func TestReranker_CacheHitsPreventDegraded(t *testing.T) {
	// Given: one cached score and a scorer that is down
	c := cache.NewLRUCache(10)
	require.NoError(t, c.Set(context.Background(), cache.Key("q", "two"), cache.Entry{Score: 0.7}))
	sc := &countingScorer{fail: map[string]bool{"one": true, "two": true, "three": true}}

	out := NewReranker(sc, c, RerankerConfig{}).Rerank(context.Background(), "q", resolvedSet(), 0)

	// Then: the cached result leads and the pass is not degraded
	assert.False(t, out.Degraded)
	assert.Equal(t, "P2", out.Results[0].ParentChunkID)
	assert.Equal(t, 1, out.CacheHits)
	assert.Equal(t, 2, out.Failures)
}

func TestReranker_TopK(t *testing.T) {
	sc := &countingScorer{scores: map[string]float64{"one": 3, "two": 2, "three": 1}}
	r := NewReranker(sc, nil, RerankerConfig{})

	assert.Len(t, r.Rerank(context.Background(), "q", resolvedSet(), 2).Results, 2)
	assert.Len(t, r.Rerank(context.Background(), "q", resolvedSet(), 10).Results, 3)
}

func TestReranker_EmptyCandidates(t *testing.T) {
	out := NewReranker(&countingScorer{}, nil, RerankerConfig{}).Rerank(context.Background(), "q", nil, 5)
	assert.NotNil(t, out.Results)
	assert.Empty(t, out.Results)
	assert.False(t, out.Degraded)
}

func TestReranker_EqualScoresKeepFusedOrder(t *testing.T) {
	sc := ScorerFunc(func(context.Context, string, string) (float64, error) { return 0.5, nil })
	out := NewReranker(sc, nil, RerankerConfig{}).Rerank(context.Background(), "q", resolvedSet(), 0)
	assert.Equal(t, []string{"P1", "P2", "P3"}, ids(out.Results))
}

func TestReranker_TimeoutIsFailure(t *testing.T) {
	// Given: a scorer that ignores its context and sleeps
	slow := ScorerFunc(func(context.Context, string, string) (float64, error) {
		time.Sleep(300 * time.Millisecond)
		return 1, nil
	})
	r := NewReranker(slow, nil, RerankerConfig{Timeout: 20 * time.Millisecond})

	// When: reranking
	start := time.Now()
	out := r.Rerank(context.Background(), "q", resolvedSet(), 0)

	// Then: every call timed out without waiting for the scorer
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.True(t, out.Degraded)
}

func TestReranker_NonFiniteScoreIsFailure(t *testing.T) {
	sc := ScorerFunc(func(_ context.Context, _ string, doc string) (float64, error) {
		if doc == "one" {
			return math.NaN(), nil
		}
		return 0.5, nil
	})
	out := NewReranker(sc, nil, RerankerConfig{}).Rerank(context.Background(), "q", resolvedSet(), 0)
	assert.Equal(t, 1, out.Failures)
	assert.Equal(t, "P1", out.Results[2].ParentChunkID)
}

func TestReranker_BoundedConcurrency(t *testing.T) {
	// Given: a scorer that records peak parallelism
	var inFlight, peak atomic.Int32
	sc := ScorerFunc(func(context.Context, string, string) (float64, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return 1, nil
	})
	cands := make([]ResolvedCandidate, 12)
	for i := range cands {
		cands[i] = ResolvedCandidate{ParentChunkID: string(rune('a' + i)), ParentText: string(rune('a' + i))}
	}

	NewReranker(sc, nil, RerankerConfig{Concurrency: 3}).Rerank(context.Background(), "q", cands, 0)

	assert.LessOrEqual(t, peak.Load(), int32(3))
}

// erroringCache fails every operation.
type erroringCache struct{}

func (erroringCache) Get(context.Context, string) (cache.Entry, bool, error) {
	return cache.Entry{}, false, errors.New("cache down")
}
func (erroringCache) Set(context.Context, string, cache.Entry) error { return errors.New("cache down") }
func (erroringCache) Close() error                                   { return nil }

func TestReranker_CacheErrorsAreMisses(t *testing.T) {
	sc := &countingScorer{scores: map[string]float64{"one": 1, "two": 2, "three": 3}}
	out := NewReranker(sc, erroringCache{}, RerankerConfig{}).Rerank(context.Background(), "q", resolvedSet(), 0)

	assert.False(t, out.Degraded)
	assert.Equal(t, 3, out.CacheMisses)
	assert.Equal(t, []string{"P3", "P2", "P1"}, ids(out.Results))
}

func TestRerankedResult_MarshalJSONFailedScore(t *testing.T) {
	b, err := json.Marshal(RerankedResult{ParentChunkID: "P1", RerankScore: math.Inf(-1)})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"rerank_score":null`)
	assert.Contains(t, string(b), `"score_failed":true`)

	b, err = json.Marshal(RerankedResult{ParentChunkID: "P1", RerankScore: 0.5})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"rerank_score":0.5`)
	assert.NotContains(t, string(b), "score_failed")
}
