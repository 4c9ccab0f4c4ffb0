package search

import (
	"math"
	"sort"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// RRFFusion merges ranked id lists with Reciprocal Rank Fusion:
//
//	score(d) = Σ 1 / (k + rank_p(d))
//
// over the paths p whose list contains d, with 1-based ranks. Only ranks are
// used, so scores from different backends never need normalizing.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates a fusion with k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a fusion with a custom k. k <= 0 uses 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse combines per-path lists. A repeated id within one list keeps its
// first position and the later copies are skipped before ranks are assigned.
//
// Results are sorted by score (desc), then best rank across paths (asc),
// then id (asc). The result is never nil.
func (f *RRFFusion) Fuse(lists map[Path][]string) []*FusedCandidate {
	k := f.K
	if k <= 0 {
		k = DefaultRRFConstant
	}

	paths := make([]Path, 0, len(lists))
	for p := range lists {
		paths = append(paths, p)
	}
	sortPaths(paths)

	byID := make(map[string]*FusedCandidate)
	ranks := make(map[string][]int)
	for _, p := range paths {
		seen := make(map[string]bool, len(lists[p]))
		rank := 0
		for _, id := range lists[p] {
			if seen[id] {
				continue
			}
			seen[id] = true
			rank++

			c, ok := byID[id]
			if !ok {
				c = &FusedCandidate{ChildChunkID: id, BestRank: math.MaxInt}
				byID[id] = c
			}
			ranks[id] = append(ranks[id], rank)
			c.BestRank = min(c.BestRank, rank)
			c.ContributingPaths = append(c.ContributingPaths, p)
		}
	}

	out := make([]*FusedCandidate, 0, len(byID))
	for id, c := range byID {
		c.FusedScore = rrfScore(k, ranks[id])
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return compareFused(out[i], out[j])
	})
	return out
}

// rrfScore sums 1/(k+rank) in ascending rank order, so equal rank sets give
// bit-identical scores whatever order the paths contributed them in.
func rrfScore(k int, ranks []int) float64 {
	sort.Ints(ranks)
	var score float64
	for _, r := range ranks {
		score += 1.0 / float64(k+r)
	}
	return score
}

// compareFused reports whether a ranks before b.
func compareFused(a, b *FusedCandidate) bool {
	if a.FusedScore != b.FusedScore {
		return a.FusedScore > b.FusedScore
	}
	if a.BestRank != b.BestRank {
		return a.BestRank < b.BestRank
	}
	return a.ChildChunkID < b.ChildChunkID
}

// sortPaths orders known paths canonically and unknown ones by name after them.
func sortPaths(paths []Path) {
	sort.Slice(paths, func(i, j int) bool {
		oi, oj := paths[i].order(), paths[j].order()
		if oi != oj {
			return oi < oj
		}
		return paths[i] < paths[j]
	})
}
