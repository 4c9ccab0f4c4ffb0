package search

import "sort"

// mergeVariants collapses one path's results for several query variants into
// a single ranked list. An id keeps its best (lowest) rank over all variants.
// Equal ranks are ordered by variant, then id. At most limit ids are kept.
func mergeVariants(path Path, variants [][]Hit, limit int) PathResult {
	type entry struct {
		id      string
		rank    int
		variant int
		score   float64
	}

	best := make(map[string]*entry)
	for v, hits := range variants {
		for i, h := range hits {
			rank := i + 1
			e, ok := best[h.ID]
			if !ok {
				best[h.ID] = &entry{id: h.ID, rank: rank, variant: v, score: h.Score}
				continue
			}
			if rank < e.rank {
				e.rank, e.variant, e.score = rank, v, h.Score
			}
		}
	}

	entries := make([]*entry, 0, len(best))
	for _, e := range best {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		if a.variant != b.variant {
			return a.variant < b.variant
		}
		return a.id < b.id
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	res := PathResult{
		Path:   path,
		IDs:    make([]string, len(entries)),
		Scores: make([]float64, len(entries)),
	}
	for i, e := range entries {
		res.IDs[i] = e.id
		res.Scores[i] = e.score
	}
	return res
}
