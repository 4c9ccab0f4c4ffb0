package search

import (
	"context"
	"log/slog"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// ResolveOptions configures the near-duplicate pass.
type ResolveOptions struct {
	// MergeNearDuplicates drops a parent whose token-set Jaccard similarity
	// with an already kept parent is at least DedupThreshold.
	MergeNearDuplicates bool
	DedupThreshold      float64
}

// Resolver maps fused child chunks to their parent chunks ("small to big").
type Resolver struct {
	chunks store.ChunkStore
}

// NewResolver creates a resolver over the chunk store.
func NewResolver(chunks store.ChunkStore) *Resolver {
	return &Resolver{chunks: chunks}
}

// Resolve keeps the highest-ranked child of each parent and loads parent
// text with at most two batched store calls. Output preserves fused order and
// holds each ParentChunkID at most once. Children or parents unknown to the
// store are dropped; dropped counts them. A store error fails the whole call.
func (r *Resolver) Resolve(ctx context.Context, fused []*FusedCandidate, opts ResolveOptions) (out []ResolvedCandidate, dropped int, err error) {
	out = make([]ResolvedCandidate, 0, len(fused))
	if len(fused) == 0 {
		return out, 0, nil
	}

	parentOf := make(map[string]string, len(fused))
	var missing []string
	for _, c := range fused {
		if c.ParentChunkID != "" {
			parentOf[c.ChildChunkID] = c.ParentChunkID
			continue
		}
		missing = append(missing, c.ChildChunkID)
	}
	if len(missing) > 0 {
		found, err := r.chunks.ParentIDs(ctx, missing)
		if err != nil {
			return nil, 0, amanerrors.New(amanerrors.ErrCodeParentLookupFailed, "parent id lookup failed", err)
		}
		for child, parent := range found {
			parentOf[child] = parent
		}
	}

	type winner struct {
		cand     *FusedCandidate
		parentID string
	}
	var (
		winners   []winner
		parentIDs []string
		unknown   int
	)
	seen := make(map[string]bool, len(fused))
	for _, c := range fused {
		pid := parentOf[c.ChildChunkID]
		if pid == "" {
			unknown++
			continue
		}
		if seen[pid] {
			continue
		}
		seen[pid] = true
		winners = append(winners, winner{cand: c, parentID: pid})
		parentIDs = append(parentIDs, pid)
	}

	if len(parentIDs) == 0 {
		return out, unknown, nil
	}
	parents, err := r.chunks.Parents(ctx, parentIDs)
	if err != nil {
		return nil, 0, amanerrors.New(amanerrors.ErrCodeParentLookupFailed, "parent lookup failed", err)
	}

	var kept []map[string]struct{}
	for _, w := range winners {
		p, ok := parents[w.parentID]
		if !ok {
			unknown++
			continue
		}
		if opts.MergeNearDuplicates {
			toks := tokenSet(p.Text)
			if nearDuplicate(toks, kept, opts.DedupThreshold) {
				slog.Debug("near_duplicate_parent_dropped",
					slog.String("parent_chunk_id", w.parentID),
					slog.Float64("threshold", opts.DedupThreshold))
				continue
			}
			kept = append(kept, toks)
		}
		out = append(out, ResolvedCandidate{
			ParentChunkID:         w.parentID,
			DocumentID:            p.DocumentID,
			RepresentativeChildID: w.cand.ChildChunkID,
			ParentText:            p.Text,
			FusedScore:            w.cand.FusedScore,
		})
	}

	return out, unknown, nil
}

// tokenSet returns the distinct tokens of text.
func tokenSet(text string) map[string]struct{} {
	toks := store.Tokenize(text, 1)
	set := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		set[t] = struct{}{}
	}
	return set
}

func nearDuplicate(toks map[string]struct{}, kept []map[string]struct{}, threshold float64) bool {
	for _, k := range kept {
		if jaccard(toks, k) >= threshold {
			return true
		}
	}
	return false
}

// jaccard is |a ∩ b| / |a ∪ b|. Two empty sets are identical.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
