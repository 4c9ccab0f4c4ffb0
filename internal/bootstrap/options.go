package bootstrap

import (
	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/search"
)

// RetrieveOptions converts the retrieval config section into engine defaults.
// Explicit paths win over the profile.
func RetrieveOptions(rc config.RetrievalConfig) (search.RetrieveOptions, error) {
	opts := search.RetrieveOptions{
		PoolSize:            rc.PoolSize,
		RRFConstant:         rc.RRFConstant,
		DedupThreshold:      rc.DedupThreshold,
		MergeNearDuplicates: rc.MergeNearDuplicates,
		TopK:                rc.TopK,
		PathTimeout:         rc.PathTimeout,
		RerankTimeout:       rc.RerankTimeout,
		Expand:              rc.Expand,
		ExpandCount:         rc.ExpandCount,
		Rerank:              rc.Rerank,
	}

	if len(rc.Paths) > 0 {
		paths := make([]search.Path, 0, len(rc.Paths))
		for _, s := range rc.Paths {
			p, err := search.ParsePath(s)
			if err != nil {
				return opts, err
			}
			paths = append(paths, p)
		}
		opts.Paths = paths
	} else {
		var err error
		if opts, err = opts.WithProfile(search.Profile(rc.Profile)); err != nil {
			return opts, err
		}
	}
	return opts, opts.Validate()
}
