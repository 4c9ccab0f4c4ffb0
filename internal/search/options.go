package search

import (
	"fmt"
	"strings"
	"time"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Defaults for RetrieveOptions.
const (
	DefaultPoolSize       = 50
	DefaultDedupThreshold = 0.85
	DefaultTopK           = 5
	DefaultPathTimeout    = 3 * time.Second
	DefaultRerankTimeout  = 3 * time.Second
	DefaultExpandCount    = 3

	// MaxTopK bounds a single response.
	MaxTopK = 100

	// MaxPoolSize bounds the per-path candidate pool.
	MaxPoolSize = 500
)

// Profile is a named set of recall paths.
type Profile string

const (
	// ProfileFull runs all four paths.
	ProfileFull Profile = "full"

	// ProfileFast skips the vector and content paths.
	ProfileFast Profile = "fast"
)

// ProfilePaths returns the paths enabled by a profile.
func ProfilePaths(p Profile) ([]Path, error) {
	switch Profile(strings.ToLower(string(p))) {
	case ProfileFull, "":
		return append([]Path(nil), AllPaths...), nil
	case ProfileFast:
		return []Path{PathSummary, PathKeywords}, nil
	default:
		return nil, amanerrors.New(amanerrors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown profile %q (valid: full, fast)", p), nil)
	}
}

// RetrieveOptions configures one Retrieve call. Start from
// DefaultRetrieveOptions or Engine.Defaults; zero numeric fields take the
// package defaults.
type RetrieveOptions struct {
	// Paths are the enabled recall paths. Empty means all.
	Paths []Path

	// PoolSize is the per-path candidate count before fusion.
	PoolSize int

	// RRFConstant is the k in 1/(k+rank).
	RRFConstant int

	// DedupThreshold is the Jaccard similarity at which two different
	// parents are merged. Only used with MergeNearDuplicates.
	DedupThreshold      float64
	MergeNearDuplicates bool

	TopK int

	PathTimeout   time.Duration
	RerankTimeout time.Duration

	Expand      bool
	ExpandCount int

	Rerank bool
}

// DefaultRetrieveOptions returns the full profile with expansion and rerank on.
func DefaultRetrieveOptions() RetrieveOptions {
	return RetrieveOptions{
		Paths:          append([]Path(nil), AllPaths...),
		PoolSize:       DefaultPoolSize,
		RRFConstant:    DefaultRRFConstant,
		DedupThreshold: DefaultDedupThreshold,
		TopK:           DefaultTopK,
		PathTimeout:    DefaultPathTimeout,
		RerankTimeout:  DefaultRerankTimeout,
		Expand:         true,
		ExpandCount:    DefaultExpandCount,
		Rerank:         true,
	}
}

// WithProfile returns o with the profile's paths.
func (o RetrieveOptions) WithProfile(p Profile) (RetrieveOptions, error) {
	paths, err := ProfilePaths(p)
	if err != nil {
		return o, err
	}
	o.Paths = paths
	return o, nil
}

// normalize fills zero fields and drops duplicate paths.
func (o RetrieveOptions) normalize() RetrieveOptions {
	if len(o.Paths) == 0 {
		o.Paths = append([]Path(nil), AllPaths...)
	} else {
		seen := make(map[Path]bool, len(o.Paths))
		paths := make([]Path, 0, len(o.Paths))
		for _, p := range o.Paths {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
		o.Paths = paths
	}
	if o.PoolSize <= 0 {
		o.PoolSize = DefaultPoolSize
	}
	if o.PoolSize > MaxPoolSize {
		o.PoolSize = MaxPoolSize
	}
	if o.RRFConstant <= 0 {
		o.RRFConstant = DefaultRRFConstant
	}
	if o.DedupThreshold <= 0 {
		o.DedupThreshold = DefaultDedupThreshold
	}
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.TopK > MaxTopK {
		o.TopK = MaxTopK
	}
	if o.PathTimeout <= 0 {
		o.PathTimeout = DefaultPathTimeout
	}
	if o.RerankTimeout <= 0 {
		o.RerankTimeout = DefaultRerankTimeout
	}
	if o.ExpandCount <= 0 {
		o.ExpandCount = DefaultExpandCount
	}
	return o
}

// Validate rejects options no request can run with.
func (o RetrieveOptions) Validate() error {
	for _, p := range o.Paths {
		if !p.Valid() {
			return amanerrors.New(amanerrors.ErrCodeUnknownPath,
				fmt.Sprintf("unknown recall path %q", p), nil).
				WithSuggestion("use vector, content, summary or keywords")
		}
	}
	if o.DedupThreshold > 1 {
		return amanerrors.ValidationError(fmt.Sprintf("dedup_threshold %.2f must be in (0, 1]", o.DedupThreshold), nil)
	}
	return nil
}
