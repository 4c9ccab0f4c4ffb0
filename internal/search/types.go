// Package search implements multi-path fusion retrieval.
//
// A query is optionally rewritten against the conversation and expanded into
// variants. Every variant runs on every enabled recall path (vector plus
// BM25 over the content, summary and keywords fields of child chunks). The
// per-path lists are merged across variants, fused with Reciprocal Rank
// Fusion, collapsed to one child per parent chunk, resolved to parent text
// and reranked by a cached scorer.
package search

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Path names a recall strategy.
type Path string

const (
	PathVector   Path = "vector"
	PathContent  Path = "content"
	PathSummary  Path = "summary"
	PathKeywords Path = "keywords"
)

// AllPaths lists every recall path in canonical order.
var AllPaths = []Path{PathVector, PathContent, PathSummary, PathKeywords}

// order returns the canonical position of p, or len(AllPaths) if unknown.
func (p Path) order() int {
	for i, q := range AllPaths {
		if p == q {
			return i
		}
	}
	return len(AllPaths)
}

// Valid reports whether p is a known path.
func (p Path) Valid() bool {
	return p.order() < len(AllPaths)
}

// ParsePath parses a path name, case-insensitively.
func ParsePath(s string) (Path, error) {
	p := Path(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", amanerrors.New(amanerrors.ErrCodeUnknownPath,
			fmt.Sprintf("unknown recall path %q (valid: vector, content, summary, keywords)", s), nil)
	}
	return p, nil
}

// Hit is one ranked result of a recall path. Score is the backend's raw
// score and is only used for diagnostics.
type Hit struct {
	ID    string
	Score float64
}

// PathResult is the ranked output of one path, merged across query variants.
type PathResult struct {
	Path   Path
	IDs    []string
	Scores []float64
}

// RetrievalQuery is the transformed query handed to recall.
type RetrievalQuery struct {
	Original  string   `json:"original"`
	Rewritten string   `json:"rewritten"`
	Variants  []string `json:"variants"`
}

// FusedCandidate is a child chunk after rank fusion. FusedScore is derived
// from ranks only.
type FusedCandidate struct {
	ChildChunkID      string
	ParentChunkID     string
	FusedScore        float64
	BestRank          int
	ContributingPaths []Path
}

// ResolvedCandidate is the best child of one parent, resolved to parent text.
type ResolvedCandidate struct {
	ParentChunkID         string
	DocumentID            string
	RepresentativeChildID string
	ParentText            string
	FusedScore            float64
}

// RerankedResult is a final retrieval result.
type RerankedResult struct {
	ParentChunkID         string  `json:"parent_chunk_id"`
	DocumentID            string  `json:"document_id"`
	RepresentativeChildID string  `json:"representative_child_id"`
	ParentText            string  `json:"parent_text"`
	RerankScore           float64 `json:"rerank_score"`
	FusedScore            float64 `json:"fused_score"`
	FromCache             bool    `json:"from_cache"`
}

// MarshalJSON writes a failed score (-Inf) as null, which JSON can carry.
func (r RerankedResult) MarshalJSON() ([]byte, error) {
	type alias RerankedResult
	out := struct {
		alias
		RerankScore *float64 `json:"rerank_score"`
		ScoreFailed bool     `json:"score_failed,omitempty"`
	}{alias: alias(r)}
	if math.IsInf(r.RerankScore, 0) || math.IsNaN(r.RerankScore) {
		out.ScoreFailed = true
	} else {
		s := r.RerankScore
		out.RerankScore = &s
	}
	return json.Marshal(out)
}

// WarningKind classifies a recovered failure.
type WarningKind string

const (
	WarningPartialPathFailure WarningKind = "partial_path_failure"
	WarningTotalRecallFailure WarningKind = "total_recall_failure"
	WarningTransformFailure   WarningKind = "transform_failure"
	WarningRerankFailure      WarningKind = "rerank_failure"
	WarningRerankTotalFailure WarningKind = "rerank_total_failure"
	WarningResolveFailure     WarningKind = "resolve_failure"
)

// Warning records a failure the request recovered from.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Path    Path        `json:"path,omitempty"`
	Op      string      `json:"op,omitempty"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	var sb strings.Builder
	sb.WriteString(string(w.Kind))
	if w.Path != "" {
		sb.WriteString("[" + string(w.Path) + "]")
	}
	if w.Op != "" {
		sb.WriteString("[" + w.Op + "]")
	}
	sb.WriteString(": " + w.Message)
	return sb.String()
}

// Timings breaks down where a request spent its time.
type Timings struct {
	Transform time.Duration `json:"transform"`
	Recall    time.Duration `json:"recall"`
	Fusion    time.Duration `json:"fusion"`
	Resolve   time.Duration `json:"resolve"`
	Rerank    time.Duration `json:"rerank"`
	Total     time.Duration `json:"total"`
}

// Response is the outcome of Engine.Retrieve.
type Response struct {
	Results []RerankedResult `json:"results"`
	Query   RetrievalQuery   `json:"query"`

	// Degraded is set when any warning was recorded.
	Degraded bool `json:"degraded"`

	// NoCandidates is set when Results is empty.
	NoCandidates bool `json:"no_candidates"`

	Warnings  []Warning `json:"warnings,omitempty"`
	RequestID string    `json:"request_id"`
	Timings   Timings   `json:"timings"`
}

func (r *Response) warn(w Warning) {
	r.Warnings = append(r.Warnings, w)
	r.Degraded = true
}

// HasWarning reports whether a warning of kind was recorded.
func (r *Response) HasWarning(kind WarningKind) bool {
	for _, w := range r.Warnings {
		if w.Kind == kind {
			return true
		}
	}
	return false
}
