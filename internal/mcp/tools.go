package mcp

import (
	"math"

	"github.com/Aman-CERP/amanrag/internal/chunk"
	"github.com/Aman-CERP/amanrag/internal/search"
)

// TurnInput is one prior question/answer exchange.
type TurnInput struct {
	Question string `json:"question" jsonschema:"the earlier user question"`
	Answer   string `json:"answer,omitempty" jsonschema:"the answer that was given"`
}

// RetrieveInput defines the input schema for the retrieve tool.
type RetrieveInput struct {
	Query   string      `json:"query" jsonschema:"the question to retrieve passages for"`
	History []TurnInput `json:"history,omitempty" jsonschema:"prior conversation turns, oldest first; used to rewrite follow-up questions"`
	TopK    int         `json:"top_k,omitempty" jsonschema:"maximum number of passages, default from config"`
	Profile string      `json:"profile,omitempty" jsonschema:"recall profile: full or fast"`
	Paths   []string    `json:"paths,omitempty" jsonschema:"explicit recall paths: vector, content, summary, keywords; overrides profile"`
	Expand  *bool       `json:"expand,omitempty" jsonschema:"generate query variants before recall"`
	Rerank  *bool       `json:"rerank,omitempty" jsonschema:"rerank fused passages with the cross-encoder"`
}

// RetrieveOutput defines the output schema for the retrieve tool.
type RetrieveOutput struct {
	RequestID    string          `json:"request_id"`
	Query        QueryOutput     `json:"query"`
	Results      []PassageOutput `json:"results" jsonschema:"passages, best first"`
	Degraded     bool            `json:"degraded" jsonschema:"true if any stage failed and was recovered"`
	NoCandidates bool            `json:"no_candidates"`
	Warnings     []string        `json:"warnings,omitempty"`
	TookMS       int64           `json:"took_ms"`
}

// QueryOutput shows how the query was transformed.
type QueryOutput struct {
	Original  string   `json:"original"`
	Rewritten string   `json:"rewritten"`
	Variants  []string `json:"variants"`
}

// PassageOutput is a single retrieved parent passage.
type PassageOutput struct {
	ParentChunkID         string   `json:"parent_chunk_id"`
	DocumentID            string   `json:"document_id"`
	RepresentativeChildID string   `json:"representative_child_id" jsonschema:"the highest-ranked child chunk that led to this parent"`
	Text                  string   `json:"text"`
	RerankScore           *float64 `json:"rerank_score,omitempty" jsonschema:"cross-encoder score; absent when scoring failed"`
	FusedScore            float64  `json:"fused_score" jsonschema:"reciprocal rank fusion score"`
	FromCache             bool     `json:"from_cache,omitempty"`
}

// StatusInput defines the input schema for the retrieval_status tool (no parameters).
type StatusInput struct{}

// StatusOutput defines the output schema for the retrieval_status tool.
type StatusOutput struct {
	Index    IndexStats   `json:"index"`
	Embedder EmbedderInfo `json:"embedder"`
	Defaults DefaultsInfo `json:"defaults"`
	Problems int          `json:"recent_problems" jsonschema:"degraded or empty requests in the recent buffer"`
}

// IndexStats contains chunk counts from the chunk store.
type IndexStats struct {
	Parents  int `json:"parents"`
	Children int `json:"children"`
}

// EmbedderInfo describes the active embedder.
type EmbedderInfo struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

// DefaultsInfo is the engine's current default retrieve options.
type DefaultsInfo struct {
	Paths       []string `json:"paths"`
	TopK        int      `json:"top_k"`
	PoolSize    int      `json:"pool_size"`
	RRFConstant int      `json:"rrf_constant"`
	Expand      bool     `json:"expand"`
	Rerank      bool     `json:"rerank"`
}

func toHistory(in []TurnInput) []chunk.Turn {
	if len(in) == 0 {
		return nil
	}
	out := make([]chunk.Turn, len(in))
	for i, t := range in {
		out[i] = chunk.Turn{Question: t.Question, Answer: t.Answer}
	}
	return out
}

// ToRetrieveOutput converts an engine response to the tool output shape.
func ToRetrieveOutput(resp *search.Response) RetrieveOutput {
	out := RetrieveOutput{
		RequestID: resp.RequestID,
		Query: QueryOutput{
			Original:  resp.Query.Original,
			Rewritten: resp.Query.Rewritten,
			Variants:  append([]string{}, resp.Query.Variants...),
		},
		Results:      make([]PassageOutput, 0, len(resp.Results)),
		Degraded:     resp.Degraded,
		NoCandidates: resp.NoCandidates,
		TookMS:       resp.Timings.Total.Milliseconds(),
	}
	for _, r := range resp.Results {
		p := PassageOutput{
			ParentChunkID:         r.ParentChunkID,
			DocumentID:            r.DocumentID,
			RepresentativeChildID: r.RepresentativeChildID,
			Text:                  r.ParentText,
			FusedScore:            r.FusedScore,
			FromCache:             r.FromCache,
		}
		if !math.IsInf(r.RerankScore, 0) && !math.IsNaN(r.RerankScore) {
			s := r.RerankScore
			p.RerankScore = &s
		}
		out.Results = append(out.Results, p)
	}
	for _, w := range resp.Warnings {
		out.Warnings = append(out.Warnings, w.String())
	}
	return out
}

func toDefaultsInfo(o search.RetrieveOptions) DefaultsInfo {
	paths := make([]string, len(o.Paths))
	for i, p := range o.Paths {
		paths[i] = string(p)
	}
	return DefaultsInfo{
		Paths:       paths,
		TopK:        o.TopK,
		PoolSize:    o.PoolSize,
		RRFConstant: o.RRFConstant,
		Expand:      o.Expand,
		Rerank:      o.Rerank,
	}
}
