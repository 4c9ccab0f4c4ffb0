package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrag/internal/chunk"
	"github.com/Aman-CERP/amanrag/internal/llm"
)

// Transformer defaults.
const (
	DefaultTransformTimeout = 3 * time.Second
	DefaultMaxHistoryTurns  = 6
)

const expandPrompt = `Write %d different ways to phrase the search query below.
Keep the meaning identical and vary the wording.
Reply with one query per line and nothing else.

Query: %s`

const rewritePrompt = `Given the conversation below, rewrite the final question so it can be
understood without the conversation. Resolve pronouns and references.
Reply with the rewritten question only.

%s
Final question: %s
Standalone question:`

var errEmptyGeneration = errors.New("generator returned no usable text")

// TransformerConfig configures a Transformer.
type TransformerConfig struct {
	// Timeout bounds each generation call.
	Timeout time.Duration

	// MaxHistoryTurns is how many recent turns are shown to the generator.
	MaxHistoryTurns int
}

// TransformOptions selects what Transform does for one request.
type TransformOptions struct {
	Expand      bool
	ExpandCount int
}

// Transformer rewrites and expands queries with a text generator. Every
// failure falls back to the input query.
type Transformer struct {
	gen llm.Generator
	cfg TransformerConfig
}

// NewTransformer creates a transformer. A nil generator disables both
// operations without warnings.
func NewTransformer(gen llm.Generator, cfg TransformerConfig) *Transformer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTransformTimeout
	}
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = DefaultMaxHistoryTurns
	}
	return &Transformer{gen: gen, cfg: cfg}
}

// Expand returns q followed by up to n generated paraphrases, deduplicated
// case-insensitively. On any failure it returns exactly [q].
func (t *Transformer) Expand(ctx context.Context, q string, n int) []string {
	variants, _ := t.expand(ctx, q, n)
	return variants
}

// Rewrite returns a standalone restatement of q given history. Empty history
// or any failure returns q.
func (t *Transformer) Rewrite(ctx context.Context, q string, history []chunk.Turn) string {
	out, _ := t.rewrite(ctx, q, history)
	return out
}

// Transform rewrites q against history, then expands the rewritten text.
// It never fails; fallbacks are reported as warnings.
func (t *Transformer) Transform(ctx context.Context, q string, history []chunk.Turn, opts TransformOptions) (RetrievalQuery, []Warning) {
	var warnings []Warning

	rewritten, err := t.rewrite(ctx, q, history)
	if err != nil {
		warnings = append(warnings, Warning{Kind: WarningTransformFailure, Op: "rewrite", Message: err.Error()})
	}

	variants := []string{rewritten}
	if opts.Expand {
		n := opts.ExpandCount
		if n <= 0 {
			n = DefaultExpandCount
		}
		variants, err = t.expand(ctx, rewritten, n)
		if err != nil {
			warnings = append(warnings, Warning{Kind: WarningTransformFailure, Op: "expand", Message: err.Error()})
		}
	}

	return RetrievalQuery{Original: q, Rewritten: rewritten, Variants: variants}, warnings
}

func (t *Transformer) expand(ctx context.Context, q string, n int) ([]string, error) {
	if t == nil || t.gen == nil || n <= 0 {
		return []string{q}, nil
	}
	text, err := t.generate(ctx, fmt.Sprintf(expandPrompt, n, q))
	if err != nil {
		return []string{q}, err
	}

	out := []string{q}
	seen := map[string]bool{strings.ToLower(q): true}
	for _, line := range strings.Split(text, "\n") {
		v := cleanLine(line)
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
		if len(out) == n+1 {
			break
		}
	}
	if len(out) == 1 {
		return out, errEmptyGeneration
	}
	return out, nil
}

func (t *Transformer) rewrite(ctx context.Context, q string, history []chunk.Turn) (string, error) {
	if len(history) == 0 || t == nil || t.gen == nil {
		return q, nil
	}
	if len(history) > t.cfg.MaxHistoryTurns {
		history = history[len(history)-t.cfg.MaxHistoryTurns:]
	}

	var sb strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n", strings.TrimSpace(turn.Question), strings.TrimSpace(turn.Answer))
	}
	text, err := t.generate(ctx, fmt.Sprintf(rewritePrompt, sb.String(), q))
	if err != nil {
		return q, err
	}
	for _, line := range strings.Split(text, "\n") {
		if v := cleanLine(line); v != "" {
			return v, nil
		}
	}
	return q, errEmptyGeneration
}

func (t *Transformer) generate(ctx context.Context, prompt string) (string, error) {
	return callWithTimeout(ctx, t.cfg.Timeout, func(ctx context.Context) (string, error) {
		return t.gen.Generate(ctx, prompt)
	})
}

// cleanLine strips list markers, surrounding quotes and whitespace.
func cleanLine(line string) string {
	s := strings.TrimSpace(line)
	s = strings.TrimLeft(s, "-*•")
	s = strings.TrimSpace(s)

	// "1." or "2)" prefixes
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i < len(s) && (s[i] == '.' || s[i] == ')') {
		s = strings.TrimSpace(s[i+1:])
	}
	return strings.TrimSpace(strings.Trim(s, "\"'`"))
}
