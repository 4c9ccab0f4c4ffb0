package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/chunk"
	"github.com/Aman-CERP/amanrag/internal/llm"
)

// fakeGenerator returns a fixed reply and records prompts.
type fakeGenerator struct {
	reply   string
	err     error
	delay   time.Duration
	calls   atomic.Int32

	mu      sync.Mutex
	prompts []string
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	return g.reply, g.err
}

func TestTransformer_ExpandParsesVariants(t *testing.T) {
	// Given: a generator that answers with a numbered list including a repeat of q
	gen := &fakeGenerator{reply: "1. How do refunds work?\n2) \"refund policy\"\n- Return and refund rules\n\nWhat is the refund process?"}
	tr := NewTransformer(gen, TransformerConfig{})

	// When: expanding into 3 variants
	out := tr.Expand(context.Background(), "Refund policy", 3)

	// Then: q comes first, the case-insensitive repeat is dropped, and at most 3 are added
	assert.Equal(t, []string{
		"Refund policy",
		"How do refunds work?",
		"Return and refund rules",
		"What is the refund process?",
	}, out)
	assert.Contains(t, gen.prompts[0], "Write 3 different ways")
}

func TestTransformer_ExpandCapsCount(t *testing.T) {
	gen := &fakeGenerator{reply: "a one\nb two\nc three\nd four"}
	out := NewTransformer(gen, TransformerConfig{}).Expand(context.Background(), "q", 2)
	assert.Equal(t, []string{"q", "a one", "b two"}, out)
}

func TestTransformer_ExpandFallbackIsStable(t *testing.T) {
	tests := []struct {
		name string
		gen  *fakeGenerator
	}{
		{"error", &fakeGenerator{err: errors.New("connection refused")}},
		{"empty reply", &fakeGenerator{reply: "  \n\n"}},
		{"only the query", &fakeGenerator{reply: "q"}},
		{"timeout", &fakeGenerator{reply: "late", delay: 200 * time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTransformer(tt.gen, TransformerConfig{Timeout: 20 * time.Millisecond})

			// When: expanding repeatedly while the generator is unusable
			first := tr.Expand(context.Background(), "q", 3)
			second := tr.Expand(context.Background(), "q", 3)

			// Then: both calls return exactly [q]
			assert.Equal(t, []string{"q"}, first)
			assert.Equal(t, first, second)
		})
	}
}

func TestTransformer_RewriteEmptyHistoryDoesNotCall(t *testing.T) {
	gen := &fakeGenerator{reply: "ignored"}
	tr := NewTransformer(gen, TransformerConfig{})

	assert.Equal(t, "what about it?", tr.Rewrite(context.Background(), "what about it?", nil))
	assert.Equal(t, int32(0), gen.calls.Load())
}

func TestTransformer_Rewrite(t *testing.T) {
	// Given: a two-turn history
	gen := &fakeGenerator{reply: "\"What is the refund window for damaged goods?\"\nextra"}
	tr := NewTransformer(gen, TransformerConfig{})
	history := []chunk.Turn{
		{Question: "Do you accept returns?", Answer: "Yes."},
		{Question: "What about damaged goods?", Answer: "Those are refunded."},
	}

	// When: rewriting a follow-up
	out := tr.Rewrite(context.Background(), "how long do I have?", history)

	// Then: the first line is used and the prompt carries the conversation
	assert.Equal(t, "What is the refund window for damaged goods?", out)
	assert.Contains(t, gen.prompts[0], "User: Do you accept returns?")
	assert.Contains(t, gen.prompts[0], "Final question: how long do I have?")
}

func TestTransformer_RewriteTruncatesHistory(t *testing.T) {
	gen := &fakeGenerator{reply: "standalone"}
	tr := NewTransformer(gen, TransformerConfig{MaxHistoryTurns: 1})
	history := []chunk.Turn{{Question: "old"}, {Question: "recent"}}

	_ = tr.Rewrite(context.Background(), "q", history)
	assert.NotContains(t, gen.prompts[0], "User: old")
	assert.Contains(t, gen.prompts[0], "User: recent")
}

func TestTransformer_RewriteFailureReturnsInput(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("503")}
	tr := NewTransformer(gen, TransformerConfig{})
	out := tr.Rewrite(context.Background(), "q", []chunk.Turn{{Question: "x", Answer: "y"}})
	assert.Equal(t, "q", out)
}

func TestTransformer_TransformRewritesThenExpands(t *testing.T) {
	// Given: a generator that distinguishes the two prompts
	gen := llm.GeneratorFunc(func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "Standalone question:") {
			return "refund window for damaged goods", nil
		}
		return "damaged goods refund period", nil
	})
	tr := NewTransformer(gen, TransformerConfig{})

	// When: transforming with history and expansion
	rq, warns := tr.Transform(context.Background(), "how long?",
		[]chunk.Turn{{Question: "damaged goods?", Answer: "refunded"}},
		TransformOptions{Expand: true, ExpandCount: 3})

	// Then: variants start from the rewritten text
	assert.Empty(t, warns)
	assert.Equal(t, "how long?", rq.Original)
	assert.Equal(t, "refund window for damaged goods", rq.Rewritten)
	assert.Equal(t, []string{"refund window for damaged goods", "damaged goods refund period"}, rq.Variants)
}

func TestTransformer_TransformReportsFallbacks(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("down")}
	tr := NewTransformer(gen, TransformerConfig{})

	rq, warns := tr.Transform(context.Background(), "q", []chunk.Turn{{Question: "a"}},
		TransformOptions{Expand: true})

	assert.Equal(t, []string{"q"}, rq.Variants)
	assert.Equal(t, "q", rq.Rewritten)
	require.Len(t, warns, 2)
	assert.Equal(t, "rewrite", warns[0].Op)
	assert.Equal(t, "expand", warns[1].Op)
	assert.Equal(t, WarningTransformFailure, warns[0].Kind)
}

func TestTransformer_NilGeneratorIsIdentity(t *testing.T) {
	var tr *Transformer
	rq, warns := tr.Transform(context.Background(), "q", []chunk.Turn{{Question: "a"}}, TransformOptions{Expand: true})
	assert.Empty(t, warns)
	assert.Equal(t, RetrievalQuery{Original: "q", Rewritten: "q", Variants: []string{"q"}}, rq)

	tr = NewTransformer(nil, TransformerConfig{})
	assert.Equal(t, []string{"q"}, tr.Expand(context.Background(), "q", 3))
}

func TestCleanLine(t *testing.T) {
	tests := map[string]string{
		"  1. hello ":     "hello",
		"2) 'quoted'":     "quoted",
		"- bullet":        "bullet",
		"* star":          "star",
		"2024 sales data": "2024 sales data",
		"":                "",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanLine(in), in)
	}
}
