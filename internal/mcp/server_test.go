package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/chunk"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// fakeEngine records the last call and returns a canned response.
type fakeEngine struct {
	mu       sync.Mutex
	resp     *search.Response
	err      error
	query    string
	history  []chunk.Turn
	topK     int
	opts     search.RetrieveOptions
	defaults search.RetrieveOptions
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		defaults: search.DefaultRetrieveOptions(),
		resp: &search.Response{
			RequestID: "req-1",
			Query:     search.RetrievalQuery{Original: "refund window", Rewritten: "refund window", Variants: []string{"refund window"}},
			Results: []search.RerankedResult{
				{ParentChunkID: "p-refund", DocumentID: "policy.md", RepresentativeChildID: "c-refund-1",
					ParentText: "Refunds are accepted within 30 days.", RerankScore: 0.91, FusedScore: 0.048},
				{ParentChunkID: "p-shipping", DocumentID: "policy.md", RepresentativeChildID: "c-shipping",
					ParentText: "Orders ship in two days.", RerankScore: math.Inf(-1), FusedScore: 0.016, FromCache: true},
			},
			Timings: search.Timings{Total: 42 * time.Millisecond},
		},
	}
}

func (f *fakeEngine) Retrieve(_ context.Context, query string, history []chunk.Turn, topK int, opts search.RetrieveOptions) (*search.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.query, f.history, f.topK, f.opts = query, history, topK, opts
	return f.resp, f.err
}

func (f *fakeEngine) Defaults() search.RetrieveOptions { return f.defaults }

type fakeCounter struct {
	parents, children int
	err               error
}

func (c fakeCounter) Counts(context.Context) (int, int, error) { return c.parents, c.children, c.err }

func newTestServer(t *testing.T, engine Retriever, opts ...Option) *Server {
	t.Helper()
	srv, err := NewServer(engine, opts...)
	require.NoError(t, err)
	return srv
}

func TestNewServer_RequiresEngine(t *testing.T) {
	_, err := NewServer(nil)
	assert.Error(t, err)
}

func TestListTools(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())

	names := []string{}
	for _, tool := range srv.ListTools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}
	assert.Equal(t, []string{ToolRetrieve, ToolRetrievalStatus}, names)
}

func TestRetrieveTool_ReturnsPassages(t *testing.T) {
	// Given: an engine with two passages, the second with a failed score
	engine := newFakeEngine()
	srv := newTestServer(t, engine)

	// When: calling retrieve with history and top_k
	result, err := srv.CallTool(context.Background(), ToolRetrieve, RetrieveInput{
		Query:   "refund window",
		History: []TurnInput{{Question: "what is the return policy?", Answer: "30 days"}},
		TopK:    2,
	})

	// Then: the output carries both passages and the inputs reach the engine
	require.NoError(t, err)
	out, ok := result.(RetrieveOutput)
	require.True(t, ok, "got %T", result)
	assert.Equal(t, "req-1", out.RequestID)
	assert.Equal(t, int64(42), out.TookMS)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "p-refund", out.Results[0].ParentChunkID)
	assert.Equal(t, "Refunds are accepted within 30 days.", out.Results[0].Text)
	require.NotNil(t, out.Results[0].RerankScore)
	assert.InDelta(t, 0.91, *out.Results[0].RerankScore, 1e-9)
	assert.Nil(t, out.Results[1].RerankScore, "failed score is omitted")
	assert.True(t, out.Results[1].FromCache)

	assert.Equal(t, "refund window", engine.query)
	assert.Equal(t, 2, engine.topK)
	assert.Equal(t, []chunk.Turn{{Question: "what is the return policy?", Answer: "30 days"}}, engine.history)
	assert.Equal(t, search.DefaultRetrieveOptions(), engine.opts)
}

func TestRetrieveTool_Overrides(t *testing.T) {
	no := false

	tests := []struct {
		name      string
		input     RetrieveInput
		wantPaths []search.Path
		expand    bool
		rerank    bool
	}{
		{
			name:      "defaults",
			input:     RetrieveInput{Query: "q"},
			wantPaths: search.AllPaths,
			expand:    true,
			rerank:    true,
		},
		{
			name:      "fast profile",
			input:     RetrieveInput{Query: "q", Profile: "fast"},
			wantPaths: []search.Path{search.PathSummary, search.PathKeywords},
			expand:    true,
			rerank:    true,
		},
		{
			name:      "paths win over profile",
			input:     RetrieveInput{Query: "q", Profile: "fast", Paths: []string{"Vector", "content"}},
			wantPaths: []search.Path{search.PathVector, search.PathContent},
			expand:    true,
			rerank:    true,
		},
		{
			name:      "expand and rerank off",
			input:     RetrieveInput{Query: "q", Expand: &no, Rerank: &no},
			wantPaths: search.AllPaths,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newFakeEngine()
			srv := newTestServer(t, engine)

			_, err := srv.CallTool(context.Background(), ToolRetrieve, tt.input)

			require.NoError(t, err)
			assert.Equal(t, tt.wantPaths, engine.opts.Paths)
			assert.Equal(t, tt.expand, engine.opts.Expand)
			assert.Equal(t, tt.rerank, engine.opts.Rerank)
		})
	}
}

func TestRetrieveTool_InvalidParams(t *testing.T) {
	tests := []struct {
		name  string
		input RetrieveInput
	}{
		{"empty query", RetrieveInput{}},
		{"unknown path", RetrieveInput{Query: "q", Paths: []string{"graph"}}},
		{"unknown profile", RetrieveInput{Query: "q", Profile: "thorough"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, newFakeEngine())

			_, err := srv.CallTool(context.Background(), ToolRetrieve, tt.input)

			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
		})
	}
}

func TestRetrieveTool_EngineValidationError(t *testing.T) {
	// Given: an engine that rejects the request
	engine := newFakeEngine()
	engine.err = amerrors.New(amerrors.ErrCodeInvalidInput, "dedup_threshold 1.50 must be in (0, 1]", nil)
	srv := newTestServer(t, engine)

	// When: calling retrieve
	_, err := srv.CallTool(context.Background(), ToolRetrieve, RetrieveInput{Query: "q", TopK: 3})

	// Then: the message survives as an invalid params error
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
	assert.Contains(t, mcpErr.Message, "dedup_threshold")
}

func TestCallTool_UnknownTool(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())

	_, err := srv.CallTool(context.Background(), "search_code", nil)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

func TestStatusTool(t *testing.T) {
	// Given: a server with counts, embedder info and one recorded problem
	metrics := telemetry.NewMetrics()
	metrics.RecordProblem(telemetry.RecentQuery{RequestID: "r1", Query: "q", Status: telemetry.StatusDegraded})
	srv := newTestServer(t, newFakeEngine(),
		WithChunkCounter(fakeCounter{parents: 3, children: 7}),
		WithEmbedderInfo("static", 64),
		WithMetrics(metrics))

	// When: calling retrieval_status
	result, err := srv.CallTool(context.Background(), ToolRetrievalStatus, StatusInput{})

	// Then: every section is populated
	require.NoError(t, err)
	out := result.(StatusOutput)
	assert.Equal(t, IndexStats{Parents: 3, Children: 7}, out.Index)
	assert.Equal(t, EmbedderInfo{Model: "static", Dimensions: 64}, out.Embedder)
	assert.Equal(t, []string{"vector", "content", "summary", "keywords"}, out.Defaults.Paths)
	assert.Equal(t, search.DefaultTopK, out.Defaults.TopK)
	assert.Equal(t, 1, out.Problems)
}

func TestStatusTool_CounterError(t *testing.T) {
	srv := newTestServer(t, newFakeEngine(),
		WithChunkCounter(fakeCounter{err: amerrors.StorageError("database is locked", nil)}))

	_, err := srv.CallTool(context.Background(), ToolRetrievalStatus, StatusInput{})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeIndexUnavailable, mcpErr.Code)
}

// connect wires a client session to srv over in-memory transports.
func connect(t *testing.T, srv *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	ss, err := srv.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func TestMCPSession_RetrieveRoundTrip(t *testing.T) {
	// Given: a connected client
	cs := connect(t, newTestServer(t, newFakeEngine()))
	ctx := context.Background()

	// When: listing tools and calling retrieve
	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      ToolRetrieve,
		Arguments: map[string]any{"query": "refund window", "top_k": 2},
	})

	// Then: both tools are advertised and the result has markdown plus structured output
	require.NoError(t, err)
	names := []string{}
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{ToolRetrieve, ToolRetrievalStatus}, names)

	require.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "got %T", res.Content[0])
	assert.Contains(t, text.Text, "## Passages for \"refund window\"")
	assert.Contains(t, text.Text, "p-refund")

	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var out RetrieveOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.Results, 2)
	assert.Equal(t, "p-shipping", out.Results[1].ParentChunkID)
}

func TestMCPSession_RetrieveErrorIsToolError(t *testing.T) {
	cs := connect(t, newTestServer(t, newFakeEngine()))

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolRetrieve,
		Arguments: map[string]any{"query": ""},
	})

	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestMCPSession_RecentProblemsResource(t *testing.T) {
	// Given: metrics with one recorded problem
	metrics := telemetry.NewMetrics()
	metrics.RecordProblem(telemetry.RecentQuery{RequestID: "r1", Query: "warranty", Status: telemetry.StatusEmpty})
	cs := connect(t, newTestServer(t, newFakeEngine(), WithMetrics(metrics)))

	// When: reading the resource
	res, err := cs.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: RecentProblemsURI})

	// Then: the problem is listed as JSON
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "application/json", res.Contents[0].MIMEType)
	var problems []telemetry.RecentQuery
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &problems))
	require.Len(t, problems, 1)
	assert.Equal(t, "warranty", problems[0].Query)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", amerrors.New(amerrors.ErrCodeQueryEmpty, "query is empty", nil), ErrCodeInvalidParams},
		{"storage", amerrors.New(amerrors.ErrCodeChunkStore, "locked", nil), ErrCodeIndexUnavailable},
		{"remote timeout", amerrors.New(amerrors.ErrCodeNetworkTimeout, "slow", nil), ErrCodeTimeout},
		{"remote", amerrors.New(amerrors.ErrCodeScoringUnavailable, "down", nil), ErrCodeBackendUnavailable},
		{"config", amerrors.ConfigError("bad", nil), ErrCodeInternalError},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", context.Canceled, ErrCodeTimeout},
		{"tool not found", ErrToolNotFound, ErrCodeMethodNotFound},
		{"other", errors.New("boom"), ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapError(tt.err).Code)
		})
	}
	assert.Nil(t, MapError(nil))
}

func TestMapError_IncludesSuggestion(t *testing.T) {
	err := amerrors.New(amerrors.ErrCodeChunkStore, "chunk store unavailable", nil).
		WithSuggestion("run 'amanrag index' first")

	got := MapError(err)

	assert.Equal(t, "chunk store unavailable run 'amanrag index' first", got.Message)
}
