package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amanrag/internal/chunk"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// Tool and resource names.
const (
	ToolRetrieve           = "retrieve"
	ToolRetrievalStatus    = "retrieval_status"
	RecentProblemsURI      = "amanrag://recent_problems"
	recentProblemsMIMEType = "application/json"
)

// Retriever is the part of search.Engine the server uses.
type Retriever interface {
	Retrieve(ctx context.Context, query string, history []chunk.Turn, topK int, opts search.RetrieveOptions) (*search.Response, error)
	Defaults() search.RetrieveOptions
}

// ChunkCounter reports how many chunks are indexed.
type ChunkCounter interface {
	Counts(ctx context.Context) (parents, children int, err error)
}

// Server is the MCP server for AmanRAG.
// It exposes the retrieval engine to AI clients over stdio.
type Server struct {
	mcp    *mcp.Server
	engine Retriever
	logger *slog.Logger

	counter  ChunkCounter
	embedder EmbedderInfo
	metrics  *telemetry.Metrics
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithChunkCounter reports index sizes in retrieval_status.
func WithChunkCounter(c ChunkCounter) Option { return func(s *Server) { s.counter = c } }

// WithEmbedderInfo reports the active embedder in retrieval_status.
func WithEmbedderInfo(model string, dims int) Option {
	return func(s *Server) { s.embedder = EmbedderInfo{Model: model, Dimensions: dims} }
}

// WithMetrics registers the recent_problems resource.
func WithMetrics(m *telemetry.Metrics) Option { return func(s *Server) { s.metrics = m } }

var tools = []ToolInfo{
	{
		Name: ToolRetrieve,
		Description: "Retrieve the passages that best answer a question. Runs vector and keyword recall in parallel, " +
			"fuses them, expands matches to their parent passage and reranks. Pass prior turns as history " +
			"so follow-up questions are rewritten into standalone queries.",
	},
	{
		Name:        ToolRetrievalStatus,
		Description: "Report index size, the active embedder and the default retrieval options.",
	},
}

// NewServer creates a new MCP server over engine.
func NewServer(engine Retriever, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, errors.New("retrieval engine is required")
	}

	s := &Server{
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    version.Name,
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools/resources
	)

	s.registerTools()
	if s.metrics != nil {
		s.registerRecentProblemsResource()
	}
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

// CallTool invokes a tool by name with already-decoded input.
func (s *Server) CallTool(ctx context.Context, name string, input any) (any, error) {
	switch name {
	case ToolRetrieve:
		in, ok := input.(RetrieveInput)
		if !ok {
			return nil, NewInvalidParamsError("retrieve expects RetrieveInput")
		}
		return s.retrieve(ctx, in)
	case ToolRetrievalStatus:
		return s.status(ctx)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        tools[0].Name,
		Description: tools[0].Description,
	}, s.mcpRetrieveHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        tools[1].Name,
		Description: tools[1].Description,
	}, s.mcpStatusHandler)

	s.logger.Debug("MCP tools registered", slog.Int("count", len(tools)))
}

func (s *Server) mcpRetrieveHandler(ctx context.Context, _ *mcp.CallToolRequest, input RetrieveInput) (
	*mcp.CallToolResult,
	RetrieveOutput,
	error,
) {
	out, err := s.retrieve(ctx, input)
	if err != nil {
		return nil, RetrieveOutput{}, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatRetrieveOutput(out)}},
	}, out, nil
}

func (s *Server) mcpStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (
	*mcp.CallToolResult,
	StatusOutput,
	error,
) {
	out, err := s.status(ctx)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	return nil, out, nil
}

// retrieve applies the per-call overrides on top of the engine defaults.
func (s *Server) retrieve(ctx context.Context, in RetrieveInput) (RetrieveOutput, error) {
	if in.Query == "" {
		return RetrieveOutput{}, NewInvalidParamsError("query parameter is required")
	}

	opts, err := s.options(in)
	if err != nil {
		return RetrieveOutput{}, MapError(err)
	}

	resp, err := s.engine.Retrieve(ctx, in.Query, toHistory(in.History), in.TopK, opts)
	if err != nil {
		s.logger.Warn("retrieve rejected",
			slog.String("query", in.Query),
			slog.String("error", err.Error()))
		return RetrieveOutput{}, MapError(err)
	}

	s.logger.Info("retrieve completed",
		slog.String("request_id", resp.RequestID),
		slog.Int("result_count", len(resp.Results)),
		slog.Bool("degraded", resp.Degraded))
	return ToRetrieveOutput(resp), nil
}

func (s *Server) options(in RetrieveInput) (search.RetrieveOptions, error) {
	opts := s.engine.Defaults()
	var err error
	switch {
	case len(in.Paths) > 0:
		opts.Paths = make([]search.Path, 0, len(in.Paths))
		for _, raw := range in.Paths {
			p, perr := search.ParsePath(raw)
			if perr != nil {
				return opts, perr
			}
			opts.Paths = append(opts.Paths, p)
		}
	case in.Profile != "":
		if opts, err = opts.WithProfile(search.Profile(in.Profile)); err != nil {
			return opts, err
		}
	}
	if in.Expand != nil {
		opts.Expand = *in.Expand
	}
	if in.Rerank != nil {
		opts.Rerank = *in.Rerank
	}
	return opts, nil
}

func (s *Server) status(ctx context.Context) (StatusOutput, error) {
	out := StatusOutput{
		Embedder: s.embedder,
		Defaults: toDefaultsInfo(s.engine.Defaults()),
	}
	if s.counter != nil {
		parents, children, err := s.counter.Counts(ctx)
		if err != nil {
			return StatusOutput{}, MapError(err)
		}
		out.Index = IndexStats{Parents: parents, Children: children}
	}
	if s.metrics != nil {
		out.Problems = len(s.metrics.RecentProblems())
	}
	return out, nil
}

func (s *Server) registerRecentProblemsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "recent_problems",
			URI:         RecentProblemsURI,
			Description: "Recent degraded or empty retrieve requests with their warnings",
			MIMEType:    recentProblemsMIMEType,
		},
		s.readRecentProblems,
	)
}

func (s *Server) readRecentProblems(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	problems := s.metrics.RecentProblems()
	if problems == nil {
		problems = []telemetry.RecentQuery{}
	}
	content, err := json.MarshalIndent(problems, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal recent problems: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      RecentProblemsURI,
				MIMEType: recentProblemsMIMEType,
				Text:     string(content),
			},
		},
	}, nil
}

// Serve runs the server over stdio until ctx is done or the client disconnects.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio", "":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped gracefully")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}
