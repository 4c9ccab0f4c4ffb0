package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanrag/internal/chunk"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Engine runs the retrieval pipeline. It is safe for concurrent use.
type Engine struct {
	retrievers  map[Path]Retriever
	resolver    *Resolver
	transformer *Transformer
	reranker    *Reranker
	metrics     *telemetry.Metrics

	mu       sync.RWMutex
	defaults RetrieveOptions
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithTransformer enables query rewrite and expansion.
func WithTransformer(t *Transformer) EngineOption {
	return func(e *Engine) { e.transformer = t }
}

// WithReranker enables the rerank stage. Without it results keep fused order.
func WithReranker(r *Reranker) EngineOption {
	return func(e *Engine) { e.reranker = r }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *telemetry.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithDefaults sets the options returned by Defaults.
func WithDefaults(opts RetrieveOptions) EngineOption {
	return func(e *Engine) { e.defaults = opts.normalize() }
}

// NewEngine creates an engine over the given recall paths and chunk store.
func NewEngine(retrievers map[Path]Retriever, chunks store.ChunkStore, opts ...EngineOption) (*Engine, error) {
	if len(retrievers) == 0 {
		return nil, fmt.Errorf("%w: at least one retriever is required", ErrNilDependency)
	}
	if chunks == nil {
		return nil, fmt.Errorf("%w: chunk store is required", ErrNilDependency)
	}
	for p, r := range retrievers {
		if !p.Valid() {
			return nil, fmt.Errorf("unknown recall path %q", p)
		}
		if r == nil {
			return nil, fmt.Errorf("%w: retriever for %s", ErrNilDependency, p)
		}
	}

	e := &Engine{
		retrievers: retrievers,
		resolver:   NewResolver(chunks),
		defaults:   DefaultRetrieveOptions(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Defaults returns the engine's current default options.
func (e *Engine) Defaults() RetrieveOptions {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d := e.defaults
	d.Paths = append([]Path(nil), d.Paths...)
	return d
}

// SetDefaults replaces the default options, e.g. after a config reload.
func (e *Engine) SetDefaults(opts RetrieveOptions) error {
	opts = opts.normalize()
	if err := opts.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.defaults = opts
	e.mu.Unlock()
	return nil
}

// Retrieve returns up to topK parent passages for query. topK <= 0 uses
// opts.TopK.
//
// The only errors are validation errors (empty query, unknown path, bad
// limits). Backend failures are recovered and reported through
// Response.Degraded, Response.NoCandidates and Response.Warnings.
func (e *Engine) Retrieve(ctx context.Context, query string, history []chunk.Turn, topK int, opts RetrieveOptions) (*Response, error) {
	start := time.Now()
	resp := &Response{RequestID: uuid.NewString(), Results: []RerankedResult{}}
	log := slog.With(slog.String("request_id", resp.RequestID))

	query = strings.TrimSpace(query)
	if query == "" {
		e.metrics.ObserveRetrieve(telemetry.StatusInvalid, time.Since(start))
		return nil, amanerrors.New(amanerrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if topK > 0 {
		opts.TopK = topK
	}
	opts = opts.normalize()
	if err := opts.Validate(); err != nil {
		e.metrics.ObserveRetrieve(telemetry.StatusInvalid, time.Since(start))
		return nil, err
	}

	// 1. transform
	stepStart := time.Now()
	rq, warns := e.transformer.Transform(ctx, query, history, TransformOptions{Expand: opts.Expand, ExpandCount: opts.ExpandCount})
	for _, w := range warns {
		resp.warn(w)
		e.metrics.IncTransformFallback(w.Op)
		log.Warn("transform_fallback", slog.String("op", w.Op), slog.String("error", w.Message))
	}
	resp.Query = rq
	resp.Timings.Transform = time.Since(stepStart)

	// 2-3. recall every variant on every path, merge per path
	stepStart = time.Now()
	lists, ok := e.recall(ctx, log, rq.Variants, opts, resp)
	resp.Timings.Recall = time.Since(stepStart)
	if !ok {
		resp.warn(Warning{Kind: WarningTotalRecallFailure, Message: "every recall path failed"})
		return e.finish(log, resp, start), nil
	}

	// 4. fuse
	stepStart = time.Now()
	fused := NewRRFFusionWithK(opts.RRFConstant).Fuse(lists)
	resp.Timings.Fusion = time.Since(stepStart)
	if len(fused) == 0 {
		return e.finish(log, resp, start), nil
	}

	// 5. small to big
	stepStart = time.Now()
	resolved, dropped, err := e.resolver.Resolve(ctx, fused, ResolveOptions{
		MergeNearDuplicates: opts.MergeNearDuplicates,
		DedupThreshold:      opts.DedupThreshold,
	})
	resp.Timings.Resolve = time.Since(stepStart)
	if err != nil {
		resp.warn(Warning{Kind: WarningResolveFailure, Message: err.Error()})
		log.LogAttrs(ctx, slog.LevelWarn, "resolve_failed", amanerrors.LogAttrs(err)...)
		return e.finish(log, resp, start), nil
	}
	if dropped > 0 {
		resp.warn(Warning{
			Kind:    WarningResolveFailure,
			Message: fmt.Sprintf("%d of %d candidates unknown to the chunk store", dropped, len(fused)),
		})
		log.Warn("unresolved_candidates_dropped",
			slog.Int("count", dropped),
			slog.Int("fused", len(fused)))
	}

	// 6-7. rerank and cut
	stepStart = time.Now()
	resp.Results = e.rank(ctx, log, rq.Rewritten, resolved, opts, resp)
	resp.Timings.Rerank = time.Since(stepStart)

	return e.finish(log, resp, start), nil
}

// recall fans out (variant, path) tasks. Each task has its own deadline and
// never cancels its siblings. ok is false when no task succeeded.
func (e *Engine) recall(ctx context.Context, log *slog.Logger, variants []string, opts RetrieveOptions, resp *Response) (map[Path][]string, bool) {
	type slot struct {
		hits []Hit
		err  error
	}

	paths := make([]Path, 0, len(opts.Paths))
	for _, p := range opts.Paths {
		if _, ok := e.retrievers[p]; ok {
			paths = append(paths, p)
			continue
		}
		resp.warn(Warning{Kind: WarningPartialPathFailure, Path: p, Message: "path not configured"})
	}
	sortPaths(paths)

	slots := make([][]slot, len(paths))
	var g errgroup.Group
	for pi, p := range paths {
		slots[pi] = make([]slot, len(variants))
		r := e.retrievers[p]
		for vi, v := range variants {
			g.Go(func() error {
				taskStart := time.Now()
				hits, err := callWithTimeout(ctx, opts.PathTimeout, func(ctx context.Context) ([]Hit, error) {
					return r.Search(ctx, v, opts.PoolSize)
				})
				status := telemetry.PathOK
				if err != nil {
					status = telemetry.PathError
					if errors.Is(err, context.DeadlineExceeded) {
						status = telemetry.PathTimeout
					}
				}
				e.metrics.ObserveRecallPath(string(p), status, time.Since(taskStart))
				slots[pi][vi] = slot{hits: hits, err: err}
				return nil
			})
		}
	}
	_ = g.Wait()

	lists := make(map[Path][]string, len(paths))
	anyOK := false
	for pi, p := range paths {
		var ok [][]Hit
		for vi, s := range slots[pi] {
			if s.err != nil {
				msg := s.err.Error()
				if len(variants) > 1 {
					msg = fmt.Sprintf("variant %d: %s", vi, msg)
				}
				resp.warn(Warning{Kind: WarningPartialPathFailure, Path: p, Message: msg})
				log.Warn("recall_path_failed",
					slog.String("path", string(p)),
					slog.Int("variant", vi),
					slog.String("error", s.err.Error()))
				continue
			}
			ok = append(ok, s.hits)
		}
		if len(ok) == 0 {
			continue
		}
		anyOK = true
		lists[p] = mergeVariants(p, ok, opts.PoolSize).IDs
	}
	return lists, anyOK
}

// rank reranks resolved candidates or, when reranking is off, cuts them in
// fused order.
func (e *Engine) rank(ctx context.Context, log *slog.Logger, query string, resolved []ResolvedCandidate, opts RetrieveOptions, resp *Response) []RerankedResult {
	if !opts.Rerank || e.reranker == nil {
		return passthrough(resolved, opts.TopK)
	}

	out := e.reranker.rerank(ctx, query, resolved, opts.TopK, opts.RerankTimeout)
	e.metrics.ObserveRerankCache(out.CacheHits, out.CacheMisses)
	switch {
	case out.Degraded:
		e.metrics.IncRerankDegraded()
		resp.warn(Warning{Kind: WarningRerankTotalFailure,
			Message: fmt.Sprintf("all %d scoring calls failed, using fused order", out.Failures)})
		log.Warn("rerank_degraded", slog.Int("failures", out.Failures))
	case out.Failures > 0:
		resp.warn(Warning{Kind: WarningRerankFailure,
			Message: fmt.Sprintf("%d of %d scoring calls failed", out.Failures, len(resolved))})
	}
	return out.Results
}

func (e *Engine) finish(log *slog.Logger, resp *Response, start time.Time) *Response {
	resp.NoCandidates = len(resp.Results) == 0
	resp.Timings.Total = time.Since(start)

	status := telemetry.StatusOK
	switch {
	case resp.Degraded:
		status = telemetry.StatusDegraded
	case resp.NoCandidates:
		status = telemetry.StatusEmpty
	}
	e.metrics.ObserveRetrieve(status, resp.Timings.Total)
	if status != telemetry.StatusOK {
		warnings := make([]string, len(resp.Warnings))
		for i, w := range resp.Warnings {
			warnings[i] = w.String()
		}
		e.metrics.RecordProblem(telemetry.RecentQuery{
			RequestID: resp.RequestID,
			Query:     resp.Query.Original,
			Status:    status,
			Warnings:  warnings,
		})
	}

	log.Info("retrieve_complete",
		slog.Int("results", len(resp.Results)),
		slog.Int("variants", len(resp.Query.Variants)),
		slog.Bool("degraded", resp.Degraded),
		slog.Bool("no_candidates", resp.NoCandidates),
		slog.Int("warnings", len(resp.Warnings)),
		slog.Duration("duration", resp.Timings.Total))
	return resp
}
