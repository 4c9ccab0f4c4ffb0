// Package bootstrap builds the retrieval engine and indexer from configuration.
package bootstrap

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/cache"
	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/embed"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/llm"
	"github.com/Aman-CERP/amanrag/internal/resilience"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// On-disk layout under index.data_dir.
const (
	VectorFileName = "vectors.hnsw"
	ChromemDirName = "vectors.chromem"
	ChunksFileName = "chunks.db"
	CacheFileName  = "rerank_cache.db"
)

// App is a wired engine and indexer over one data dir.
type App struct {
	Config   *config.Config
	Engine   *search.Engine
	Indexer  *Indexer
	Metrics  *telemetry.Metrics
	Executor *resilience.Executor

	Embedder embed.Embedder
	Vectors  store.VectorStore
	Fields   store.FieldIndex
	Chunks   *store.SQLChunkStore

	closers []io.Closer
}

// Option overrides a component New would otherwise build from config.
type Option func(*overrides)

type overrides struct {
	embedder  embed.Embedder
	scorer    search.Scorer
	generator llm.Generator
	metrics   *telemetry.Metrics
}

// WithEmbedder uses e instead of the configured provider.
func WithEmbedder(e embed.Embedder) Option { return func(o *overrides) { o.embedder = e } }

// WithScorer uses s instead of the configured rerank scorer.
func WithScorer(s search.Scorer) Option { return func(o *overrides) { o.scorer = s } }

// WithGenerator uses g for query transformation even if generation is disabled.
func WithGenerator(g llm.Generator) Option { return func(o *overrides) { o.generator = g } }

// WithMetrics shares m instead of creating a new registry.
func WithMetrics(m *telemetry.Metrics) Option { return func(o *overrides) { o.metrics = m } }

// New opens every store under cfg.Index.DataDir and wires the engine.
// On error, everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	var ov overrides
	for _, opt := range opts {
		opt(&ov)
	}

	app := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	app.Executor = resilience.NewExecutor(cfg.Resilience)
	app.Metrics = ov.metrics
	if app.Metrics == nil {
		app.Metrics = telemetry.NewMetrics()
	}

	if app.Embedder = ov.embedder; app.Embedder == nil {
		if app.Embedder, err = newEmbedder(ctx, cfg, app.Executor); err != nil {
			return nil, err
		}
		app.closers = append(app.closers, app.Embedder)
	}

	dataDir := cfg.Index.DataDir
	vectorPath := ""
	if app.Vectors, vectorPath, err = openVectors(cfg, app.Embedder.Dimensions()); err != nil {
		return nil, err
	}
	app.closers = append(app.closers, app.Vectors)

	textCfg := textConfig(cfg.Index)
	if app.Fields, err = store.NewFieldIndex(dataDir, store.FieldBackend(strings.ToLower(cfg.Index.FieldBackend)), textCfg); err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeIndexUnavailable, "failed to open lexical index", err)
	}
	app.closers = append(app.closers, app.Fields)

	if app.Chunks, err = store.OpenChunkStore(ctx, strings.ToLower(cfg.Chunks.Driver), chunkDSN(cfg)); err != nil {
		return nil, amanerrors.StorageError("failed to open chunk store", err)
	}
	app.closers = append(app.closers, app.Chunks)

	scoreCache, err := openCache(cfg)
	if err != nil {
		return nil, err
	}
	if scoreCache != nil {
		app.closers = append(app.closers, scoreCache)
	}

	scorer := ov.scorer
	if scorer == nil {
		scorer = newScorer(cfg, textCfg, app.Executor)
	}

	gen := ov.generator
	if gen == nil && cfg.Generation.Enabled {
		gen = llm.NewOllamaGenerator(llm.OllamaConfig{
			Host:        cfg.Generation.OllamaHost,
			Model:       cfg.Generation.Model,
			Timeout:     cfg.Generation.Timeout,
			Temperature: cfg.Generation.Temperature,
			MaxTokens:   cfg.Generation.MaxTokens,
		}, app.Executor)
	}

	defaults, err := RetrieveOptions(cfg.Retrieval)
	if err != nil {
		return nil, err
	}

	engineOpts := []search.EngineOption{
		search.WithReranker(search.NewReranker(scorer, scoreCache, search.RerankerConfig{
			Concurrency: cfg.Rerank.Concurrency,
			Timeout:     cfg.Retrieval.RerankTimeout,
		})),
		search.WithMetrics(app.Metrics),
		search.WithDefaults(defaults),
	}
	if gen != nil {
		engineOpts = append(engineOpts, search.WithTransformer(search.NewTransformer(gen, search.TransformerConfig{
			Timeout:         cfg.Generation.Timeout,
			MaxHistoryTurns: cfg.Generation.MaxHistoryTurns,
		})))
	}

	retrievers := search.NewRetrievers(app.Embedder, app.Vectors, app.Fields)
	if app.Engine, err = search.NewEngine(retrievers, app.Chunks, engineOpts...); err != nil {
		return nil, err
	}
	app.Indexer = NewIndexer(app.Embedder, app.Vectors, app.Fields, app.Chunks, vectorPath)

	slog.Info("app_ready",
		slog.String("data_dir", dataDir),
		slog.String("embedder", app.Embedder.ModelName()),
		slog.Int("dimensions", app.Embedder.Dimensions()),
		slog.String("field_backend", cfg.Index.FieldBackend),
		slog.String("vector_backend", cfg.Index.VectorBackend),
		slog.String("scorer", cfg.Rerank.Scorer),
		slog.Bool("generation", gen != nil))
	return app, nil
}

// Reload applies a new retrieval section to the running engine. Other
// sections need a restart.
func (a *App) Reload(cfg *config.Config) error {
	opts, err := RetrieveOptions(cfg.Retrieval)
	if err != nil {
		return err
	}
	return a.Engine.SetDefaults(opts)
}

// Close closes every store in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return stderrors.Join(errs...)
}

func newEmbedder(ctx context.Context, cfg *config.Config, exec *resilience.Executor) (embed.Embedder, error) {
	ec := cfg.Embeddings
	e, err := embed.New(ctx, embed.Options{
		Provider: embed.Provider(ec.Provider),
		Ollama: embed.OllamaConfig{
			Host:       ec.OllamaHost,
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
			BatchSize:  ec.BatchSize,
			Timeout:    ec.Timeout,
		},
		StaticDim: ec.Dimensions,
		CacheSize: cfg.Cache.EmbeddingCacheSize,
	}, exec)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeEmbeddingUnavailable, "failed to create embedder", err).
			WithSuggestion("start Ollama or set embeddings.provider: static")
	}
	return e, nil
}

// openVectors opens the configured vector backend and loads a saved HNSW
// graph. It returns the path Save should write to, "" for none.
func openVectors(cfg *config.Config, dims int) (store.VectorStore, string, error) {
	dataDir := cfg.Index.DataDir

	if strings.EqualFold(cfg.Index.VectorBackend, "chromem") {
		path := ""
		if dataDir != "" {
			path = filepath.Join(dataDir, ChromemDirName)
		}
		s, err := store.NewChromemStore(path, dims)
		if err != nil {
			return nil, "", amanerrors.New(amanerrors.ErrCodeIndexUnavailable, "failed to open vector store", err)
		}
		return s, "", nil
	}

	vcfg := store.DefaultVectorStoreConfig(dims)
	if cfg.Index.HNSWM > 0 {
		vcfg.M = cfg.Index.HNSWM
	}
	if cfg.Index.HNSWEfSearch > 0 {
		vcfg.EfSearch = cfg.Index.HNSWEfSearch
	}
	s, err := store.NewHNSWStore(vcfg)
	if err != nil {
		return nil, "", amanerrors.New(amanerrors.ErrCodeIndexUnavailable, "failed to open vector store", err)
	}
	if dataDir == "" {
		return s, "", nil
	}

	path := filepath.Join(dataDir, VectorFileName)
	saved, err := store.ReadHNSWDimensions(path)
	if err != nil {
		_ = s.Close()
		return nil, "", amanerrors.New(amanerrors.ErrCodeCorruptIndex, "failed to read vector store metadata", err)
	}
	if saved == 0 {
		return s, path, nil
	}
	if saved != dims {
		_ = s.Close()
		return nil, "", amanerrors.New(amanerrors.ErrCodeDimensionMismatch,
			store.ErrDimensionMismatch{Expected: saved, Got: dims}.Error(), nil)
	}
	if err := s.Load(path); err != nil {
		_ = s.Close()
		return nil, "", amanerrors.New(amanerrors.ErrCodeCorruptIndex, "failed to load vector store", err)
	}
	return s, path, nil
}

func textConfig(ic config.IndexConfig) store.TextConfig {
	tc := store.DefaultTextConfig()
	if len(ic.StopWords) > 0 {
		tc.StopWords = ic.StopWords
	}
	if ic.MinTokenLength > 0 {
		tc.MinTokenLength = ic.MinTokenLength
	}
	return tc
}

func chunkDSN(cfg *config.Config) string {
	if cfg.Chunks.DSN != "" || cfg.Index.DataDir == "" {
		return cfg.Chunks.DSN
	}
	if strings.EqualFold(cfg.Chunks.Driver, store.DriverPostgres) {
		return ""
	}
	return filepath.Join(cfg.Index.DataDir, ChunksFileName)
}

func openCache(cfg *config.Config) (cache.ScoreCache, error) {
	switch strings.ToLower(cfg.Cache.Backend) {
	case "none":
		return nil, nil
	case "sqlite":
		path := cfg.Cache.Path
		if path == "" && cfg.Index.DataDir != "" {
			path = filepath.Join(cfg.Index.DataDir, CacheFileName)
		}
		c, err := cache.NewSQLiteCache(path)
		if err != nil {
			return nil, amanerrors.New(amanerrors.ErrCodeCacheStore, "failed to open rerank cache", err)
		}
		return c, nil
	case "lru", "":
		return cache.NewLRUCache(cfg.Cache.Size), nil
	default:
		return nil, amanerrors.ConfigError(fmt.Sprintf("unknown cache backend %q", cfg.Cache.Backend), nil)
	}
}

func newScorer(cfg *config.Config, textCfg store.TextConfig, exec *resilience.Executor) search.Scorer {
	if strings.EqualFold(cfg.Rerank.Scorer, "lexical") {
		return search.NewLexicalScorer(textCfg)
	}
	return search.NewHTTPScorer(search.HTTPScorerConfig{
		Endpoint:  cfg.Rerank.Endpoint,
		Model:     cfg.Rerank.Model,
		APIKey:    cfg.Rerank.APIKey,
		Timeout:   cfg.Rerank.Timeout,
		RateLimit: cfg.Rerank.RateLimit,
		Burst:     cfg.Rerank.Burst,
	}, exec)
}
