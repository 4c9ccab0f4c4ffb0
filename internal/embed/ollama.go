package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/resilience"
)

// OllamaEmbedder calls Ollama's /api/embed endpoint.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	exec      *resilience.Executor

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates the embedder. Unless SkipHealthCheck is set it
// verifies the model is installed, and it detects the dimensions when they
// are not configured. exec may be nil.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig, exec *resilience.Executor) (*OllamaEmbedder, error) {
	d := DefaultOllamaConfig()
	if cfg.Host == "" {
		cfg.Host = d.Host
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = d.Model
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = d.PoolSize
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		IdleConnTimeout:     30 * time.Second,
	}
	// No client-level timeout: each request carries its own context deadline.
	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		exec:      exec,
		dims:      cfg.Dimensions,
	}

	checkCtx, cancel := context.WithTimeout(ctx, OllamaConnectTimeout+cfg.Timeout)
	defer cancel()

	if !cfg.SkipHealthCheck {
		if err := e.checkModel(checkCtx); err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
	}
	if e.dims == 0 {
		vecs, err := e.embed(checkCtx, []string{"dimension check"})
		if err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("failed to detect embedding dimensions: %w", err)
		}
		e.dims = len(vecs[0])
	}
	return e, nil
}

// checkModel confirms the configured model (with or without tag) is installed.
func (e *OllamaEmbedder) checkModel(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return amanerrors.New(amanerrors.ErrCodeEmbeddingUnavailable, "cannot reach Ollama", err).
			WithDetail("host", e.config.Host).
			WithSuggestion("start Ollama with 'ollama serve' or set embeddings.provider: static")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return amanerrors.New(amanerrors.ErrCodeEmbeddingUnavailable,
			fmt.Sprintf("ollama /api/tags returned %d", resp.StatusCode), nil)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("failed to decode model list: %w", err)
	}
	want := strings.ToLower(e.config.Model)
	wantBase, _, _ := strings.Cut(want, ":")
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		base, _, _ := strings.Cut(name, ":")
		if name == want || base == want || (!strings.Contains(want, ":") && base == wantBase) {
			return nil
		}
	}
	return amanerrors.New(amanerrors.ErrCodeEmbeddingUnavailable, "embedding model not installed: "+e.config.Model, nil).
		WithSuggestion("run 'ollama pull " + e.config.Model + "'")
}

// Embed implements Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Embedder, splitting texts into BatchSize requests.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(texts))
		batch := texts[start:end]
		vecs, err := resilience.Do(ctx, e.exec, "embed", func(ctx context.Context) ([][]float32, error) {
			return e.embed(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// embed performs one /api/embed request under the configured timeout.
func (e *OllamaEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeEmbeddingUnavailable, "embedding request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		code := amanerrors.ErrCodeRemoteRejected
		if resp.StatusCode >= 500 {
			code = amanerrors.ErrCodeEmbeddingUnavailable
		}
		return nil, amanerrors.New(code, fmt.Sprintf("ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embeddings: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(parsed.Embeddings), len(texts))
	}

	out := make([][]float32, len(parsed.Embeddings))
	for i, emb := range parsed.Embeddings {
		v := make([]float32, len(emb))
		for j, x := range emb {
			v[j] = float32(x)
		}
		out[i] = normalizeVector(v)
	}
	return out, nil
}

// Dimensions implements Embedder.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName implements Embedder.
func (e *OllamaEmbedder) ModelName() string { return e.config.Model }

// Close releases pooled connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.transport.CloseIdleConnections()
	}
	return nil
}
