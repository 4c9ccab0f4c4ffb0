package embed

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/resilience"
)

// Provider names an embedding backend.
type Provider string

const (
	// ProviderOllama calls a local or remote Ollama server.
	ProviderOllama Provider = "ollama"

	// ProviderStatic uses hash embeddings and needs nothing running.
	ProviderStatic Provider = "static"
)

// Options selects and configures an embedder.
type Options struct {
	Provider  Provider
	Ollama    OllamaConfig
	StaticDim int

	// CacheSize bounds the query embedding LRU. Negative disables caching.
	CacheSize int
}

// New builds the embedder named by opts, wrapped in a CachedEmbedder unless
// caching is disabled.
func New(ctx context.Context, opts Options, exec *resilience.Executor) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch Provider(strings.ToLower(string(opts.Provider))) {
	case ProviderOllama, "":
		e, err = NewOllamaEmbedder(ctx, opts.Ollama, exec)
	case ProviderStatic:
		e = NewStaticEmbedder(opts.StaticDim)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (valid: ollama, static)", opts.Provider)
	}
	if err != nil {
		return nil, err
	}
	if opts.CacheSize < 0 {
		return e, nil
	}
	return NewCachedEmbedder(e, opts.CacheSize), nil
}
