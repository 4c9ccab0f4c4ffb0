package embed

import "time"

const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is a small general-purpose text embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	// OllamaConnectTimeout bounds the startup model check.
	OllamaConnectTimeout = 10 * time.Second

	// OllamaPoolSize is the idle connection pool size.
	OllamaPoolSize = 4
)

// OllamaConfig configures OllamaEmbedder.
type OllamaConfig struct {
	Host  string
	Model string

	// Dimensions skips detection when set. 0 means detect from a test embedding.
	Dimensions int

	BatchSize int
	Timeout   time.Duration
	PoolSize  int

	// SkipHealthCheck skips the /api/tags model check at construction.
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns defaults for a local Ollama.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:      DefaultOllamaHost,
		Model:     DefaultOllamaModel,
		BatchSize: DefaultBatchSize,
		Timeout:   DefaultTimeout,
		PoolSize:  OllamaPoolSize,
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}
