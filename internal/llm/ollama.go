package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/resilience"
)

const (
	// DefaultHost is the default Ollama API endpoint.
	DefaultHost = "http://localhost:11434"

	// DefaultModel is a small instruction model fast enough for query rewriting.
	DefaultModel = "qwen2.5:1.5b"

	// DefaultTimeout bounds one generate call.
	DefaultTimeout = 3 * time.Second

	// DefaultMaxTokens caps the completion length.
	DefaultMaxTokens = 256
)

// OllamaConfig configures OllamaGenerator.
type OllamaConfig struct {
	Host        string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// OllamaGenerator calls Ollama's non-streaming /api/generate endpoint.
type OllamaGenerator struct {
	client *http.Client
	cfg    OllamaConfig
	exec   *resilience.Executor
}

var _ Generator = (*OllamaGenerator)(nil)

// NewOllamaGenerator creates a generator. exec may be nil.
func NewOllamaGenerator(cfg OllamaConfig, exec *resilience.Executor) *OllamaGenerator {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &OllamaGenerator{
		client: &http.Client{Transport: &http.Transport{
			MaxIdleConns:        4,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     30 * time.Second,
		}},
		cfg:  cfg,
		exec: exec,
	}
}

// Generate implements Generator.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return resilience.Do(ctx, g.exec, "generate", func(ctx context.Context) (string, error) {
		return g.generate(ctx, prompt)
	})
}

func (g *OllamaGenerator) generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Model:  g.cfg.Model,
		Prompt: prompt,
		Options: generateOptions{
			Temperature: g.cfg.Temperature,
			NumPredict:  g.cfg.MaxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", amanerrors.New(amanerrors.ErrCodeGenerationUnavailable, "generate request failed", err).
			WithDetail("host", g.cfg.Host)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		code := amanerrors.ErrCodeRemoteRejected
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			code = amanerrors.ErrCodeGenerationUnavailable
		}
		return "", amanerrors.New(code,
			fmt.Sprintf("ollama generate returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode generate response: %w", err)
	}
	return strings.TrimSpace(out.Response), nil
}

// Model returns the configured model name.
func (g *OllamaGenerator) Model() string { return g.cfg.Model }
