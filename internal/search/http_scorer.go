package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/resilience"
)

// HTTP scorer defaults.
const (
	DefaultScorerEndpoint = "http://localhost:8787"
	DefaultScorerTimeout  = 3 * time.Second
)

// HTTPScorerConfig configures HTTPScorer.
type HTTPScorerConfig struct {
	// Endpoint is the service base URL; requests go to {Endpoint}/rerank.
	Endpoint string
	Model    string

	// APIKey is sent as a bearer token when set.
	APIKey string

	Timeout time.Duration

	// RateLimit caps requests per second. 0 disables limiting.
	RateLimit float64
	Burst     int
}

type scoreRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

type scoreResponse struct {
	Results []struct {
		Index          int      `json:"index"`
		Score          *float64 `json:"score"`
		RelevanceScore *float64 `json:"relevance_score"`
	} `json:"results"`
}

// HTTPScorer calls a cross-encoder rerank service, one document per request
// so each score can be cached independently.
type HTTPScorer struct {
	client  *http.Client
	cfg     HTTPScorerConfig
	limiter *rate.Limiter
	exec    *resilience.Executor
}

var _ Scorer = (*HTTPScorer)(nil)

// NewHTTPScorer creates a scorer. exec may be nil.
func NewHTTPScorer(cfg HTTPScorerConfig, exec *resilience.Executor) *HTTPScorer {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultScorerEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultScorerTimeout
	}

	s := &HTTPScorer{
		client: &http.Client{Transport: &http.Transport{
			MaxIdleConns:        16,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     30 * time.Second,
		}},
		cfg:  cfg,
		exec: exec,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, int(cfg.RateLimit))
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s
}

// Score implements Scorer.
func (s *HTTPScorer) Score(ctx context.Context, query, document string) (float64, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return resilience.Do(ctx, s.exec, "rerank_score", func(ctx context.Context) (float64, error) {
		return s.score(ctx, query, document)
	})
}

func (s *HTTPScorer) score(ctx context.Context, query, document string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(scoreRequest{Query: query, Documents: []string{document}, Model: s.cfg.Model})
	if err != nil {
		return 0, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, amanerrors.New(amanerrors.ErrCodeScoringUnavailable, "rerank request failed", err).
			WithDetail("endpoint", s.cfg.Endpoint)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		code := amanerrors.ErrCodeRemoteRejected
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			code = amanerrors.ErrCodeScoringUnavailable
		}
		return 0, amanerrors.New(code,
			fmt.Sprintf("rerank service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	if len(out.Results) == 0 {
		return 0, fmt.Errorf("rerank response has no results")
	}
	r := out.Results[0]
	switch {
	case r.Score != nil:
		return *r.Score, nil
	case r.RelevanceScore != nil:
		return *r.RelevanceScore, nil
	default:
		return 0, fmt.Errorf("rerank result has no score")
	}
}
