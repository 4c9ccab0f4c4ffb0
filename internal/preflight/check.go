package preflight

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/llm"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status by name in JSON output.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// defaultPingTimeout bounds each endpoint check.
const defaultPingTimeout = 2 * time.Second

// Checker runs preflight checks for one configuration.
type Checker struct {
	cfg          *config.Config
	client       *http.Client
	pingTimeout time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithHTTPClient sets the client used for endpoint checks.
func WithHTTPClient(c *http.Client) Option {
	return func(ch *Checker) { ch.client = c }
}

// WithPingTimeout bounds each endpoint check.
func WithPingTimeout(d time.Duration) Option {
	return func(ch *Checker) { ch.pingTimeout = d }
}

// New creates a Checker for cfg.
func New(cfg *config.Config, opts ...Option) *Checker {
	c := &Checker{
		cfg:          cfg,
		client:       http.DefaultClient,
		pingTimeout: defaultPingTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunLocal runs the checks that must pass before writing an index.
func (c *Checker) RunLocal() []CheckResult {
	dir := c.cfg.Index.DataDir
	if dir == "" {
		return []CheckResult{{
			Name:    "data_dir",
			Status:  StatusWarn,
			Message: "empty: indexes are kept in memory only",
		}}
	}
	results := []CheckResult{c.CheckDataDir(dir)}
	if results[0].Status == StatusPass {
		results = append(results, c.CheckDiskSpace(dir))
	}
	return append(results, c.CheckFileDescriptors())
}

// RunAll runs the local checks and pings every configured remote.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	results := c.RunLocal()
	results = append(results, c.CheckEmbedder(ctx))
	results = append(results, c.CheckGeneration(ctx))
	results = append(results, c.CheckReranker(ctx))
	return results
}

// HasCriticalFailures returns true if any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus is "failed", "ready_with_warnings" or "ready".
func SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// FirstCritical returns the first required failure, if any.
func FirstCritical(results []CheckResult) (CheckResult, bool) {
	for _, r := range results {
		if r.IsCritical() {
			return r, true
		}
	}
	return CheckResult{}, false
}

// CheckDataDir creates the data directory if needed and checks it is writable.
func (c *Checker) CheckDataDir(dir string) CheckResult {
	result := CheckResult{
		Name:     "data_dir",
		Required: true,
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", dir, err)
		return result
	}

	tmp, err := os.CreateTemp(dir, ".amanrag-preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	name := tmp.Name()
	_ = tmp.Close()
	_ = os.Remove(name)

	result.Status = StatusPass
	result.Message = "writable"
	result.Details = dir
	return result
}

// CheckEmbedder pings the embedding provider.
func (c *Checker) CheckEmbedder(ctx context.Context) CheckResult {
	ec := c.cfg.Embeddings
	if strings.EqualFold(ec.Provider, "static") {
		return CheckResult{Name: "embedder", Status: StatusPass, Message: "static (offline)"}
	}
	host := ec.OllamaHost
	if host == "" {
		host = embed.DefaultOllamaHost
	}
	r := c.ping(ctx, "embedder", strings.TrimRight(host, "/")+"/api/tags")
	r.Details = fmt.Sprintf("ollama model %s at %s", ec.Model, host)
	return r
}

// CheckGeneration pings the model used for query rewrite and expansion.
func (c *Checker) CheckGeneration(ctx context.Context) CheckResult {
	gc := c.cfg.Generation
	if !gc.Enabled {
		return CheckResult{Name: "generation", Status: StatusPass, Message: "disabled (queries used as typed)"}
	}
	host := gc.OllamaHost
	if host == "" {
		host = llm.DefaultHost
	}
	r := c.ping(ctx, "generation", strings.TrimRight(host, "/")+"/api/tags")
	r.Details = fmt.Sprintf("ollama model %s at %s", gc.Model, host)
	return r
}

// CheckReranker pings the cross-encoder service.
func (c *Checker) CheckReranker(ctx context.Context) CheckResult {
	rc := c.cfg.Rerank
	if strings.EqualFold(rc.Scorer, "lexical") {
		return CheckResult{Name: "reranker", Status: StatusPass, Message: "lexical (offline)"}
	}
	r := c.ping(ctx, "reranker", rc.Endpoint)
	r.Details = rc.Endpoint
	return r
}

// ping treats any HTTP response as reachable; only transport errors warn.
func (c *Checker) ping(ctx context.Context, name, url string) CheckResult {
	result := CheckResult{Name: name}

	ctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("invalid endpoint: %v", err)
		return result
	}
	resp, err := c.client.Do(req)
	if err != nil {
		result.Status = StatusWarn
		result.Message = "unreachable (retrieval will run degraded)"
		return result
	}
	_ = resp.Body.Close()

	result.Status = StatusPass
	result.Message = fmt.Sprintf("reachable (HTTP %d)", resp.StatusCode)
	return result
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

// dataDirOf is the directory disk checks stat: the nearest existing ancestor.
func dataDirOf(path string) string {
	for p := path; ; p = filepath.Dir(p) {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		if parent := filepath.Dir(p); parent == p {
			return p
		}
	}
}
