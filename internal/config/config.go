package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/internal/resilience"
)

// Project config file names, in lookup order.
const (
	ProjectFileName    = ".amanrag.yaml"
	ProjectFileNameAlt = ".amanrag.yml"
)

// Config represents the complete AmanRAG configuration.
type Config struct {
	Version    int               `yaml:"version" json:"version"`
	Retrieval  RetrievalConfig   `yaml:"retrieval" json:"retrieval"`
	Index      IndexConfig       `yaml:"index" json:"index"`
	Chunks     ChunksConfig      `yaml:"chunks" json:"chunks"`
	Cache      CacheConfig       `yaml:"cache" json:"cache"`
	Embeddings EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Generation GenerationConfig  `yaml:"generation" json:"generation"`
	Rerank     RerankConfig      `yaml:"rerank" json:"rerank"`
	Resilience resilience.Config `yaml:"resilience" json:"resilience"`
	Server     ServerConfig      `yaml:"server" json:"server"`
	Logging    logging.Config    `yaml:"logging" json:"logging"`
}

// RetrievalConfig holds the per-request defaults. It is the only section a
// running server reloads.
type RetrievalConfig struct {
	// Profile is "full" or "fast". Paths, when set, wins over Profile.
	Profile string   `yaml:"profile" json:"profile"`
	Paths   []string `yaml:"paths" json:"paths"`

	PoolSize    int `yaml:"pool_size" json:"pool_size"`
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`
	TopK        int `yaml:"top_k" json:"top_k"`

	// MergeNearDuplicates merges different parents whose texts reach
	// DedupThreshold Jaccard similarity.
	MergeNearDuplicates bool    `yaml:"merge_near_duplicates" json:"merge_near_duplicates"`
	DedupThreshold      float64 `yaml:"dedup_threshold" json:"dedup_threshold"`

	PathTimeout   time.Duration `yaml:"path_timeout" json:"path_timeout"`
	RerankTimeout time.Duration `yaml:"rerank_timeout" json:"rerank_timeout"`

	Expand      bool `yaml:"expand" json:"expand"`
	ExpandCount int  `yaml:"expand_count" json:"expand_count"`
	Rerank      bool `yaml:"rerank" json:"rerank"`
}

// IndexConfig configures the lexical and vector indexes.
type IndexConfig struct {
	// DataDir holds every on-disk index. Empty keeps everything in memory.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// FieldBackend is "bleve" or "sqlite".
	FieldBackend string `yaml:"field_backend" json:"field_backend"`

	// VectorBackend is "hnsw" or "chromem".
	VectorBackend string `yaml:"vector_backend" json:"vector_backend"`

	HNSWM        int `yaml:"hnsw_m" json:"hnsw_m"`
	HNSWEfSearch int `yaml:"hnsw_ef_search" json:"hnsw_ef_search"`

	MinTokenLength int      `yaml:"min_token_length" json:"min_token_length"`
	StopWords      []string `yaml:"stop_words" json:"stop_words"`
}

// ChunksConfig selects the parent/child chunk store.
type ChunksConfig struct {
	// Driver is "sqlite", "sqlite3" (cgo builds) or "pgx".
	Driver string `yaml:"driver" json:"driver"`
	// DSN is a file path for SQLite drivers. Empty means {data_dir}/chunks.db.
	DSN string `yaml:"dsn" json:"dsn"`
}

// CacheConfig configures the rerank score cache and the query embedding cache.
type CacheConfig struct {
	// Backend is "lru", "sqlite" or "none".
	Backend string `yaml:"backend" json:"backend"`
	Size    int    `yaml:"size" json:"size"`
	// Path is the SQLite cache file. Empty means {data_dir}/rerank_cache.db.
	Path string `yaml:"path" json:"path"`

	EmbeddingCacheSize int `yaml:"embedding_cache_size" json:"embedding_cache_size"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama" or "static".
	Provider   string        `yaml:"provider" json:"provider"`
	Model      string        `yaml:"model" json:"model"`
	OllamaHost string        `yaml:"ollama_host" json:"ollama_host"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// GenerationConfig configures the model used for rewrite and expansion.
type GenerationConfig struct {
	// Enabled turns query transformation on. Off means identity transforms.
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Model           string        `yaml:"model" json:"model"`
	OllamaHost      string        `yaml:"ollama_host" json:"ollama_host"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	Temperature     float64       `yaml:"temperature" json:"temperature"`
	MaxTokens       int           `yaml:"max_tokens" json:"max_tokens"`
	MaxHistoryTurns int           `yaml:"max_history_turns" json:"max_history_turns"`
}

// RerankConfig configures the relevance scorer.
type RerankConfig struct {
	// Scorer is "http" (cross-encoder service) or "lexical" (offline).
	Scorer      string        `yaml:"scorer" json:"scorer"`
	Endpoint    string        `yaml:"endpoint" json:"endpoint"`
	Model       string        `yaml:"model" json:"model"`
	APIKey      string        `yaml:"api_key" json:"-"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	Concurrency int           `yaml:"concurrency" json:"concurrency"`
	RateLimit   float64       `yaml:"rate_limit" json:"rate_limit"`
	Burst       int           `yaml:"burst" json:"burst"`
}

// ServerConfig configures `amanrag serve`.
type ServerConfig struct {
	// MetricsAddr serves /metrics when set (e.g. ":9464").
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// WatchConfig reloads the retrieval section when config files change.
	WatchConfig bool `yaml:"watch_config" json:"watch_config"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Retrieval: RetrievalConfig{
			Profile: "full",
			// RRF constant k=60 is the common default (Azure AI Search, OpenSearch)
			RRFConstant:    60,
			PoolSize:       50,
			TopK:           5,
			DedupThreshold: 0.85,
			PathTimeout:    3 * time.Second,
			RerankTimeout:  3 * time.Second,
			Expand:         true,
			ExpandCount:    3,
			Rerank:         true,
		},
		Index: IndexConfig{
			DataDir:        defaultDataDir(),
			FieldBackend:   "bleve",
			VectorBackend:  "hnsw",
			HNSWM:          16,
			HNSWEfSearch:   64,
			MinTokenLength: 2,
		},
		Chunks: ChunksConfig{
			Driver: "sqlite",
		},
		Cache: CacheConfig{
			Backend:            "lru",
			Size:               10000,
			EmbeddingCacheSize: 1000,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			BatchSize: 32,
			Timeout:   30 * time.Second,
		},
		Generation: GenerationConfig{
			Enabled:         true,
			Model:           "qwen2.5:1.5b",
			Timeout:         3 * time.Second,
			Temperature:     0.3,
			MaxTokens:       256,
			MaxHistoryTurns: 6,
		},
		Rerank: RerankConfig{
			Scorer:      "http",
			Endpoint:    "http://localhost:8787",
			Timeout:     3 * time.Second,
			Concurrency: 8,
		},
		Resilience: resilience.DefaultConfig(),
		Server: ServerConfig{
			WatchConfig: true,
		},
		Logging: logging.DefaultConfig(),
	}
}

// defaultDataDir returns ~/.amanrag/data.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanrag", "data")
	}
	return filepath.Join(home, ".amanrag", "data")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/amanrag/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/amanrag/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanrag", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// ProjectConfigPath returns the project config file in dir, or "" if none.
func ProjectConfigPath(dir string) string {
	for _, name := range []string{ProjectFileName, ProjectFileNameAlt} {
		if p := filepath.Join(dir, name); fileExists(p) {
			return p
		}
	}
	return ""
}

// Load loads configuration for the project in dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/amanrag/config.yaml)
//  3. Project config (.amanrag.yaml in dir)
//  4. Environment variables (AMANRAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if p := GetUserConfigPath(); fileExists(p) {
		if err := cfg.loadYAML(p); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}
	if p := ProjectConfigPath(dir); p != "" {
		if err := cfg.loadYAML(p); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile decodes a single config file over the defaults, without other
// sources or environment overrides. `config show --source` uses it.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML decodes path over c. Keys absent from the file keep their current
// value, so explicit false and 0 survive while unset fields keep defaults.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies AMANRAG_* environment variable overrides.
// Unparseable values are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMANRAG_DATA_DIR"); v != "" {
		c.Index.DataDir = v
	}
	if v := os.Getenv("AMANRAG_PROFILE"); v != "" {
		c.Retrieval.Profile = v
		c.Retrieval.Paths = nil
	}
	if v := os.Getenv("AMANRAG_PATHS"); v != "" {
		c.Retrieval.Paths = splitList(v)
	}
	if v := os.Getenv("AMANRAG_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.RRFConstant = k
		}
	}
	if v := os.Getenv("AMANRAG_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retrieval.PoolSize = n
		}
	}
	if v := os.Getenv("AMANRAG_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retrieval.TopK = n
		}
	}
	if v := os.Getenv("AMANRAG_PATH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Retrieval.PathTimeout = d
		}
	}
	if v, ok := envBool("AMANRAG_EXPAND"); ok {
		c.Retrieval.Expand = v
	}
	if v, ok := envBool("AMANRAG_RERANK"); ok {
		c.Retrieval.Rerank = v
	}

	if v := os.Getenv("AMANRAG_FIELD_BACKEND"); v != "" {
		c.Index.FieldBackend = v
	}
	if v := os.Getenv("AMANRAG_VECTOR_BACKEND"); v != "" {
		c.Index.VectorBackend = v
	}
	if v := os.Getenv("AMANRAG_CHUNKS_DRIVER"); v != "" {
		c.Chunks.Driver = v
	}
	if v := os.Getenv("AMANRAG_CHUNKS_DSN"); v != "" {
		c.Chunks.DSN = v
	}
	if v := os.Getenv("AMANRAG_CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}

	if v := os.Getenv("AMANRAG_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("AMANRAG_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	// AMANRAG_OLLAMA_HOST points both embedding and generation at one server.
	if v := os.Getenv("AMANRAG_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
		c.Generation.OllamaHost = v
	}
	if v, ok := envBool("AMANRAG_GENERATION_ENABLED"); ok {
		c.Generation.Enabled = v
	}
	if v := os.Getenv("AMANRAG_GENERATION_MODEL"); v != "" {
		c.Generation.Model = v
	}

	if v := os.Getenv("AMANRAG_RERANK_SCORER"); v != "" {
		c.Rerank.Scorer = v
	}
	if v := os.Getenv("AMANRAG_RERANK_ENDPOINT"); v != "" {
		c.Rerank.Endpoint = v
	}
	if v := os.Getenv("AMANRAG_RERANK_API_KEY"); v != "" {
		c.Rerank.APIKey = v
	}

	if v := os.Getenv("AMANRAG_METRICS_ADDR"); v != "" {
		c.Server.MetricsAddr = v
	}
	if v := os.Getenv("AMANRAG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, false
	}
	return b, true
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var (
	validProfiles       = map[string]bool{"full": true, "fast": true}
	validPaths          = map[string]bool{"vector": true, "content": true, "summary": true, "keywords": true}
	validFieldBackends  = map[string]bool{"bleve": true, "sqlite": true}
	validVectorBackends = map[string]bool{"hnsw": true, "chromem": true}
	validDrivers        = map[string]bool{"sqlite": true, "sqlite3": true, "pgx": true}
	validCacheBackends  = map[string]bool{"lru": true, "sqlite": true, "none": true}
	validProviders      = map[string]bool{"ollama": true, "static": true}
	validScorers        = map[string]bool{"http": true, "lexical": true}
)

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	r := c.Retrieval
	if !validProfiles[strings.ToLower(r.Profile)] {
		return fmt.Errorf("retrieval.profile must be 'full' or 'fast', got %q", r.Profile)
	}
	for _, p := range r.Paths {
		if !validPaths[strings.ToLower(p)] {
			return fmt.Errorf("retrieval.paths: unknown path %q (valid: vector, content, summary, keywords)", p)
		}
	}
	if r.TopK < 0 || r.TopK > 100 {
		return fmt.Errorf("retrieval.top_k must be between 0 and 100, got %d", r.TopK)
	}
	if r.PoolSize < 0 || r.PoolSize > 500 {
		return fmt.Errorf("retrieval.pool_size must be between 0 and 500, got %d", r.PoolSize)
	}
	if r.RRFConstant < 0 {
		return fmt.Errorf("retrieval.rrf_constant must be non-negative, got %d", r.RRFConstant)
	}
	if r.DedupThreshold < 0 || r.DedupThreshold > 1 {
		return fmt.Errorf("retrieval.dedup_threshold must be between 0 and 1, got %.2f", r.DedupThreshold)
	}
	if r.PathTimeout < 0 || r.RerankTimeout < 0 {
		return fmt.Errorf("retrieval timeouts must be non-negative")
	}
	if r.ExpandCount < 0 {
		return fmt.Errorf("retrieval.expand_count must be non-negative, got %d", r.ExpandCount)
	}

	if !validFieldBackends[strings.ToLower(c.Index.FieldBackend)] {
		return fmt.Errorf("index.field_backend must be 'bleve' or 'sqlite', got %q", c.Index.FieldBackend)
	}
	if !validVectorBackends[strings.ToLower(c.Index.VectorBackend)] {
		return fmt.Errorf("index.vector_backend must be 'hnsw' or 'chromem', got %q", c.Index.VectorBackend)
	}
	if !validDrivers[strings.ToLower(c.Chunks.Driver)] {
		return fmt.Errorf("chunks.driver must be 'sqlite', 'sqlite3' or 'pgx', got %q", c.Chunks.Driver)
	}
	if strings.EqualFold(c.Chunks.Driver, "pgx") && c.Chunks.DSN == "" {
		return fmt.Errorf("chunks.dsn is required for the pgx driver")
	}
	if !validCacheBackends[strings.ToLower(c.Cache.Backend)] {
		return fmt.Errorf("cache.backend must be 'lru', 'sqlite' or 'none', got %q", c.Cache.Backend)
	}
	if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return fmt.Errorf("embeddings.provider must be 'ollama' or 'static', got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions < 0 {
		return fmt.Errorf("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	}
	if !validScorers[strings.ToLower(c.Rerank.Scorer)] {
		return fmt.Errorf("rerank.scorer must be 'http' or 'lexical', got %q", c.Rerank.Scorer)
	}
	if c.Rerank.RateLimit < 0 {
		return fmt.Errorf("rerank.rate_limit must be non-negative, got %f", c.Rerank.RateLimit)
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
