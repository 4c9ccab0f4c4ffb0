package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/length"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/stop"
	"github.com/blevesearch/bleve/v2/analysis/tokenmap"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// TextTokenizerName splits on non-alphanumerics and camelCase.
	TextTokenizerName = "amanrag_text"

	textAnalyzerName = "amanrag_text_analyzer"
	stopTokenMapName = "amanrag_stop_words"
	stopFilterName   = "amanrag_stop"
	lengthFilterName = "amanrag_min_length"
)

func init() {
	_ = registry.RegisterTokenizer(TextTokenizerName, textTokenizerConstructor)
}

// BleveFieldIndex is a FieldIndex backed by bleve v2.
type BleveFieldIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// bleveDocument field names must match the Field constants.
type bleveDocument struct {
	Content  string `json:"content"`
	Summary  string `json:"summary"`
	Keywords string `json:"keywords"`
}

// NewBleveFieldIndex opens or creates the index at path.
// An empty path gives an in-memory index.
// A corrupt on-disk index is removed and recreated empty; re-run `index`.
func NewBleveFieldIndex(path string, cfg TextConfig) (*BleveFieldIndex, error) {
	im, err := newTextMapping(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	if path == "" {
		idx, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory index: %w", err)
		}
		return &BleveFieldIndex{index: idx}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := checkBleveMeta(path); err != nil {
		slog.Warn("field_index_corrupted", slog.String("path", path), slog.String("error", err.Error()))
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return nil, fmt.Errorf("field index corrupted at %s and cannot be removed: %w", path, rmErr)
		}
	}

	idx, err := bleve.Open(path)
	switch {
	case err == bleve.ErrorIndexPathDoesNotExist:
		idx, err = bleve.New(path, im)
	case err == bleve.ErrorIndexMetaCorrupt:
		slog.Warn("field_index_reset", slog.String("path", path), slog.String("error", err.Error()))
		_ = os.RemoveAll(path)
		idx, err = bleve.New(path, im)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open field index: %w", err)
	}
	return &BleveFieldIndex{index: idx, path: path}, nil
}

// checkBleveMeta reports an unreadable index_meta.json. A missing index is fine.
func checkBleveMeta(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// newTextMapping wires the tokenizer, lowercase, min length and stop word
// filters into the default analyzer, so every field is analyzed the same way.
func newTextMapping(cfg TextConfig) (*mapping.IndexMappingImpl, error) {
	if cfg.MinTokenLength <= 0 {
		cfg.MinTokenLength = 1
	}
	im := bleve.NewIndexMapping()
	im.StoreDynamic = false
	im.DocValuesDynamic = false

	words := make([]any, 0, len(cfg.StopWords))
	for _, w := range cfg.StopWords {
		words = append(words, strings.ToLower(w))
	}
	if err := im.AddCustomTokenMap(stopTokenMapName, map[string]any{
		"type":   tokenmap.Name,
		"tokens": words,
	}); err != nil {
		return nil, err
	}
	if err := im.AddCustomTokenFilter(stopFilterName, map[string]any{
		"type":           stop.Name,
		"stop_token_map": stopTokenMapName,
	}); err != nil {
		return nil, err
	}
	if err := im.AddCustomTokenFilter(lengthFilterName, map[string]any{
		"type": length.Name,
		"min":  float64(cfg.MinTokenLength),
	}); err != nil {
		return nil, err
	}
	if err := im.AddCustomAnalyzer(textAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     TextTokenizerName,
		"token_filters": []string{lowercase.Name, lengthFilterName, stopFilterName},
	}); err != nil {
		return nil, err
	}
	im.DefaultAnalyzer = textAnalyzerName
	return im, nil
}

// Index implements FieldIndex.
func (b *BleveFieldIndex) Index(ctx context.Context, docs []*FieldDocument) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, d := range docs {
		doc := bleveDocument{Content: d.Content, Summary: d.Summary, Keywords: d.Keywords}
		if err := batch.Index(d.ID, doc); err != nil {
			return fmt.Errorf("failed to index document %s: %w", d.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search implements FieldIndex.
func (b *BleveFieldIndex) Search(ctx context.Context, query string, field Field, limit int) ([]*FieldHit, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("unknown field %q", field)
	}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []*FieldHit{}, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}

	mq := bleve.NewMatchQuery(query)
	mq.SetField(string(field))
	req := bleve.NewSearchRequestOptions(mq, limit, 0, false)

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", field, err)
	}

	hits := make([]*FieldHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, &FieldHit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// Count implements FieldIndex.
func (b *BleveFieldIndex) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	n, err := b.index.DocCount()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close implements FieldIndex. Close is idempotent.
func (b *BleveFieldIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

var _ FieldIndex = (*BleveFieldIndex)(nil)

func textTokenizerConstructor(map[string]any, *registry.Cache) (analysis.Tokenizer, error) {
	return textTokenizer{}, nil
}

// textTokenizer emits the same tokens as Tokenize, with byte offsets.
type textTokenizer struct{}

func (textTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	spans := tokenSpans(text)
	stream := make(analysis.TokenStream, 0, len(spans))
	for i, sp := range spans {
		stream = append(stream, &analysis.Token{
			Term:     []byte(text[sp.start:sp.end]),
			Start:    sp.start,
			End:      sp.end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
	}
	return stream
}
