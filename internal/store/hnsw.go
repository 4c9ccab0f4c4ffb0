package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWStore is the default VectorStore, an in-process HNSW graph
// persisted as two files: the graph export and a gob sidecar with the ID map.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig
	ids    idTable
	closed bool
}

// idTable maps chunk IDs to graph keys. Replaced vectors stay in the graph
// as orphans whose key no longer resolves; removing nodes from coder/hnsw
// can break the graph when the entry node goes.
type idTable struct {
	ByID    map[string]uint64
	ByKey   map[uint64]string
	NextKey uint64
}

func newIDTable() idTable {
	return idTable{ByID: map[string]uint64{}, ByKey: map[uint64]string{}}
}

func (t *idTable) assign(id string) uint64 {
	if old, ok := t.ByID[id]; ok {
		delete(t.ByKey, old)
	}
	key := t.NextKey
	t.NextKey++
	t.ByID[id] = key
	t.ByKey[key] = id
	return key
}

// hnswSidecar is the gob payload written next to the graph.
type hnswSidecar struct {
	IDs    map[string]uint64
	Next   uint64
	Config VectorStoreConfig
}

var _ VectorStore = (*HNSWStore)(nil)

// NewHNSWStore creates an empty store.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}
	return &HNSWStore{graph: newGraph(cfg), config: cfg, ids: newIDTable()}, nil
}

func newGraph(cfg VectorStoreConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	if cfg.Metric == "l2" {
		g.Distance = hnsw.EuclideanDistance
	} else {
		g.Distance = hnsw.CosineDistance
	}
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// Add implements VectorStore.
func (s *HNSWStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}
	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	nodes := make([]hnsw.Node[uint64], len(ids))
	for i, id := range ids {
		nodes[i] = hnsw.MakeNode(s.ids.assign(id), s.prepare(vectors[i]))
	}
	s.graph.Add(nodes...)
	return nil
}

// prepare copies v, normalizing it for the cosine metric.
func (s *HNSWStore) prepare(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	if s.config.Metric != "l2" {
		normalizeInPlace(out)
	}
	return out
}

// Search implements VectorStore. Orphaned nodes are skipped, so a search
// may return fewer than k results when many vectors were replaced.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if k <= 0 || s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	q := s.prepare(query)
	// Over-fetch by the orphan count so replaced vectors do not starve k.
	want := k + (s.graph.Len() - len(s.ids.ByID))
	nodes := s.graph.Search(q, want)

	results := make([]*VectorResult, 0, k)
	for _, n := range nodes {
		id, ok := s.ids.ByKey[n.Key]
		if !ok {
			continue
		}
		d := s.graph.Distance(q, n.Value)
		results = append(results, &VectorResult{ID: id, Distance: d, Score: similarity(d, s.config.Metric)})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Count implements VectorStore.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.ids.ByID)
}

// Save writes the graph to path and the ID table to path+".meta",
// each through a temp file and rename.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := writeAtomic(path, func(f *os.File) error { return s.graph.Export(f) }); err != nil {
		return fmt.Errorf("failed to save graph: %w", err)
	}
	meta := hnswSidecar{IDs: s.ids.ByID, Next: s.ids.NextKey, Config: s.config}
	if err := writeAtomic(path+".meta", func(f *os.File) error { return gob.NewEncoder(f).Encode(meta) }); err != nil {
		return fmt.Errorf("failed to save id table: %w", err)
	}
	return nil
}

// Load replaces the store contents with the files written by Save.
func (s *HNSWStore) Load(path string) error {
	meta, err := readSidecar(path)
	if err != nil {
		return fmt.Errorf("failed to load vector store: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open graph: %w", err)
	}
	defer func() { _ = f.Close() }()

	g := newGraph(meta.Config)
	// Import needs an io.ByteReader.
	if err := g.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	ids := idTable{ByID: meta.IDs, ByKey: make(map[uint64]string, len(meta.IDs)), NextKey: meta.Next}
	if ids.ByID == nil {
		ids.ByID = map[string]uint64{}
	}
	for id, key := range ids.ByID {
		ids.ByKey[key] = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	s.graph, s.config, s.ids = g, meta.Config, ids
	return nil
}

// Close implements VectorStore. Close is idempotent.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graph = nil
	return nil
}

// ReadHNSWDimensions returns the dimensions recorded by a previous Save, or
// 0 when nothing was saved yet.
func ReadHNSWDimensions(path string) (int, error) {
	meta, err := readSidecar(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return meta.Config.Dimensions, nil
}

func readSidecar(path string) (hnswSidecar, error) {
	var meta hnswSidecar
	f, err := os.Open(path + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return meta, err
		}
		return meta, fmt.Errorf("failed to open id table: %w", err)
	}
	defer func() { _ = f.Close() }()
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return meta, fmt.Errorf("failed to decode id table: %w", err)
	}
	return meta, nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// similarity maps a distance to [0, 1]. Cosine distance spans [0, 2].
func similarity(distance float32, metric string) float32 {
	if metric == "l2" {
		return 1 / (1 + distance)
	}
	return 1 - distance/2
}
