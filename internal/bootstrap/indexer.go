package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanrag/internal/chunk"
	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/ui"
)

// DefaultIndexBatch is the number of children written per lexical and
// embedding batch.
const DefaultIndexBatch = 128

// IndexStats summarizes one Load.
type IndexStats struct {
	Parents  int
	Children int
	Vectors  int
	Duration time.Duration
	Stages   ui.StageTimings
}

// Indexer writes chunk sets into every store the engine reads.
type Indexer struct {
	embedder   embed.Embedder
	vectors    store.VectorStore
	fields     store.FieldIndex
	chunks     store.ChunkWriter
	vectorPath string
	batch      int

	mu       sync.Mutex
	progress func(ui.ProgressEvent)
}

// NewIndexer creates an indexer. An empty vectorPath keeps vectors in memory.
func NewIndexer(embedder embed.Embedder, vectors store.VectorStore, fields store.FieldIndex, chunks store.ChunkWriter, vectorPath string) *Indexer {
	return &Indexer{
		embedder:   embedder,
		vectors:    vectors,
		fields:     fields,
		chunks:     chunks,
		vectorPath: vectorPath,
		batch:      DefaultIndexBatch,
	}
}

// OnProgress registers fn to receive stage progress. Lexical and embedding
// stages run concurrently; calls to fn are serialized.
func (ix *Indexer) OnProgress(fn func(ui.ProgressEvent)) {
	ix.progress = fn
}

func (ix *Indexer) emit(stage ui.Stage, current, total int, msg string) {
	if ix.progress == nil {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.progress(ui.ProgressEvent{Stage: stage, Current: current, Total: total, Message: msg})
}

// Load stores parents, then indexes children lexically and by embedding,
// then persists the vector store. Existing IDs are replaced.
func (ix *Indexer) Load(ctx context.Context, parents []*chunk.ParentChunk, children []*chunk.ChildChunk) (IndexStats, error) {
	start := time.Now()
	stats := IndexStats{Parents: len(parents), Children: len(children)}

	set := chunk.Set{Parents: parents, Children: children}
	if err := set.Validate(); err != nil {
		return stats, fmt.Errorf("invalid chunk set: %w", err)
	}

	stored := len(parents) + len(children)
	stepStart := time.Now()
	ix.emit(ui.StageStoring, 0, stored, "parents")
	if err := ix.chunks.SaveParents(ctx, parents); err != nil {
		return stats, fmt.Errorf("save parents: %w", err)
	}
	ix.emit(ui.StageStoring, len(parents), stored, "children")
	if err := ix.chunks.SaveChildren(ctx, children); err != nil {
		return stats, fmt.Errorf("save children: %w", err)
	}
	ix.emit(ui.StageStoring, stored, stored, "")
	stats.Stages.Store = time.Since(stepStart)

	// Lexical and vector indexing touch different stores.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t := time.Now()
		err := ix.indexFields(gctx, children)
		stats.Stages.Lexical = time.Since(t)
		return err
	})
	g.Go(func() error {
		t := time.Now()
		n, err := ix.indexVectors(gctx, children)
		stats.Vectors = n
		stats.Stages.Embed = time.Since(t)
		return err
	})
	if err := g.Wait(); err != nil {
		return stats, err
	}

	if ix.vectorPath != "" {
		stepStart = time.Now()
		ix.emit(ui.StagePersisting, 0, 1, ix.vectorPath)
		if err := ix.vectors.Save(ix.vectorPath); err != nil {
			return stats, fmt.Errorf("save vector store: %w", err)
		}
		ix.emit(ui.StagePersisting, 1, 1, ix.vectorPath)
		stats.Stages.Persist = time.Since(stepStart)
	}

	stats.Duration = time.Since(start)
	slog.Info("index_complete",
		slog.Int("parents", stats.Parents),
		slog.Int("children", stats.Children),
		slog.Int("vectors", stats.Vectors),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

func (ix *Indexer) indexFields(ctx context.Context, children []*chunk.ChildChunk) error {
	for from := 0; from < len(children); from += ix.batch {
		to := min(from+ix.batch, len(children))
		docs := make([]*store.FieldDocument, 0, to-from)
		for _, c := range children[from:to] {
			docs = append(docs, store.FieldDocumentFromChild(c))
		}
		if err := ix.fields.Index(ctx, docs); err != nil {
			return fmt.Errorf("index fields: %w", err)
		}
		ix.emit(ui.StageLexical, to, len(children), "")
	}
	return nil
}

func (ix *Indexer) indexVectors(ctx context.Context, children []*chunk.ChildChunk) (int, error) {
	added := 0
	for from := 0; from < len(children); from += ix.batch {
		to := min(from+ix.batch, len(children))
		ids := make([]string, 0, to-from)
		texts := make([]string, 0, to-from)
		for _, c := range children[from:to] {
			ids = append(ids, c.ID)
			texts = append(texts, c.Text)
		}
		vecs, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return added, fmt.Errorf("embed children: %w", err)
		}
		if err := ix.vectors.Add(ctx, ids, vecs); err != nil {
			return added, fmt.Errorf("add vectors: %w", err)
		}
		added += len(ids)
		slog.Debug("index_batch", slog.Int("done", to), slog.Int("total", len(children)))
		ix.emit(ui.StageEmbedding, to, len(children), "")
	}
	return added, nil
}
