package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure Go driver, registered as "sqlite"
)

// SQLiteFieldIndex is a FieldIndex backed by an SQLite FTS5 table with one
// column per field. Text is pre-tokenized with Tokenize so both backends
// agree on what a term is.
type SQLiteFieldIndex struct {
	mu     sync.RWMutex
	db     *sql.DB
	cfg    TextConfig
	stop   map[string]struct{}
	closed bool
}

var _ FieldIndex = (*SQLiteFieldIndex)(nil)

// NewSQLiteFieldIndex opens or creates the index database at path.
// An empty path gives an in-memory index.
func NewSQLiteFieldIndex(path string, cfg TextConfig) (*SQLiteFieldIndex, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		if err := checkFTSIntegrity(path); err != nil {
			slog.Warn("field_index_corrupted", slog.String("path", path), slog.String("error", err.Error()))
			for _, f := range []string{path, path + "-wal", path + "-shm"} {
				_ = os.Remove(f)
			}
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: a second ":memory:" connection is a different database,
	// and FTS5 writes serialize anyway.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	const schema = `
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_fields USING fts5(
		doc_id UNINDEXED,
		content,
		summary,
		keywords,
		tokenize='unicode61'
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create fts5 table: %w", err)
	}

	return &SQLiteFieldIndex{db: db, cfg: cfg, stop: BuildStopWordMap(cfg.StopWords)}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to set %q: %w", p, err)
		}
	}
	return nil
}

// checkFTSIntegrity reports a damaged database file. A missing file is fine.
func checkFTSIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

func (s *SQLiteFieldIndex) prepare(text string) string {
	return strings.Join(analyze(text, s.cfg, s.stop), " ")
}

// Index implements FieldIndex. FTS5 has no upsert, so existing rows are
// deleted first.
func (s *SQLiteFieldIndex) Index(ctx context.Context, docs []*FieldDocument) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	del, err := tx.PrepareContext(ctx, `DELETE FROM fts_fields WHERE doc_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer func() { _ = del.Close() }()

	ins, err := tx.PrepareContext(ctx,
		`INSERT INTO fts_fields(doc_id, content, summary, keywords) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = ins.Close() }()

	for _, d := range docs {
		if _, err := del.ExecContext(ctx, d.ID); err != nil {
			return fmt.Errorf("failed to replace document %s: %w", d.ID, err)
		}
		if _, err := ins.ExecContext(ctx, d.ID,
			s.prepare(d.Content), s.prepare(d.Summary), s.prepare(d.Keywords)); err != nil {
			return fmt.Errorf("failed to index document %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

// Search implements FieldIndex. Query terms are OR-ed, matching bleve's
// match query, and restricted to the requested column.
func (s *SQLiteFieldIndex) Search(ctx context.Context, query string, field Field, limit int) ([]*FieldHit, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("unknown field %q", field)
	}
	if limit <= 0 {
		return []*FieldHit{}, nil
	}
	tokens := analyze(query, s.cfg, s.stop)
	if len(tokens) == 0 {
		return []*FieldHit{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}
	match := string(field) + " : (" + strings.Join(quoted, " OR ") + ")"

	// bm25() is negative, lower is better.
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, bm25(fts_fields) AS score
		FROM fts_fields
		WHERE fts_fields MATCH ?
		ORDER BY score
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", field, err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]*FieldHit, 0, limit)
	for rows.Next() {
		var (
			id    string
			score float64
		)
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		hits = append(hits, &FieldHit{ID: id, Score: -score})
	}
	return hits, rows.Err()
}

// Count implements FieldIndex.
func (s *SQLiteFieldIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM fts_fields`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close checkpoints the WAL and closes the database. Close is idempotent.
func (s *SQLiteFieldIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
