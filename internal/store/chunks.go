package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/chunk"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"
)

// Chunk store drivers.
const (
	DriverSQLite   = "sqlite"  // modernc.org/sqlite, pure Go (default)
	DriverSQLite3  = "sqlite3" // mattn/go-sqlite3, cgo builds only
	DriverPostgres = "pgx"     // jackc/pgx stdlib
)

// lookupBatch bounds the IN list so SQLite's host parameter limit is never hit.
const lookupBatch = 500

// SQLChunkStore keeps parent and child chunks in two tables linked by
// parent_chunk_id. It serves both lookup directions in batched queries.
type SQLChunkStore struct {
	db     *sql.DB
	driver string
}

var (
	_ ChunkStore  = (*SQLChunkStore)(nil)
	_ ChunkWriter = (*SQLChunkStore)(nil)
)

// OpenChunkStore opens the database and creates the schema.
// For the SQLite drivers dsn is a file path ("" means in-memory).
func OpenChunkStore(ctx context.Context, driver, dsn string) (*SQLChunkStore, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	if !slices.Contains(sql.Drivers(), driver) {
		return nil, fmt.Errorf("chunk store driver %q is not available in this build (sqlite3 needs cgo)", driver)
	}

	sqlite := driver == DriverSQLite || driver == DriverSQLite3
	if sqlite {
		if dsn == "" {
			dsn = ":memory:"
		} else if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create chunk store directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk store: %w", err)
	}
	if sqlite {
		db.SetMaxOpenConns(1)
		if err := applyPragmas(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	s := NewSQLChunkStore(db, driver)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLChunkStore wraps an open database. driver selects the placeholder style.
func NewSQLChunkStore(db *sql.DB, driver string) *SQLChunkStore {
	return &SQLChunkStore{db: db, driver: driver}
}

// Migrate creates the tables if they do not exist.
func (s *SQLChunkStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS parent_chunks (
			id          TEXT PRIMARY KEY,
			document_id TEXT NOT NULL DEFAULT '',
			text        TEXT NOT NULL,
			ordinal     INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS child_chunks (
			id              TEXT PRIMARY KEY,
			parent_chunk_id TEXT NOT NULL,
			document_id     TEXT NOT NULL DEFAULT '',
			text            TEXT NOT NULL,
			summary         TEXT NOT NULL DEFAULT '',
			keywords        TEXT NOT NULL DEFAULT '[]',
			ordinal         INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_child_chunks_parent ON child_chunks(parent_chunk_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate chunk store: %w", err)
		}
	}
	return nil
}

// placeholders returns n bind markers starting at position from (1-based).
func (s *SQLChunkStore) placeholders(from, n int) string {
	marks := make([]string, n)
	for i := range marks {
		if s.driver == DriverPostgres {
			marks[i] = fmt.Sprintf("$%d", from+i)
		} else {
			marks[i] = "?"
		}
	}
	return strings.Join(marks, ", ")
}

// ParentIDs implements ChunkStore.
func (s *SQLChunkStore) ParentIDs(ctx context.Context, childIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(childIDs))
	err := s.eachBatch(childIDs, func(batch []any) error {
		q := `SELECT id, parent_chunk_id FROM child_chunks WHERE id IN (` + s.placeholders(1, len(batch)) + `)`
		rows, err := s.db.QueryContext(ctx, q, batch...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var id, parent string
			if err := rows.Scan(&id, &parent); err != nil {
				return err
			}
			out[id] = parent
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("lookup parent ids: %w", err)
	}
	return out, nil
}

// Parents implements ChunkStore.
func (s *SQLChunkStore) Parents(ctx context.Context, parentIDs []string) (map[string]*chunk.ParentChunk, error) {
	out := make(map[string]*chunk.ParentChunk, len(parentIDs))
	err := s.eachBatch(parentIDs, func(batch []any) error {
		q := `SELECT id, document_id, text, ordinal FROM parent_chunks WHERE id IN (` + s.placeholders(1, len(batch)) + `)`
		rows, err := s.db.QueryContext(ctx, q, batch...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			p := &chunk.ParentChunk{}
			if err := rows.Scan(&p.ID, &p.DocumentID, &p.Text, &p.Ordinal); err != nil {
				return err
			}
			out[p.ID] = p
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("lookup parents: %w", err)
	}
	return out, nil
}

// eachBatch calls fn with deduplicated ids in groups of lookupBatch.
func (s *SQLChunkStore) eachBatch(ids []string, fn func(batch []any) error) error {
	seen := make(map[string]struct{}, len(ids))
	uniq := make([]any, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	for start := 0; start < len(uniq); start += lookupBatch {
		end := min(start+lookupBatch, len(uniq))
		if err := fn(uniq[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// SaveParents implements ChunkWriter. Existing rows are replaced.
func (s *SQLChunkStore) SaveParents(ctx context.Context, parents []*chunk.ParentChunk) error {
	q := `INSERT INTO parent_chunks (id, document_id, text, ordinal) VALUES (` + s.placeholders(1, 4) + `)
		ON CONFLICT (id) DO UPDATE SET document_id = excluded.document_id, text = excluded.text, ordinal = excluded.ordinal`
	return s.inTx(ctx, q, len(parents), func(stmt *sql.Stmt, i int) error {
		p := parents[i]
		_, err := stmt.ExecContext(ctx, p.ID, p.DocumentID, p.Text, p.Ordinal)
		return err
	})
}

// SaveChildren implements ChunkWriter. Existing rows are replaced.
func (s *SQLChunkStore) SaveChildren(ctx context.Context, children []*chunk.ChildChunk) error {
	q := `INSERT INTO child_chunks (id, parent_chunk_id, document_id, text, summary, keywords, ordinal) VALUES (` + s.placeholders(1, 7) + `)
		ON CONFLICT (id) DO UPDATE SET parent_chunk_id = excluded.parent_chunk_id, document_id = excluded.document_id,
			text = excluded.text, summary = excluded.summary, keywords = excluded.keywords, ordinal = excluded.ordinal`
	return s.inTx(ctx, q, len(children), func(stmt *sql.Stmt, i int) error {
		c := children[i]
		kw, err := json.Marshal(c.Keywords)
		if err != nil {
			return err
		}
		if c.Keywords == nil {
			kw = []byte("[]")
		}
		_, err = stmt.ExecContext(ctx, c.ID, c.ParentChunkID, c.DocumentID, c.Text, c.Summary, string(kw), c.Ordinal)
		return err
	})
}

func (s *SQLChunkStore) inTx(ctx context.Context, query string, n int, exec func(*sql.Stmt, int) error) error {
	if n == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			return fmt.Errorf("save chunk %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Counts returns the number of stored parents and children.
func (s *SQLChunkStore) Counts(ctx context.Context) (parents, children int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM parent_chunks`).Scan(&parents); err != nil {
		return 0, 0, fmt.Errorf("count parents: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM child_chunks`).Scan(&children); err != nil {
		return 0, 0, fmt.Errorf("count children: %w", err)
	}
	return parents, children, nil
}

// Close implements ChunkStore.
func (s *SQLChunkStore) Close() error {
	return s.db.Close()
}
