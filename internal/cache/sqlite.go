package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLiteCache persists scores across process restarts.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache opens (or creates) the cache database at path.
// An empty path or ":memory:" gives a private in-memory database.
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	dsn := path
	if path == "" || path == ":memory:" {
		dsn = ":memory:"
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	// A second connection to ":memory:" would see a different database.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	const schema = `CREATE TABLE IF NOT EXISTS rerank_scores (
		cache_key  TEXT PRIMARY KEY,
		score      REAL NOT NULL,
		created_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}

	return &SQLiteCache{db: db}, nil
}

// Get implements ScoreCache.
func (c *SQLiteCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	var (
		score   float64
		created int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT score, created_at FROM rerank_scores WHERE cache_key = ?`, key).
		Scan(&score, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read cached score: %w", err)
	}
	return Entry{Score: score, CreatedAt: time.Unix(0, created).UTC()}, true, nil
}

// Set implements ScoreCache.
func (c *SQLiteCache) Set(ctx context.Context, key string, entry Entry) error {
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO rerank_scores (cache_key, score, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET score = excluded.score, created_at = excluded.created_at`,
		key, entry.Score, created.UnixNano())
	if err != nil {
		return fmt.Errorf("write cached score: %w", err)
	}
	return nil
}

// Count returns the number of stored scores.
func (c *SQLiteCache) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rerank_scores`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cached scores: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
