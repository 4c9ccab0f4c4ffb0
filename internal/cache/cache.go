// Package cache stores rerank scores keyed by (query, passage).
//
// The retrieval core never invalidates entries. Eviction is a property of
// the backend: LRUCache is bounded by capacity, SQLiteCache keeps everything
// until the file is removed.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Entry is a cached rerank score.
type Entry struct {
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoreCache is safe for concurrent use. Concurrent Sets of the same key are
// last-writer-wins.
type ScoreCache interface {
	// Get returns the entry for key. A missing key is (Entry{}, false, nil).
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
	Close() error
}

// Key derives the cache key for a query and passage text.
// The NUL separator keeps ("ab","c") and ("a","bc") apart.
func Key(query, text string) string {
	sum := sha256.Sum256([]byte(query + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
