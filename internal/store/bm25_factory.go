package store

import (
	"fmt"
	"path/filepath"
)

// FieldBackend selects the FieldIndex implementation.
type FieldBackend string

const (
	// FieldBackendBleve is the default. Single process: bleve holds a file lock.
	FieldBackendBleve FieldBackend = "bleve"

	// FieldBackendSQLite uses FTS5 in WAL mode and tolerates concurrent readers.
	FieldBackendSQLite FieldBackend = "sqlite"
)

// NewFieldIndex opens the lexical index for backend under dataDir.
// An empty dataDir gives an in-memory index.
func NewFieldIndex(dataDir string, backend FieldBackend, cfg TextConfig) (FieldIndex, error) {
	switch backend {
	case FieldBackendBleve, "":
		return NewBleveFieldIndex(FieldIndexPath(dataDir, FieldBackendBleve), cfg)
	case FieldBackendSQLite:
		return NewSQLiteFieldIndex(FieldIndexPath(dataDir, FieldBackendSQLite), cfg)
	default:
		return nil, fmt.Errorf("unknown field index backend %q (valid: bleve, sqlite)", backend)
	}
}

// FieldIndexPath returns where backend keeps its files, or "" for in-memory.
func FieldIndexPath(dataDir string, backend FieldBackend) string {
	if dataDir == "" {
		return ""
	}
	if backend == FieldBackendSQLite {
		return filepath.Join(dataDir, "fields.db")
	}
	return filepath.Join(dataDir, "fields.bleve")
}
