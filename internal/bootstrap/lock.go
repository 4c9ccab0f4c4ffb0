package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// LockFileName is created inside the data dir while an index run holds it.
const LockFileName = ".index.lock"

// DataDirLock serializes writers of one data dir across processes.
// Readers do not take it: every store is read-only at query time.
type DataDirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDataDirLock creates a lock for dataDir. Nothing is touched until Lock.
func NewDataDirLock(dataDir string) *DataDirLock {
	path := filepath.Join(dataDir, LockFileName)
	return &DataDirLock{path: path, flock: flock.New(path)}
}

// Lock blocks until the lock is held.
func (l *DataDirLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.locked = true
	return nil
}

// TryLock takes the lock if it is free and reports whether it did.
func (l *DataDirLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Acquire is TryLock that fails with ErrCodeDataDirLocked when another
// process holds the lock.
func (l *DataDirLock) Acquire() error {
	ok, err := l.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return amanerrors.New(amanerrors.ErrCodeDataDirLocked,
			"data directory is locked by another process", nil).
			WithDetail("lock", l.path).
			WithSuggestion("wait for the running 'amanrag index' to finish")
	}
	return nil
}

// Unlock releases the lock. Unlocking an unlocked lock is a no-op.
func (l *DataDirLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DataDirLock) Path() string { return l.path }

// IsLocked reports whether this instance holds the lock.
func (l *DataDirLock) IsLocked() bool { return l.locked }
