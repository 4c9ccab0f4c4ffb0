//go:build cgo

package store

// The mattn driver is only linked into cgo builds; pure Go builds use
// modernc under the "sqlite" name.
import _ "github.com/mattn/go-sqlite3" // registers "sqlite3"
