// Package store is the durable two-slot key-value store that survives
// restarts: the last processed mention id and the current refresh token.
//
// Two backends are provided. [FileStore] keeps a small TOML document in the
// data directory and re-reads it on every Get so that values written by
// another process are observed. [SQLiteStore] keeps the same keys in a
// single-table SQLite database.
package store

import (
	"context"
	"errors"
	"fmt"

	"tools.zach/dev/mentionbot/internal/paths"
)

// Keys held by the store.
const (
	KeySinceMentionID = "since_mention_id"
	KeyRefreshToken   = "refresh_token"
)

// Backend names accepted by [Open].
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Store is a durable string key-value store. Get returns "" with a nil
// error for a key that has never been set.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Open returns the store for backend rooted at dataDir.
func Open(backend string, dataDir paths.DataDir) (Store, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(dataDir.State()), nil
	case BackendSQLite:
		return NewSQLiteStore(dataDir.Database())
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
