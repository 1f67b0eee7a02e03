package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"tools.zach/dev/mentionbot/internal/atomicfile"
	"tools.zach/dev/mentionbot/internal/migrate"
)

// ///////////////////////////////////////////////
// File Layout
// ///////////////////////////////////////////////

// document is the on-disk layout of state.toml.
type document struct {
	Version int               `toml:"version"`
	Values  map[string]string `toml:"values"`
}

// legacyDocument is the version 1 layout: flat camelCase keys at the top
// level, with no version field.
type legacyDocument struct {
	SinceMentionID string `toml:"sinceMentionId"`
	RefreshToken   string `toml:"refreshToken"`
}

func init() {
	migrate.Store.Register(migrate.Migration{
		Version:     2,
		Description: "nest values under [values] with snake_case keys",
		Upgrade:     upgradeFlatToNested,
	})
}

func upgradeFlatToNested(data []byte) ([]byte, error) {
	var old legacyDocument
	if _, err := toml.Decode(string(data), &old); err != nil {
		return nil, fmt.Errorf("decoding v1 state: %w", err)
	}
	doc := document{Version: 2, Values: map[string]string{}}
	if old.SinceMentionID != "" {
		doc.Values[KeySinceMentionID] = old.SinceMentionID
	}
	if old.RefreshToken != "" {
		doc.Values[KeyRefreshToken] = old.RefreshToken
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// peekVersion extracts the version field. A missing field means version 1.
func peekVersion(data []byte) (int, error) {
	var partial struct {
		Version int `toml:"version"`
	}
	if _, err := toml.Decode(string(data), &partial); err != nil {
		return 0, fmt.Errorf("peeking version: %w", err)
	}
	if partial.Version == 0 {
		return 1, nil
	}
	return partial.Version, nil
}

// ///////////////////////////////////////////////
// FileStore
// ///////////////////////////////////////////////

// FileStore is a [Store] backed by a TOML file. The file is read on every
// Get and rewritten atomically on every Set.
type FileStore struct {
	path string

	mu        sync.Mutex
	closed    bool
	lastWrite time.Time // mtime after our most recent Set
}

// NewFileStore returns a store backed by the file at path. The file is
// created on the first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Get returns the value for key, or "" if it is unset or the file does not
// exist yet.
func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	doc, err := s.load()
	if err != nil {
		return "", err
	}
	return doc.Values[key], nil
}

// Set stores value under key, preserving the other keys.
func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Values[key] = value
	if err := s.save(doc); err != nil {
		return err
	}
	if info, err := os.Stat(s.path); err == nil {
		s.lastWrite = info.ModTime()
	}
	return nil
}

// ModifiedExternally reports whether the file changed since this store last
// wrote it. It is always false before the first Set.
func (s *FileStore) ModifiedExternally() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastWrite.IsZero() {
		return false
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	return !info.ModTime().Equal(s.lastWrite)
}

// Close marks the store closed. Subsequent calls return [ErrClosed].
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// load reads and migrates the file. A missing file yields an empty
// document. A file that cannot be parsed is backed up to <path>.corrupted
// and reported as an error; the next Set starts a fresh document.
func (s *FileStore) load() (*document, error) {
	doc := &document{Version: migrate.Store.CurrentVersion, Values: map[string]string{}}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	version, err := peekVersion(data)
	if err != nil {
		return nil, s.recoverCorrupted(data, err)
	}
	if migrate.Store.NeedsMigration(version) {
		migrated, newVersion, err := migrate.Store.Run(data, version)
		if err != nil {
			return nil, fmt.Errorf("state migration failed: %w", err)
		}
		slog.Info("migrated state file", "path", s.path, "from", version, "to", newVersion)
		data = migrated
	}

	if _, err := toml.Decode(string(data), doc); err != nil {
		return nil, s.recoverCorrupted(data, err)
	}
	if doc.Values == nil {
		doc.Values = map[string]string{}
	}
	return doc, nil
}

func (s *FileStore) recoverCorrupted(data []byte, parseErr error) error {
	slog.Warn("corrupted state file, backing up", "path", s.path, "error", parseErr)

	corruptedPath := s.path + ".corrupted"
	if err := os.WriteFile(corruptedPath, data, 0o600); err != nil {
		slog.Warn("failed to write backup", "path", corruptedPath, "error", err)
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to remove corrupted state file", "path", s.path, "error", err)
	}
	return fmt.Errorf("corrupted state file (backed up to %s): %w", corruptedPath, parseErr)
}

func (s *FileStore) save(doc *document) error {
	doc.Version = migrate.Store.CurrentVersion
	return atomicfile.WriteFunc(s.path, 0o600, func(w io.Writer) error {
		return toml.NewEncoder(w).Encode(doc)
	})
}
