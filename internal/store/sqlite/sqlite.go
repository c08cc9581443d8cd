// Package sqlite provides a persistence medium backed by an SQLite database
// file, so that an editor process and a runner process on the same machine can
// share snippets through the file system.
//
// Every container is one row carrying the blob, a version counter and the
// identity of the last writer. Watch polls the row and reports version
// advances that were not produced by the watching handle itself.
//
//	import _ "modernc.org/sqlite" // registered by this package
//	m, err := sqlite.Open(ctx, "snippets.db")
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vk/snippetrunner/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS containers (
	name    TEXT PRIMARY KEY,
	blob    TEXT,
	version INTEGER NOT NULL DEFAULT 0,
	writer  TEXT NOT NULL DEFAULT ''
)`

// Option customises Open and New.
type Option func(*Medium)

// WithPollInterval sets how often Watch polls for version changes. Default: 250ms.
func WithPollInterval(d time.Duration) Option {
	return func(m *Medium) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLogger sets the logger used by watchers.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Medium) { m.logger = logger }
}

// Medium is one context's handle on the shared database.
type Medium struct {
	db       *sql.DB
	owned    bool
	id       string
	interval time.Duration
	logger   *slog.Logger
}

var _ store.Medium = (*Medium)(nil)

// Open opens (creating if needed) the database at path and returns a Medium
// that owns the connection pool.
func Open(ctx context.Context, path string, opts ...Option) (*Medium, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite medium: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite medium: open: %w", err)
	}
	m, err := New(ctx, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	m.owned = true
	return m, nil
}

// New returns a Medium over an existing pool. Several Mediums may share one
// pool; each still has its own writer identity.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Medium, error) {
	m := &Medium{
		db:       db,
		id:       uuid.NewString(),
		interval: 250 * time.Millisecond,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, p := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 10000", schema} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return nil, fmt.Errorf("sqlite medium: %s: %w", firstLine(p), err)
		}
	}
	return m, nil
}

// Fork implements store.Forker. The fork shares the pool and never closes it.
func (m *Medium) Fork() store.Medium {
	f := *m
	f.owned = false
	f.id = uuid.NewString()
	return &f
}

// Close closes the pool when this Medium opened it.
func (m *Medium) Close() error {
	if !m.owned {
		return nil
	}
	return m.db.Close()
}

// Read implements store.Medium.
func (m *Medium) Read(ctx context.Context, container string) (string, bool, error) {
	var blob sql.NullString
	err := m.db.QueryRowContext(ctx, `SELECT blob FROM containers WHERE name = ?`, container).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite medium: read %s: %w", container, err)
	}
	return blob.String, blob.Valid, nil
}

// Write implements store.Medium.
func (m *Medium) Write(ctx context.Context, container, blob string) error {
	return m.upsert(ctx, container, sql.NullString{String: blob, Valid: true})
}

// Delete implements store.Medium. The row is kept with a NULL blob so that the
// deletion still advances the version watchers poll.
func (m *Medium) Delete(ctx context.Context, container string) error {
	return m.upsert(ctx, container, sql.NullString{})
}

func (m *Medium) upsert(ctx context.Context, container string, blob sql.NullString) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO containers (name, blob, version, writer) VALUES (?, ?, 1, ?)
		ON CONFLICT(name) DO UPDATE SET
			blob = excluded.blob,
			version = containers.version + 1,
			writer = excluded.writer`,
		container, blob, m.id)
	if err != nil {
		return fmt.Errorf("sqlite medium: write %s: %w", container, err)
	}
	return nil
}

func (m *Medium) version(ctx context.Context, container string) (int64, string, error) {
	var v int64
	var writer string
	err := m.db.QueryRowContext(ctx, `SELECT version, writer FROM containers WHERE name = ?`, container).Scan(&v, &writer)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", nil
	}
	return v, writer, err
}

// Watch implements store.Medium by polling the container's version.
func (m *Medium) Watch(ctx context.Context, container string, fn func()) (func(), error) {
	seen, _, err := m.version(ctx, container)
	if err != nil {
		return nil, fmt.Errorf("sqlite medium: initial version of %s: %w", container, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	log := m.logger.With("medium", "sqlite", "container", container)
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			cur, writer, err := m.version(ctx, container)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("Version check failed.", "error", err)
				}
				continue
			}
			if cur == seen {
				continue
			}
			// A single step written by ourselves is our own write; anything
			// else means another context wrote in between.
			external := writer != m.id || cur != seen+1
			seen = cur
			if external && ctx.Err() == nil {
				fn()
			}
		}
	}()
	return cancel, nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' && i > 0 {
			return s[:i]
		}
	}
	return s
}
