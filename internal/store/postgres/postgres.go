// Package postgres provides a persistence medium backed by PostgreSQL. Every
// mutation bumps the container's version and raises a NOTIFY in the same
// transaction; Watch holds a dedicated connection that LISTENs for them.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vk/snippetrunner/internal/store"
)

// Channel is the NOTIFY channel carrying container changes.
const Channel = "snippetrunner_changes"

const schema = `
CREATE TABLE IF NOT EXISTS snippet_containers (
	name    TEXT PRIMARY KEY,
	blob    TEXT,
	version BIGINT NOT NULL DEFAULT 0,
	writer  TEXT NOT NULL DEFAULT ''
)`

type notification struct {
	Container string `json:"container"`
	Writer    string `json:"writer"`
}

// Medium is one context's handle on the database.
type Medium struct {
	pool   *pgxpool.Pool
	owned  bool
	id     string
	logger *slog.Logger
}

var _ store.Medium = (*Medium)(nil)

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Medium, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres medium: connect: %w", err)
	}
	m, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	m.owned = true
	return m, nil
}

// New wraps an existing pool and ensures the schema exists.
func New(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*Medium, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("postgres medium: schema: %w", err)
	}
	return &Medium{pool: pool, id: uuid.NewString(), logger: logger}, nil
}

// Fork implements store.Forker. The fork shares the pool and never closes it.
func (m *Medium) Fork() store.Medium {
	return &Medium{pool: m.pool, id: uuid.NewString(), logger: m.logger}
}

// Close closes the pool when this Medium opened it.
func (m *Medium) Close() {
	if m.owned {
		m.pool.Close()
	}
}

// Read implements store.Medium.
func (m *Medium) Read(ctx context.Context, container string) (string, bool, error) {
	var blob *string
	err := m.pool.QueryRow(ctx, `SELECT blob FROM snippet_containers WHERE name = $1`, container).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres medium: read %s: %w", container, err)
	}
	if blob == nil {
		return "", false, nil
	}
	return *blob, true, nil
}

// Write implements store.Medium.
func (m *Medium) Write(ctx context.Context, container, blob string) error {
	return m.upsert(ctx, container, &blob)
}

// Delete implements store.Medium.
func (m *Medium) Delete(ctx context.Context, container string) error {
	return m.upsert(ctx, container, nil)
}

func (m *Medium) upsert(ctx context.Context, container string, blob *string) error {
	payload, err := json.Marshal(notification{Container: container, Writer: m.id})
	if err != nil {
		return err
	}
	err = pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO snippet_containers (name, blob, version, writer) VALUES ($1, $2, 1, $3)
			ON CONFLICT (name) DO UPDATE SET
				blob = EXCLUDED.blob,
				version = snippet_containers.version + 1,
				writer = EXCLUDED.writer`,
			container, blob, m.id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, Channel, string(payload))
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres medium: write %s: %w", container, err)
	}
	return nil
}

// Watch implements store.Medium with LISTEN/NOTIFY on a dedicated connection.
func (m *Medium) Watch(ctx context.Context, container string, fn func()) (func(), error) {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres medium: acquire listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("postgres medium: listen: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	log := m.logger.With("medium", "postgres", "container", container)
	go func() {
		// The connection is left in LISTEN state, so it is destroyed
		// rather than returned to the pool.
		defer func() {
			conn.Conn().Close(context.Background())
			conn.Release()
		}()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Error("Listener failed; external changes will only be seen on polling.", "error", err)
				}
				return
			}
			var note notification
			if err := json.Unmarshal([]byte(n.Payload), &note); err != nil {
				log.Warn("Ignoring malformed notification.", "payload", n.Payload)
				continue
			}
			if note.Container != container || note.Writer == m.id {
				continue
			}
			fn()
		}
	}()
	return cancel, nil
}
