package app

import (
	"context"
	"fmt"

	"github.com/vk/snippetrunner/internal/config"
	"github.com/vk/snippetrunner/internal/ctxlog"
	"github.com/vk/snippetrunner/internal/store"
	"github.com/vk/snippetrunner/internal/store/memory"
	"github.com/vk/snippetrunner/internal/store/postgres"
	"github.com/vk/snippetrunner/internal/store/redis"
	"github.com/vk/snippetrunner/internal/store/sqlite"
)

// openMedium opens the configured storage driver. The returned close func is
// never nil.
func openMedium(ctx context.Context, cfg config.Store) (store.Medium, func() error, error) {
	logger := ctxlog.FromContext(ctx).With("driver", cfg.Driver)
	noop := func() error { return nil }

	switch cfg.Driver {
	case config.DriverMemory, "":
		logger.Warn("Using in-memory storage; snippets are lost on restart.")
		return memory.NewSpace().Medium(), noop, nil
	case config.DriverSQLite:
		m, err := sqlite.Open(ctx, cfg.DSN, sqlite.WithPollInterval(cfg.PollInterval), sqlite.WithLogger(logger))
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return m, m.Close, nil
	case config.DriverRedis:
		m, err := redis.Open(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open redis storage: %w", err)
		}
		return m, m.Close, nil
	case config.DriverPostgres:
		m, err := postgres.Open(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		return m, func() error { m.Close(); return nil }, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
