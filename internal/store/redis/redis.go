// Package redis provides a persistence medium backed by Redis. Blobs are plain
// string keys; every mutation is published on a per-container channel with the
// writer's identity as payload so that watchers can skip their own writes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/vk/snippetrunner/internal/store"
)

// DefaultPrefix namespaces every key and channel used by the medium.
const DefaultPrefix = "snippetrunner"

// Medium is one context's handle on a Redis server.
type Medium struct {
	client *goredis.Client
	prefix string
	id     string
	logger *slog.Logger
	// forked handles share the client of the handle they came from.
	forked bool
}

var _ store.Medium = (*Medium)(nil)

// Open parses a redis:// URL and returns a Medium owning the client.
func Open(ctx context.Context, url string, logger *slog.Logger) (*Medium, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis medium: parse url: %w", err)
	}
	client := goredis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis medium: ping: %w", err)
	}
	return New(client, DefaultPrefix, logger), nil
}

// New wraps an existing client.
func New(client *goredis.Client, prefix string, logger *slog.Logger) *Medium {
	if logger == nil {
		logger = slog.Default()
	}
	return &Medium{client: client, prefix: prefix, id: uuid.NewString(), logger: logger}
}

// Fork implements store.Forker. The fork shares the client and its Close is
// a no-op.
func (m *Medium) Fork() store.Medium {
	return &Medium{client: m.client, prefix: m.prefix, id: uuid.NewString(), logger: m.logger, forked: true}
}

// Close closes the underlying client. It does nothing on a fork.
func (m *Medium) Close() error {
	if m.forked {
		return nil
	}
	return m.client.Close()
}

func (m *Medium) key(container string) string {
	return m.prefix + ":container:" + container
}

func (m *Medium) channel(container string) string {
	return m.prefix + ":changes:" + container
}

// Read implements store.Medium.
func (m *Medium) Read(ctx context.Context, container string) (string, bool, error) {
	blob, err := m.client.Get(ctx, m.key(container)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis medium: get %s: %w", container, err)
	}
	return blob, true, nil
}

// Write implements store.Medium.
func (m *Medium) Write(ctx context.Context, container, blob string) error {
	_, err := m.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, m.key(container), blob, 0)
		p.Publish(ctx, m.channel(container), m.id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis medium: set %s: %w", container, err)
	}
	return nil
}

// Delete implements store.Medium.
func (m *Medium) Delete(ctx context.Context, container string) error {
	_, err := m.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, m.key(container))
		p.Publish(ctx, m.channel(container), m.id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis medium: del %s: %w", container, err)
	}
	return nil
}

// Watch implements store.Medium with a pub/sub subscription.
func (m *Medium) Watch(ctx context.Context, container string, fn func()) (func(), error) {
	sub := m.client.Subscribe(ctx, m.channel(container))
	// Wait for the subscription to be confirmed so no publish is missed.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("redis medium: subscribe %s: %w", container, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	log := m.logger.With("medium", "redis", "container", container)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					log.Debug("Subscription channel closed.")
					return
				}
				if msg.Payload == m.id || ctx.Err() != nil {
					continue
				}
				fn()
			}
		}
	}()
	return cancel, nil
}
