package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/vk/snippetrunner/internal/fault"
	"github.com/vk/snippetrunner/internal/pubsub"
)

// Change is emitted by a Store's Notify feed when another context mutated the
// store's container.
type Change struct {
	Container string
}

// Option customises a Store.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for load and watch diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Store is a KeyedStore of records of type T.
type Store[T any] struct {
	container string
	medium    Medium
	logger    *slog.Logger

	mu    sync.RWMutex
	items map[string]T

	changes *pubsub.Feed[Change]
}

// New returns an empty Store for container over medium. Call Load to hydrate
// it from the medium.
func New[T any](medium Medium, container string, opts ...Option) *Store[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Store[T]{
		container: container,
		medium:    medium,
		logger:    o.logger.With("container", container),
		items:     make(map[string]T),
	}
	s.changes = pubsub.NewFeed[Change](s.watch)
	return s
}

// Container returns the container name.
func (s *Store[T]) Container() string { return s.container }

// Get returns the record stored under key.
func (s *Store[T]) Get(key string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// Insert stores value under key, persists the container and returns value.
// The in-memory state is rolled back when persisting fails.
func (s *Store[T]) Insert(ctx context.Context, key string, value T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.items[key]
	s.items[key] = value
	if err := s.persistLocked(ctx); err != nil {
		if existed {
			s.items[key] = prev
		} else {
			delete(s.items, key)
		}
		var zero T
		return zero, err
	}
	return value, nil
}

// Remove deletes key, persists the container and returns the removed record.
// Removing a missing key is a NotFound error.
func (s *Store[T]) Remove(ctx context.Context, key string) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.items[key]
	if !ok {
		var zero T
		return zero, fault.Newf(fault.NotFound, "%q does not exist in %s", key, s.container)
	}
	delete(s.items, key)
	if err := s.persistLocked(ctx); err != nil {
		s.items[key] = prev
		var zero T
		return zero, err
	}
	return prev, nil
}

// Clear empties the store and deletes the container from the medium.
func (s *Store[T]) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.medium.Delete(ctx, s.container); err != nil {
		return fault.Wrap(fault.TransportFailure, err, "could not clear "+s.container)
	}
	s.items = make(map[string]T)
	return nil
}

// Keys returns the stored keys in ascending order.
func (s *Store[T]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedKeysLocked()
}

// Values returns the stored records ordered by key.
func (s *Store[T]) Values() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.items))
	for _, k := range s.sortedKeysLocked() {
		out = append(out, s.items[k])
	}
	return out
}

// Count returns the number of stored records.
func (s *Store[T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Load re-hydrates the store from the medium, fully replacing the in-memory
// state. A blob that does not deserialize leaves the store empty and is only
// logged. Errors are returned only when the medium itself fails.
func (s *Store[T]) Load(ctx context.Context) error {
	blob, ok, err := s.medium.Read(ctx, s.container)
	if err != nil {
		return fault.Wrap(fault.TransportFailure, err, "could not read "+s.container)
	}

	items := make(map[string]T)
	if ok && blob != "" {
		if err := json.Unmarshal([]byte(blob), &items); err != nil {
			s.logger.Warn("Discarding corrupt container contents.", "error", err, "bytes", len(blob))
			items = make(map[string]T)
		}
	}

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	return nil
}

// Notify returns the feed of external mutations of this container. The
// underlying medium watch starts with the first subscriber and stops with the
// last one.
func (s *Store[T]) Notify() *pubsub.Feed[Change] {
	return s.changes
}

func (s *Store[T]) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(s.items)
	if err != nil {
		return fault.Wrap(fault.Malformed, err, "record cannot be serialized")
	}
	if err := s.medium.Write(ctx, s.container, string(data)); err != nil {
		return fault.Wrap(fault.TransportFailure, fmt.Errorf("write %s: %w", s.container, err), "could not save changes")
	}
	return nil
}

func (s *Store[T]) sortedKeysLocked() []string {
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// watch adapts Medium.Watch to the pubsub start contract.
func (s *Store[T]) watch(emit func(Change)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	stop, err := s.medium.Watch(ctx, s.container, func() {
		emit(Change{Container: s.container})
	})
	if err != nil {
		s.logger.Error("Failed to watch container; external changes will only be seen on polling.", "error", err)
		return cancel
	}
	s.logger.Debug("Watching container for external changes.")
	return func() {
		stop()
		cancel()
	}
}
