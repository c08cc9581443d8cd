// Package memory provides an in-process persistence medium. A Space plays the
// role of shared physical storage; each Medium obtained from it plays the role
// of one browser context, so writes made through one Medium are reported to
// the watchers of every other Medium of the same Space.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vk/snippetrunner/internal/store"
)

// queueSize bounds the per-watcher backlog. When it is full further events are
// coalesced into the ones already queued.
const queueSize = 64

// Space is shared storage for any number of Medium handles.
type Space struct {
	mu       sync.RWMutex
	blobs    map[string]string
	watchers map[string]map[*watcher]struct{}
}

// NewSpace returns empty shared storage.
func NewSpace() *Space {
	return &Space{
		blobs:    make(map[string]string),
		watchers: make(map[string]map[*watcher]struct{}),
	}
}

// Medium returns a new context handle over the space.
func (sp *Space) Medium() *Medium {
	return &Medium{space: sp, id: uuid.NewString()}
}

// Raw returns the blob stored for container, bypassing every handle. It is
// meant for tests and diagnostics.
func (sp *Space) Raw(container string) (string, bool) {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	b, ok := sp.blobs[container]
	return b, ok
}

// SetRaw overwrites a container without notifying anyone.
func (sp *Space) SetRaw(container, blob string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.blobs[container] = blob
}

type watcher struct {
	owner string
	queue chan struct{}
	done  chan struct{}
	once  sync.Once
}

func (w *watcher) close() {
	w.once.Do(func() { close(w.done) })
}

// Medium is one context's view of a Space.
type Medium struct {
	space *Space
	id    string
}

var _ store.Medium = (*Medium)(nil)

// ID returns the writer identity of this handle.
func (m *Medium) ID() string { return m.id }

// Fork implements store.Forker.
func (m *Medium) Fork() store.Medium { return m.space.Medium() }

// Read implements store.Medium.
func (m *Medium) Read(_ context.Context, container string) (string, bool, error) {
	b, ok := m.space.Raw(container)
	return b, ok, nil
}

// Write implements store.Medium.
func (m *Medium) Write(_ context.Context, container, blob string) error {
	m.space.mu.Lock()
	m.space.blobs[container] = blob
	targets := m.space.targetsLocked(container, m.id)
	m.space.mu.Unlock()

	notify(targets)
	return nil
}

// Delete implements store.Medium.
func (m *Medium) Delete(_ context.Context, container string) error {
	m.space.mu.Lock()
	delete(m.space.blobs, container)
	targets := m.space.targetsLocked(container, m.id)
	m.space.mu.Unlock()

	notify(targets)
	return nil
}

// Watch implements store.Medium.
func (m *Medium) Watch(ctx context.Context, container string, fn func()) (func(), error) {
	w := &watcher{owner: m.id, queue: make(chan struct{}, queueSize), done: make(chan struct{})}

	m.space.mu.Lock()
	set, ok := m.space.watchers[container]
	if !ok {
		set = make(map[*watcher]struct{})
		m.space.watchers[container] = set
	}
	set[w] = struct{}{}
	m.space.mu.Unlock()

	go func() {
		defer m.space.unregister(container, w)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case <-w.queue:
				select {
				case <-w.done:
					return
				default:
				}
				fn()
			}
		}
	}()

	return w.close, nil
}

func (sp *Space) targetsLocked(container, writer string) []*watcher {
	var out []*watcher
	for w := range sp.watchers[container] {
		if w.owner != writer {
			out = append(out, w)
		}
	}
	return out
}

func (sp *Space) unregister(container string, w *watcher) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	delete(sp.watchers[container], w)
}

func notify(targets []*watcher) {
	for _, w := range targets {
		select {
		case w.queue <- struct{}{}:
		default:
		}
	}
}
