// Package pubsub provides the listener registry shared by keyed-store change
// notifications and the messenger.
//
// A Feed is lazy: its underlying source is only started when the first
// subscriber arrives and is stopped when the last one leaves. It is
// restartable: subscribing again after every subscriber left starts the
// source again. Unsubscribing is idempotent and safe from inside the
// subscriber's own callback.
package pubsub

import (
	"sync"
	"sync/atomic"
)

// StartFunc starts an event source that forwards events to emit. The returned
// stop function must not block on the goroutine that calls emit, because it
// may be invoked from within a callback running on that goroutine.
type StartFunc[T any] func(emit func(T)) (stop func())

type subscriber[T any] struct {
	fn     func(T)
	active atomic.Bool
}

// Feed fans events out to subscribers.
type Feed[T any] struct {
	start StartFunc[T]

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber[T]
	order  []uint64
	stop   func()
}

// NewFeed returns a Feed backed by start. A nil start makes a Feed that only
// delivers events passed to Emit.
func NewFeed[T any](start StartFunc[T]) *Feed[T] {
	return &Feed[T]{start: start, subs: make(map[uint64]*subscriber[T])}
}

// Subscribe registers fn and returns its Subscription.
func (f *Feed[T]) Subscribe(fn func(T)) *Subscription {
	sub := &subscriber[T]{fn: fn}
	sub.active.Store(true)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = sub
	f.order = append(f.order, id)
	startSource := len(f.subs) == 1 && f.start != nil && f.stop == nil
	f.mu.Unlock()

	if startSource {
		stop := f.start(f.Emit)
		f.mu.Lock()
		if len(f.subs) == 0 {
			// Everyone left while the source was starting.
			f.mu.Unlock()
			stop()
		} else {
			f.stop = stop
			f.mu.Unlock()
		}
	}

	return &Subscription{cancel: func() { f.remove(id) }}
}

func (f *Feed[T]) remove(id uint64) {
	f.mu.Lock()
	sub, ok := f.subs[id]
	if !ok {
		f.mu.Unlock()
		return
	}
	sub.active.Store(false)
	delete(f.subs, id)
	for i, v := range f.order {
		if v == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	var stop func()
	if len(f.subs) == 0 {
		stop, f.stop = f.stop, nil
	}
	f.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// Emit delivers v to every active subscriber in subscription order. The
// subscriber list is snapshotted so callbacks may subscribe or unsubscribe.
func (f *Feed[T]) Emit(v T) {
	f.mu.Lock()
	snapshot := make([]*subscriber[T], 0, len(f.order))
	for _, id := range f.order {
		snapshot = append(snapshot, f.subs[id])
	}
	f.mu.Unlock()

	for _, sub := range snapshot {
		if sub.active.Load() {
			sub.fn(v)
		}
	}
}

// Len returns the number of active subscribers.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Running reports whether the underlying source is currently started.
func (f *Feed[T]) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stop != nil
}

// Subscription is the handle returned by Feed.Subscribe.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the subscriber. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}
