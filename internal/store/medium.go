package store

import (
	"context"
	"errors"
)

// ErrClosed is returned by a Medium that has been closed.
var ErrClosed = errors.New("store: medium closed")

// Medium is the persistence medium consumed by a Store: synchronous get/set of
// one opaque blob per container plus an external-change event stream.
//
// Each Medium value represents one context (one editor or runner). Watch
// reports mutations made through any other Medium value sharing the same
// physical storage; mutations made through the watching value itself are not
// reported.
type Medium interface {
	// Read returns the blob stored for container. ok is false when nothing
	// has been stored.
	Read(ctx context.Context, container string) (blob string, ok bool, err error)
	// Write replaces the blob stored for container.
	Write(ctx context.Context, container, blob string) error
	// Delete removes the blob stored for container.
	Delete(ctx context.Context, container string) error
	// Watch invokes fn once per external mutation of container, in write
	// order, until stop is called or ctx is done. Implementations may
	// coalesce bursts of mutations into a single call. stop must not block
	// on an fn invocation in progress.
	Watch(ctx context.Context, container string, fn func()) (stop func(), err error)
}

// Forker is implemented by media that can open further handles on the same
// physical storage. Each handle has its own writer identity, so writes made
// through one are reported to watchers on the others.
type Forker interface {
	Fork() Medium
}

// Fork returns a new handle on the storage behind m. A Medium that does not
// implement Forker is returned unchanged.
func Fork(m Medium) Medium {
	if f, ok := m.(Forker); ok {
		return f.Fork()
	}
	return m
}
