// Package messenger exchanges tagged envelopes between a runner and the
// surfaces that drive it.
//
// A Messenger is bound to exactly one origin. Everything it sends is
// addressed to that origin and everything it receives from any other origin
// is dropped without notice. Transports only need to provide the Window and
// EventSource primitives.
package messenger

import (
	"fmt"
	"log/slog"

	"github.com/vk/snippetrunner/internal/fault"
	"github.com/vk/snippetrunner/internal/pubsub"
)

// Wildcard is the "any origin" target. Messenger never uses it.
const Wildcard = "*"

// Event is one received cross-document message.
type Event struct {
	Origin string
	Data   []byte
}

// Window is a target that messages can be posted to.
type Window interface {
	PostMessage(data []byte, targetOrigin string) error
}

// EventSource delivers received messages. The returned remove func must be
// safe to call more than once.
type EventSource interface {
	AddListener(fn func(Event)) (remove func())
}

// Messenger sends and receives envelopes for one origin.
type Messenger struct {
	origin string
	source EventSource
	feed   *pubsub.Feed[Message]
	logger *slog.Logger
}

// New returns a Messenger. source may be nil for a send-only Messenger.
func New(origin string, source EventSource, logger *slog.Logger) (*Messenger, error) {
	if origin == "" || origin == Wildcard {
		return nil, fmt.Errorf("messenger: an explicit origin is required, got %q", origin)
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Messenger{
		origin: origin,
		source: source,
		logger: logger.With("component", "messenger", "origin", origin),
	}
	m.feed = pubsub.NewFeed(m.start)
	return m, nil
}

// Origin returns the configured origin.
func (m *Messenger) Origin() string { return m.origin }

// Send posts p to target, addressed to the configured origin. A failing
// transport is reported as a TransportFailure.
func (m *Messenger) Send(target Window, p Payload) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}
	if target == nil {
		return fault.New(fault.TransportFailure, "there is no window to send to")
	}
	if err := target.PostMessage(data, m.origin); err != nil {
		return fault.Wrap(fault.TransportFailure, err, "the message could not be delivered")
	}
	return nil
}

// Listen returns the stream of received messages. The underlying event
// listener is attached when the first subscriber arrives and detached when
// the last one leaves; the stream can be subscribed to again afterwards.
func (m *Messenger) Listen() *pubsub.Feed[Message] {
	return m.feed
}

// Subscribe delivers received messages of payload type T to fn.
func Subscribe[T Payload](m *Messenger, fn func(T)) *pubsub.Subscription {
	return m.feed.Subscribe(func(msg Message) {
		if p, ok := msg.Payload.(T); ok {
			fn(p)
		}
	})
}

func (m *Messenger) start(emit func(Message)) func() {
	if m.source == nil {
		return func() {}
	}
	return m.source.AddListener(func(ev Event) {
		if ev.Origin != m.origin {
			return
		}
		msg, err := Decode(ev.Data)
		if err != nil {
			m.logger.Debug("dropping undecodable message", "error", err)
			return
		}
		emit(msg)
	})
}
