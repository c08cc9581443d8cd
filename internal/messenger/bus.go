package messenger

import (
	"errors"
	"sync"
)

var errPortClosed = errors.New("messenger: window is closed")

// Bus connects in-process windows. Delivery is asynchronous and ordered per
// receiving window, mirroring cross-document messaging.
type Bus struct {
	mu    sync.Mutex
	ports []*Port
}

// NewBus returns an empty Bus.
func NewBus() *Bus { return &Bus{} }

// Open creates a window at origin.
func (b *Bus) Open(origin string) *Port {
	p := &Port{
		origin:    origin,
		listeners: make(map[uint64]func(Event)),
		queue:     make(chan Event, 128),
		done:      make(chan struct{}),
	}
	go p.dispatch()
	b.mu.Lock()
	b.ports = append(b.ports, p)
	b.mu.Unlock()
	return p
}

// Close closes every window opened on the bus.
func (b *Bus) Close() {
	b.mu.Lock()
	ports := b.ports
	b.ports = nil
	b.mu.Unlock()
	for _, p := range ports {
		p.Close()
	}
}

// Port is one in-process window. It is an EventSource for the messages
// posted to it.
type Port struct {
	origin string

	mu        sync.Mutex
	listeners map[uint64]func(Event)
	nextID    uint64

	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Origin returns the window's origin.
func (p *Port) Origin() string { return p.origin }

// To returns a handle for posting from p to target.
func (p *Port) To(target *Port) Window {
	return postHandle{from: p, to: target}
}

// AddListener registers fn for messages delivered to p.
func (p *Port) AddListener(fn func(Event)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// Listeners reports how many listeners are attached.
func (p *Port) Listeners() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// Close stops delivery. Pending messages are discarded.
func (p *Port) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *Port) deliver(ev Event) error {
	select {
	case <-p.done:
		return errPortClosed
	default:
	}
	select {
	case p.queue <- ev:
		return nil
	case <-p.done:
		return errPortClosed
	}
}

func (p *Port) dispatch() {
	for {
		select {
		case <-p.done:
			return
		case ev := <-p.queue:
			p.mu.Lock()
			fns := make([]func(Event), 0, len(p.listeners))
			for _, fn := range p.listeners {
				fns = append(fns, fn)
			}
			p.mu.Unlock()
			for _, fn := range fns {
				fn(Event{Origin: ev.Origin, Data: append([]byte(nil), ev.Data...)})
			}
		}
	}
}

type postHandle struct {
	from, to *Port
}

// PostMessage drops the message when targetOrigin does not match the target
// window, the way browsers do.
func (h postHandle) PostMessage(data []byte, targetOrigin string) error {
	if targetOrigin != Wildcard && targetOrigin != h.to.origin {
		return nil
	}
	return h.to.deliver(Event{Origin: h.from.origin, Data: append([]byte(nil), data...)})
}
