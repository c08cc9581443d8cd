// Package wsport carries messenger envelopes over a websocket connection.
//
// The peer's origin is taken from the handshake: the Origin header for
// accepted connections and the dialed URL for outgoing ones. Every received
// frame is reported with that origin, so the Messenger's origin check applies
// unchanged.
package wsport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vk/snippetrunner/internal/messenger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 4 << 20
)

// Port is both a messenger.Window and a messenger.EventSource for one
// websocket connection.
type Port struct {
	conn       *websocket.Conn
	peerOrigin string
	logger     *slog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	listeners map[uint64]func(messenger.Event)
	nextID    uint64

	closeOnce sync.Once
	done      chan struct{}
}

// Upgrader accepts every handshake. Origin filtering is the Messenger's job.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Accept upgrades an HTTP request.
func Accept(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*Port, error) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("wsport: upgrade: %w", err)
	}
	return newPort(conn, r.Header.Get("Origin"), logger), nil
}

// Dial connects to rawURL presenting origin as this side's Origin header.
func Dial(ctx context.Context, rawURL, origin string, logger *slog.Logger) (*Port, error) {
	peer, err := OriginOf(rawURL)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, fmt.Errorf("wsport: dial %s: %w", rawURL, err)
	}
	return newPort(conn, peer, logger), nil
}

// OriginOf returns the web origin of a ws(s) or http(s) URL.
func OriginOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("wsport: parse %q: %w", rawURL, err)
	}
	scheme := u.Scheme
	switch scheme {
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("wsport: unsupported scheme %q", u.Scheme)
	}
	return scheme + "://" + u.Host, nil
}

func newPort(conn *websocket.Conn, peerOrigin string, logger *slog.Logger) *Port {
	if logger == nil {
		logger = slog.Default()
	}
	return &Port{
		conn:       conn,
		peerOrigin: peerOrigin,
		logger:     logger.With("component", "wsport", "peer", peerOrigin),
		listeners:  make(map[uint64]func(messenger.Event)),
		done:       make(chan struct{}),
	}
}

// PeerOrigin is the origin reported for received frames.
func (p *Port) PeerOrigin() string { return p.peerOrigin }

// PostMessage writes data as one text frame. Messages addressed to another
// origin than the peer's are dropped.
func (p *Port) PostMessage(data []byte, targetOrigin string) error {
	if targetOrigin != messenger.Wildcard && targetOrigin != p.peerOrigin {
		p.logger.Debug("dropping message for another origin", "target", targetOrigin)
		return nil
	}
	select {
	case <-p.done:
		return net.ErrClosed
	default:
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// AddListener registers fn for received frames.
func (p *Port) AddListener(fn func(messenger.Event)) func() {
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

// Run reads frames until the connection fails or ctx is done, then closes
// the port. A normal close by the peer returns nil.
func (p *Port) Run(ctx context.Context) error {
	defer p.Close()

	p.conn.SetReadLimit(maxMessage)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go p.keepalive(ctx)

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
				return nil
			default:
			}
			if ctx.Err() != nil || isClosed(err) {
				return nil
			}
			return fmt.Errorf("wsport: read: %w", err)
		}
		p.dispatch(messenger.Event{Origin: p.peerOrigin, Data: data})
	}
}

func (p *Port) dispatch(ev messenger.Event) {
	p.mu.Lock()
	fns := make([]func(messenger.Event), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (p *Port) keepalive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Close()
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.writeMu.Lock()
			err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			p.writeMu.Unlock()
			if err != nil {
				p.logger.Debug("ping failed", "error", err)
				p.Close()
				return
			}
		}
	}
}

// Done is closed once the port is closed.
func (p *Port) Done() <-chan struct{} { return p.done }

// Close sends a close frame and closes the connection. It is idempotent.
func (p *Port) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.writeMu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		p.writeMu.Unlock()
		_ = p.conn.Close()
	})
}

func isClosed(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
