// Package socketio carries messenger envelopes through a socket.io relay.
//
// Envelopes are emitted on the "message" event as
// {"origin": ..., "targetOrigin": ..., "data": "<envelope json>"}; the relay
// forwards them between the runner and the editor surfaces connected to it.
package socketio

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/vk/snippetrunner/internal/fault"
	"github.com/vk/snippetrunner/internal/messenger"
)

// MessageEvent is the socket.io event used for envelopes.
const MessageEvent = "message"

// Config describes a relay connection.
type Config struct {
	URL                string
	Namespace          string
	Origin             string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// Frame is the relay wire shape.
type Frame struct {
	Origin       string `json:"origin"`
	TargetOrigin string `json:"targetOrigin"`
	Data         string `json:"data"`
}

// Client is a messenger.Window and messenger.EventSource backed by a
// socket.io connection.
type Client struct {
	io     *socket.Socket
	origin string
	logger *slog.Logger

	mu        sync.Mutex
	listeners map[uint64]func(messenger.Event)
	nextID    uint64
}

// Connect dials the relay and waits for the connection to be acknowledged.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relay", "url", cfg.URL, "namespace", cfg.Namespace)

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse relay URL: %w", err)
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	c := &Client{
		io:        io,
		origin:    cfg.Origin,
		logger:    logger,
		listeners: make(map[uint64]func(messenger.Event)),
	}
	io.On(types.EventName(MessageEvent), c.onMessage)

	connectChan := make(chan error, 1)
	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Connected to relay", "sid", io.Id())
		select {
		case connectChan <- nil:
		default:
		}
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := fmt.Errorf("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case connectChan <- err:
		default:
		}
	})

	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fault.Wrap(fault.TransportFailure, err, "the relay connection failed")
		}
		return c, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for relay connection: %w", ctx.Err())
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fault.Newf(fault.TransportFailure, "timed out after %s waiting for the relay connection", timeout)
	}
}

// PostMessage emits data on the relay addressed to targetOrigin.
func (c *Client) PostMessage(data []byte, targetOrigin string) error {
	if !c.io.Connected() {
		return fmt.Errorf("relay socket is not connected")
	}
	c.io.Emit(MessageEvent, Frame{Origin: c.origin, TargetOrigin: targetOrigin, Data: string(data)})
	return nil
}

// AddListener registers fn for envelopes received from the relay.
func (c *Client) AddListener(fn func(messenger.Event)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Close disconnects from the relay.
func (c *Client) Close() {
	c.logger.Debug("Disconnecting relay client", "sid", c.io.Id())
	c.io.Disconnect()
}

func (c *Client) onMessage(args ...any) {
	if len(args) == 0 {
		return
	}
	frame, err := ParseFrame(args[0])
	if err != nil {
		c.logger.Debug("dropping relay frame", "error", err)
		return
	}
	if frame.TargetOrigin != messenger.Wildcard && frame.TargetOrigin != c.origin {
		return
	}

	c.mu.Lock()
	fns := make([]func(messenger.Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	ev := messenger.Event{Origin: frame.Origin, Data: []byte(frame.Data)}
	for _, fn := range fns {
		fn(ev)
	}
}

// ParseFrame accepts the shapes a socket.io decoder may hand over: the JSON
// text of a frame, its bytes, or an already decoded object.
func ParseFrame(arg any) (Frame, error) {
	var raw []byte
	switch v := arg.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Frame{}, fmt.Errorf("relay frame: %w", err)
		}
		raw = b
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("relay frame: %w", err)
	}
	if f.Origin == "" || f.Data == "" {
		return Frame{}, fmt.Errorf("relay frame: missing origin or data")
	}
	return f, nil
}
