// Package heartbeat keeps a runner page consistent with the editor's latest
// save of the snippet it shows.
//
// A Controller re-checks storage on a fixed interval and whenever the
// snippets or settings container is changed by another context. When the
// tracked snippet's modifiedAt differs from what the runner last rendered,
// it is recompiled and sent to the runner: SNIPPET_LOAD when nothing was
// rendered yet, SNIPPET_STALE otherwise. A REFRESH_REQUEST from the driving
// surface makes the controller jump to another snippet.
//
// Which snippet is tracked is resolved in this order:
//
//  1. the tracked id, looked up in the snippets container;
//  2. the tracked id, matched against the settings' last-opened snippet;
//  3. with no tracked id, the last-opened snippet itself.
//
// When nothing resolves the controller reports one error and stays Missing
// until a refresh request arrives.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/vk/snippetrunner/internal/compiler"
	"github.com/vk/snippetrunner/internal/fault"
	"github.com/vk/snippetrunner/internal/messenger"
	"github.com/vk/snippetrunner/internal/model"
	"github.com/vk/snippetrunner/internal/pubsub"
	"github.com/vk/snippetrunner/internal/scheduler"
	"github.com/vk/snippetrunner/internal/store"
)

// DefaultInterval is the polling interval used when Config.Interval is zero.
const DefaultInterval = time.Second

// Compiler compiles a resolved snippet. *compiler.Compiler implements it.
type Compiler interface {
	Compile(ctx context.Context, snippet *model.Snippet, post compiler.PostData) (*compiler.Context, error)
}

// Config wires a Controller.
type Config struct {
	// Host selects the snippets container.
	Host string
	// SnippetID and LastModified come from the request that opened the
	// runner. An empty id starts Unbound; a zero LastModified means nothing
	// has been rendered yet.
	SnippetID    string
	LastModified int64

	Interval time.Duration

	Medium    store.Medium
	Compiler  Compiler
	Messenger *messenger.Messenger
	// Target is the window the runner listens on.
	Target messenger.Window
	// Request holds the runner's post-data fields (runnerUrl, returnUrl and
	// any extras). The id is filled in per resolved snippet.
	Request url.Values

	Logger *slog.Logger
}

func (c *Config) validate() error {
	var errs []error
	if c.Medium == nil {
		errs = append(errs, errors.New("medium is required"))
	}
	if c.Compiler == nil {
		errs = append(errs, errors.New("compiler is required"))
	}
	if c.Messenger == nil {
		errs = append(errs, errors.New("messenger is required"))
	}
	if c.Target == nil {
		errs = append(errs, errors.New("target window is required"))
	}
	if model.NormalizeHost(c.Host) == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Interval < 0 {
		errs = append(errs, fmt.Errorf("interval must not be negative, got %s", c.Interval))
	}
	return errors.Join(errs...)
}

// Controller is one runner session's heartbeat.
type Controller struct {
	cfg      Config
	logger   *slog.Logger
	snippets *store.Store[model.Snippet]
	settings *store.Store[model.Settings]

	mu      sync.Mutex
	state   State
	tracked Tracked

	lifecycle sync.Mutex
	task      *scheduler.Task
	subs      []*pubsub.Subscription
}

// New returns an idle Controller. Call Start to begin.
func New(cfg Config) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid heartbeat configuration: %w", err)
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "heartbeat", "host", model.NormalizeHost(cfg.Host))

	c := &Controller{
		cfg:      cfg,
		logger:   logger,
		snippets: store.New[model.Snippet](cfg.Medium, model.SnippetsContainer(cfg.Host), store.WithLogger(logger)),
		settings: store.New[model.Settings](cfg.Medium, model.SettingsContainer, store.WithLogger(logger)),
		tracked:  Tracked{ID: cfg.SnippetID, LastModified: cfg.LastModified},
	}
	if cfg.SnippetID != "" {
		c.state = Tracking
	}
	return c, nil
}

// Start announces the session, subscribes to storage changes and refresh
// requests, and starts polling. The first check runs immediately.
func (c *Controller) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.task != nil {
		return errors.New("heartbeat already started")
	}

	c.send(messenger.HeartbeatInitialized{})

	c.subs = append(c.subs,
		c.snippets.Notify().Subscribe(func(store.Change) {
			c.guard(ctx, "snippets change", func(ctx context.Context) error { return c.sync(ctx, c.snippets.Container()) })
		}),
		c.settings.Notify().Subscribe(func(store.Change) {
			c.guard(ctx, "settings change", func(ctx context.Context) error { return c.sync(ctx, model.SettingsContainer) })
		}),
		messenger.Subscribe(c.cfg.Messenger, func(r messenger.RefreshRequest) {
			c.guard(ctx, "refresh request", func(ctx context.Context) error { return c.Refresh(ctx, r.ID) })
		}),
	)

	task, err := scheduler.Every(ctx, c.cfg.Interval, c.Tick, scheduler.Options{
		Immediate: true,
		OnError:   c.report,
	})
	if err != nil {
		c.unsubscribeLocked()
		return err
	}
	c.task = task
	c.logger.InfoContext(ctx, "Heartbeat started.", "snippet", c.cfg.SnippetID, "interval", c.cfg.Interval)
	return nil
}

// Stop cancels polling and drops every subscription. It is idempotent.
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.task != nil {
		c.task.Cancel()
		c.task.Wait()
	}
	c.unsubscribeLocked()
}

func (c *Controller) unsubscribeLocked() {
	for _, s := range c.subs {
		s.Unsubscribe()
	}
	c.subs = nil
}

// Done is closed when polling has stopped. It is nil before Start.
func (c *Controller) Done() <-chan struct{} {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.task == nil {
		return nil
	}
	return c.task.Done()
}

// Snapshot returns the current state and tracking record.
func (c *Controller) Snapshot() (State, Tracked) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.tracked
}

// Tick reloads both containers and re-checks the tracked snippet.
func (c *Controller) Tick(ctx context.Context) error {
	return c.sync(ctx, c.snippets.Container(), model.SettingsContainer)
}

// Refresh makes id the tracked snippet with nothing rendered, leaving any
// Missing state, and checks it right away.
func (c *Controller) Refresh(ctx context.Context, id string) error {
	c.mu.Lock()
	c.tracked = Tracked{ID: id}
	c.state = Unbound
	if id != "" {
		c.state = Tracking
	}
	c.mu.Unlock()
	c.logger.InfoContext(ctx, "Refresh requested.", "snippet", id)
	return c.sync(ctx, c.snippets.Container(), model.SettingsContainer)
}

// sync reloads the named containers and runs one check.
func (c *Controller) sync(ctx context.Context, containers ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Missing {
		return nil
	}
	for _, name := range containers {
		var err error
		switch name {
		case c.snippets.Container():
			err = c.snippets.Load(ctx)
		case model.SettingsContainer:
			err = c.settings.Load(ctx)
		}
		if err != nil {
			return err
		}
	}
	return c.checkLocked(ctx)
}

func (c *Controller) checkLocked(ctx context.Context) error {
	snippet, ok := c.resolveLocked()
	if !ok {
		c.logger.WarnContext(ctx, "Tracked snippet cannot be resolved.", "snippet", c.tracked.ID)
		id := c.tracked.ID
		c.state = Missing
		c.tracked = Tracked{}
		msg := "There is no snippet to run. Open a snippet in the editor and try again."
		if id != "" {
			msg = fmt.Sprintf("The snippet %q no longer exists. It may have been deleted.", id)
		}
		c.send(messenger.ErrorMessage{Message: msg})
		return nil
	}

	if c.tracked.ID == "" {
		c.tracked.ID = snippet.ID
	}
	if snippet.ModifiedAt == c.tracked.LastModified {
		c.state = Tracking
		return nil
	}

	first := c.tracked.LastModified == 0
	c.state = Stale
	defer func() {
		if c.state == Stale {
			c.state = Tracking
		}
	}()

	compiled, err := c.compile(ctx, &snippet)
	if err != nil {
		c.tracked.LastModified = snippet.ModifiedAt
		c.logger.WarnContext(ctx, "Snippet failed to compile.", "snippet", snippet.ID, "error", err)
		c.send(messenger.ErrorMessage{Message: fault.UserMessage(err, "The snippet could not be compiled.")})
		return nil
	}

	var p messenger.Payload = messenger.SnippetStale{Snippet: snippet.Summarize(), Context: compiled}
	if first {
		p = messenger.SnippetLoad{Snippet: snippet.Summarize(), Context: compiled}
	}
	if err := c.cfg.Messenger.Send(c.cfg.Target, p); err != nil {
		c.logger.WarnContext(ctx, "Failed to send snippet; retrying on next tick.", "type", p.MessageType(), "error", err)
		return nil
	}
	c.logger.DebugContext(ctx, "Snippet sent.", "type", p.MessageType(), "snippet", snippet.ID,
		"from", c.tracked.LastModified, "to", snippet.ModifiedAt)
	c.tracked.LastModified = snippet.ModifiedAt
	return nil
}

// resolveLocked applies the tracking precedence.
func (c *Controller) resolveLocked() (model.Snippet, bool) {
	var lastOpened *model.Snippet
	if settings, ok := c.settings.Get(model.SettingsKey); ok {
		lastOpened = settings.LastOpenedFor(c.cfg.Host)
	}

	if c.tracked.ID != "" {
		if s, ok := c.snippets.Get(c.tracked.ID); ok {
			return s, true
		}
		if lastOpened != nil && lastOpened.ID == c.tracked.ID {
			return *lastOpened, true
		}
		return model.Snippet{}, false
	}
	if lastOpened != nil && lastOpened.ID != "" {
		return *lastOpened, true
	}
	return model.Snippet{}, false
}

func (c *Controller) compile(ctx context.Context, snippet *model.Snippet) (*compiler.Context, error) {
	values := url.Values{}
	for k, v := range c.cfg.Request {
		values[k] = append([]string(nil), v...)
	}
	values.Set(compiler.KeyID, snippet.ID)
	if values.Get(compiler.KeyHost) == "" {
		values.Set(compiler.KeyHost, model.NormalizeHost(c.cfg.Host))
	}
	post, err := compiler.ParsePostData(values)
	if err != nil {
		return nil, err
	}
	return c.cfg.Compiler.Compile(ctx, snippet, post)
}

// guard runs an event handler inside the same boundary as polling ticks.
func (c *Controller) guard(ctx context.Context, what string, fn scheduler.Func) {
	if err := scheduler.Safely(ctx, fn); err != nil {
		c.report(ctx, fmt.Errorf("%s: %w", what, err))
	}
}

// report logs a handler failure and forwards it to the runner as a LOG
// message.
func (c *Controller) report(ctx context.Context, err error) {
	c.logger.ErrorContext(ctx, "Heartbeat handler failed.", "error", err)
	c.send(messenger.LogMessage{Severity: messenger.SeverityError, Message: err.Error()})
}

func (c *Controller) send(p messenger.Payload) {
	if err := c.cfg.Messenger.Send(c.cfg.Target, p); err != nil {
		c.logger.Warn("Failed to send message.", "type", p.MessageType(), "error", err)
	}
}
