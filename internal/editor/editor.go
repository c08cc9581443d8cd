// Package editor implements the editor-side snippet operations: every write
// stamps a strictly increasing modifiedAt, which is what runner heartbeats
// compare against.
package editor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vk/snippetrunner/internal/fault"
	"github.com/vk/snippetrunner/internal/messenger"
	"github.com/vk/snippetrunner/internal/model"
	"github.com/vk/snippetrunner/internal/store"
)

// DefaultScript is the script of a newly created snippet.
const DefaultScript = `document.getElementById("run").onclick = () => console.log("Hello world");`

// DefaultTemplate is the template of a newly created snippet.
const DefaultTemplate = `<button id="run">Run</button>`

// Option customises a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMessenger enables RequestRefresh.
func WithMessenger(m *messenger.Messenger) Option {
	return func(s *Service) { s.messenger = m }
}

// Service performs editor operations against a medium.
type Service struct {
	medium    store.Medium
	now       func() time.Time
	logger    *slog.Logger
	messenger *messenger.Messenger

	mu       sync.Mutex
	settings *store.Store[model.Settings]
	byHost   map[string]*store.Store[model.Snippet]
}

// New returns a Service over medium.
func New(medium store.Medium, opts ...Option) *Service {
	s := &Service{
		medium: medium,
		now:    time.Now,
		logger: slog.Default(),
		byHost: make(map[string]*store.Store[model.Snippet]),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "editor")
	s.settings = store.New[model.Settings](medium, model.SettingsContainer, store.WithLogger(s.logger))
	return s
}

func (s *Service) snippetsLocked(host string) *store.Store[model.Snippet] {
	host = model.NormalizeHost(host)
	st, ok := s.byHost[host]
	if !ok {
		st = store.New[model.Snippet](s.medium, model.SnippetsContainer(host), store.WithLogger(s.logger))
		s.byHost[host] = st
	}
	return st
}

// loadLocked re-reads the host's snippets and the settings so that writes
// made by other contexts are never overwritten.
func (s *Service) loadLocked(ctx context.Context, host string) (*store.Store[model.Snippet], error) {
	snippets := s.snippetsLocked(host)
	if err := snippets.Load(ctx); err != nil {
		return nil, err
	}
	if err := s.settings.Load(ctx); err != nil {
		return nil, err
	}
	return snippets, nil
}

func (s *Service) nowMillis() int64 { return s.now().UnixMilli() }

// nextModified returns a timestamp strictly greater than prev.
func (s *Service) nextModified(prev int64) int64 {
	return max(s.nowMillis(), prev+1)
}

func validHost(host string) (string, error) {
	h := model.NormalizeHost(host)
	if h == "" {
		return "", fault.New(fault.Malformed, "a host is required")
	}
	return h, nil
}

// Create stores a new snippet with a fresh id and opens it.
func (s *Service) Create(ctx context.Context, host, name string) (model.Snippet, error) {
	h, err := validHost(host)
	if err != nil {
		return model.Snippet{}, err
	}
	if strings.TrimSpace(name) == "" {
		name = "Blank snippet"
	}
	now := s.nowMillis()
	snippet := model.Snippet{
		ID:         uuid.NewString(),
		Name:       name,
		Host:       h,
		CreatedAt:  now,
		ModifiedAt: now,
		Script:     model.Code{Content: DefaultScript, Language: "typescript"},
		Template:   model.Code{Content: DefaultTemplate, Language: "html"},
		Style:      model.Code{Language: "css"},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snippets, err := s.loadLocked(ctx, h)
	if err != nil {
		return model.Snippet{}, err
	}
	if _, err := snippets.Insert(ctx, snippet.ID, snippet); err != nil {
		return model.Snippet{}, err
	}
	if err := s.setLastOpenedLocked(ctx, &snippet); err != nil {
		return model.Snippet{}, err
	}
	s.logger.InfoContext(ctx, "Snippet created.", "snippet", snippet.ID, "host", h)
	return snippet, nil
}

// Save persists snippet. Its modifiedAt becomes strictly greater than the
// stored one, and the settings' last-opened copy follows when it refers to
// the same id.
func (s *Service) Save(ctx context.Context, snippet model.Snippet) (model.Snippet, error) {
	h, err := validHost(snippet.Host)
	if err != nil {
		return model.Snippet{}, err
	}
	if snippet.ID == "" {
		return model.Snippet{}, fault.New(fault.Malformed, "the snippet has no id")
	}
	snippet.Host = h

	s.mu.Lock()
	defer s.mu.Unlock()
	snippets, err := s.loadLocked(ctx, h)
	if err != nil {
		return model.Snippet{}, err
	}

	prev := snippet.ModifiedAt
	if existing, ok := snippets.Get(snippet.ID); ok {
		prev = max(prev, existing.ModifiedAt)
		if snippet.CreatedAt == 0 {
			snippet.CreatedAt = existing.CreatedAt
		}
	}
	lastOpened := s.lastOpenedLocked()
	if lastOpened != nil && lastOpened.ID == snippet.ID {
		prev = max(prev, lastOpened.ModifiedAt)
	}
	snippet.ModifiedAt = s.nextModified(prev)
	if snippet.CreatedAt == 0 {
		snippet.CreatedAt = snippet.ModifiedAt
	}

	if _, err := snippets.Insert(ctx, snippet.ID, snippet); err != nil {
		return model.Snippet{}, err
	}
	if lastOpened != nil && lastOpened.ID == snippet.ID {
		if err := s.setLastOpenedLocked(ctx, &snippet); err != nil {
			return model.Snippet{}, err
		}
	}
	s.logger.DebugContext(ctx, "Snippet saved.", "snippet", snippet.ID, "modifiedAt", snippet.ModifiedAt)
	return snippet, nil
}

// Get returns a stored snippet.
func (s *Service) Get(ctx context.Context, host, id string) (model.Snippet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snippets, err := s.loadLocked(ctx, host)
	if err != nil {
		return model.Snippet{}, err
	}
	snippet, ok := snippets.Get(id)
	if !ok {
		return model.Snippet{}, fault.Newf(fault.NotFound, "snippet %q does not exist", id)
	}
	return snippet, nil
}

// Resolve looks id up in the snippets container first and then in the
// settings' last-opened snippet, which may be unsaved.
func (s *Service) Resolve(ctx context.Context, host, id string) (model.Snippet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snippets, err := s.loadLocked(ctx, host)
	if err != nil {
		return model.Snippet{}, err
	}
	if snippet, ok := snippets.Get(id); ok {
		return snippet, nil
	}
	if lo := s.lastOpenedLocked(); lo != nil && lo.ID == id && model.NormalizeHost(lo.Host) == model.NormalizeHost(host) {
		return *lo.Clone(), nil
	}
	return model.Snippet{}, fault.Newf(fault.NotFound, "snippet %q does not exist", id)
}

// List returns summaries of a host's snippets, most recently modified first.
func (s *Service) List(ctx context.Context, host string) ([]model.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snippets, err := s.loadLocked(ctx, host)
	if err != nil {
		return nil, err
	}
	values := snippets.Values()
	out := make([]model.Summary, 0, len(values))
	for i := range values {
		out = append(out, values[i].Summarize())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ModifiedAt > out[j].ModifiedAt })
	return out, nil
}

// Open promotes a stored snippet to last opened.
func (s *Service) Open(ctx context.Context, host, id string) (model.Snippet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snippets, err := s.loadLocked(ctx, host)
	if err != nil {
		return model.Snippet{}, err
	}
	snippet, ok := snippets.Get(id)
	if !ok {
		return model.Snippet{}, fault.Newf(fault.NotFound, "snippet %q does not exist", id)
	}
	if err := s.setLastOpenedLocked(ctx, &snippet); err != nil {
		return model.Snippet{}, err
	}
	return snippet, nil
}

// OpenUnsaved makes snippet the last-opened one without storing it in the
// snippets container. Its modifiedAt is advanced like a save.
func (s *Service) OpenUnsaved(ctx context.Context, snippet model.Snippet) (model.Snippet, error) {
	h, err := validHost(snippet.Host)
	if err != nil {
		return model.Snippet{}, err
	}
	snippet.Host = h
	if snippet.ID == "" {
		snippet.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.loadLocked(ctx, h); err != nil {
		return model.Snippet{}, err
	}
	prev := snippet.ModifiedAt
	if lo := s.lastOpenedLocked(); lo != nil && lo.ID == snippet.ID {
		prev = max(prev, lo.ModifiedAt)
	}
	snippet.ModifiedAt = s.nextModified(prev)
	if snippet.CreatedAt == 0 {
		snippet.CreatedAt = snippet.ModifiedAt
	}
	if err := s.setLastOpenedLocked(ctx, &snippet); err != nil {
		return model.Snippet{}, err
	}
	return snippet, nil
}

// Delete removes a snippet and clears last opened when it pointed at it.
func (s *Service) Delete(ctx context.Context, host, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snippets, err := s.loadLocked(ctx, host)
	if err != nil {
		return err
	}
	if _, err := snippets.Remove(ctx, id); err != nil {
		return err
	}
	if lo := s.lastOpenedLocked(); lo != nil && lo.ID == id {
		if err := s.setLastOpenedLocked(ctx, nil); err != nil {
			return err
		}
	}
	s.logger.InfoContext(ctx, "Snippet deleted.", "snippet", id, "host", model.NormalizeHost(host))
	return nil
}

// LastOpened returns the last-opened snippet, if any.
func (s *Service) LastOpened(ctx context.Context) (*model.Snippet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.settings.Load(ctx); err != nil {
		return nil, err
	}
	return s.lastOpenedLocked().Clone(), nil
}

// RequestRefresh asks the runner behind target to jump to id.
func (s *Service) RequestRefresh(target messenger.Window, id string) error {
	if s.messenger == nil {
		return fmt.Errorf("editor: no messenger configured")
	}
	return s.messenger.Send(target, messenger.RefreshRequest{ID: id})
}

func (s *Service) lastOpenedLocked() *model.Snippet {
	settings, _ := s.settings.Get(model.SettingsKey)
	return settings.LastOpened
}

func (s *Service) setLastOpenedLocked(ctx context.Context, snippet *model.Snippet) error {
	settings, _ := s.settings.Get(model.SettingsKey)
	settings.LastOpened = snippet.Clone()
	_, err := s.settings.Insert(ctx, model.SettingsKey, settings)
	return err
}
