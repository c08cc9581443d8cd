package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vk/snippetrunner/internal/customfunctions"
	"github.com/vk/snippetrunner/internal/fault"
	"github.com/vk/snippetrunner/internal/library"
	"github.com/vk/snippetrunner/internal/model"
)

// ErrMissingContent is returned when the snippet or its script is absent.
var ErrMissingContent = fault.New(fault.Malformed, "the snippet has no script content to run")

// HostWeb is the host tag of snippets that do not integrate with a host.
const HostWeb = "WEB"

// ScriptCompiler transpiles script source to what the runner executes.
type ScriptCompiler interface {
	CompileScript(code model.Code) (string, error)
}

// Passthrough returns script content unchanged.
type Passthrough struct{}

func (Passthrough) CompileScript(code model.Code) (string, error) { return code.Content, nil }

// InnerDocument is everything needed to render the sandboxed snippet page.
type InnerDocument struct {
	Title    string
	Script   string
	Template string
	Style    string
	Scripts  []string
	Links    []string
}

// InnerRenderer renders the sandboxed snippet page.
type InnerRenderer interface {
	RenderInner(doc InnerDocument) (string, error)
}

// Context is the template context of a runner document.
type Context struct {
	SnippetID     string `json:"snippetId"`
	SnippetName   string `json:"snippetName"`
	SnippetAuthor string `json:"snippetAuthor,omitempty"`
	Description   string `json:"description,omitempty"`
	ModifiedAt    int64  `json:"modifiedAt"`

	// InnerContent is the rendered sandbox document.
	InnerContent string `json:"innerContent"`
	// Host is the lower-cased host tag.
	Host string `json:"host"`

	ReturnURL  string `json:"returnUrl"`
	RefreshURL string `json:"refreshUrl"`
	RunnerURL  string `json:"runnerUrl"`

	// HostRuntime is empty when the snippet declares no host dependency.
	HostRuntime   string `json:"hostRuntime,omitempty"`
	IsHostSnippet bool   `json:"isHostSnippet"`
	// ReservePadding asks the layout to leave room for a host-drawn scrollbar.
	ReservePadding bool `json:"reservePadding"`

	CustomFunctions    []model.FunctionMetadata `json:"customFunctions,omitempty"`
	LibraryDiagnostics []library.Diagnostic     `json:"libraryDiagnostics,omitempty"`
}

// Options tunes a Compiler.
type Options struct {
	Resolver *library.Resolver
	Script   ScriptCompiler
	Inner    InnerRenderer
	// Trusted is passed to custom-function extraction.
	Trusted bool
	Logger  *slog.Logger
}

// Compiler builds runner template contexts.
type Compiler struct {
	resolver *library.Resolver
	script   ScriptCompiler
	inner    InnerRenderer
	trusted  bool
	logger   *slog.Logger
}

// New returns a Compiler. Inner is required; other options have defaults.
func New(opts Options) (*Compiler, error) {
	if opts.Inner == nil {
		return nil, fmt.Errorf("compiler: an inner renderer is required")
	}
	c := &Compiler{
		resolver: opts.Resolver,
		script:   opts.Script,
		inner:    opts.Inner,
		trusted:  opts.Trusted,
		logger:   opts.Logger,
	}
	if c.resolver == nil {
		c.resolver = library.Default()
	}
	if c.script == nil {
		c.script = Passthrough{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "compiler")
	return c, nil
}

// Compile produces the template context for snippet. It fails with
// ErrMissingContent when the snippet or its script content is missing; all
// other per-line and per-function problems are reported inside the context.
func (c *Compiler) Compile(ctx context.Context, snippet *model.Snippet, post PostData) (*Context, error) {
	if snippet == nil || strings.TrimSpace(snippet.Script.Content) == "" {
		return nil, ErrMissingContent
	}

	refs := c.resolver.Resolve(snippet.Library)
	for _, d := range refs.Diagnostics {
		c.logger.DebugContext(ctx, "library line dropped", "snippet", snippet.ID, "line", d.Line, "reason", d.Reason)
	}

	script, err := c.script.CompileScript(snippet.Script)
	if err != nil {
		return nil, fault.Wrap(fault.Malformed, err, "the snippet script could not be compiled")
	}

	var funcs []model.FunctionMetadata
	if customfunctions.HasMarker(snippet.Script.Content) {
		funcs = customfunctions.Extract(snippet.Script.Content, customfunctions.Options{Trusted: c.trusted})
	}

	inner, err := c.inner.RenderInner(InnerDocument{
		Title:    snippet.Name,
		Script:   script,
		Template: snippet.Template.Content,
		Style:    snippet.Style.Content,
		Scripts:  refs.Scripts,
		Links:    refs.Links,
	})
	if err != nil {
		return nil, fmt.Errorf("render inner document for %s: %w", snippet.ID, err)
	}

	host := model.NormalizeHost(snippet.Host)
	if host == "" {
		host = model.NormalizeHost(post.Host())
	}
	isHost := host != HostWeb

	out := &Context{
		SnippetID:          snippet.ID,
		SnippetName:        snippet.Name,
		SnippetAuthor:      snippet.Author,
		Description:        snippet.Description,
		ModifiedAt:         snippet.ModifiedAt,
		InnerContent:       inner,
		Host:               strings.ToLower(host),
		ReturnURL:          post.ReturnURL(),
		RefreshURL:         post.RefreshURL(),
		RunnerURL:          post.RunnerURL(),
		IsHostSnippet:      isHost,
		ReservePadding:     post.Platform().ReservesScrollbarPadding(),
		CustomFunctions:    funcs,
		LibraryDiagnostics: refs.Diagnostics,
	}
	if isHost {
		out.HostRuntime = refs.HostRuntime
	}

	c.logger.DebugContext(ctx, "snippet compiled",
		"snippet", snippet.ID,
		"scripts", len(refs.Scripts),
		"links", len(refs.Links),
		"functions", len(funcs),
	)
	return out, nil
}
