// Package render turns compiled template contexts into HTML documents.
package render

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"slices"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/vk/snippetrunner/internal/compiler"
	"github.com/vk/snippetrunner/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// ErrIncomplete is returned when a context lacks a field the runner page
// cannot work without.
var ErrIncomplete = errors.New("render: incomplete context")

// Renderer holds the parsed templates. It is safe for concurrent use.
type Renderer struct {
	inner  *template.Template
	runner *template.Template
	errors *template.Template
	policy *bluemonday.Policy
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	parse := func(name string) (*template.Template, error) {
		t, err := template.New(name).Option("missingkey=error").ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("render: parse %s: %w", name, err)
		}
		return t, nil
	}

	r := &Renderer{policy: bluemonday.UGCPolicy()}
	var err error
	if r.inner, err = parse("inner.html.tmpl"); err != nil {
		return nil, err
	}
	if r.runner, err = parse("runner.html.tmpl"); err != nil {
		return nil, err
	}
	if r.errors, err = parse("error.html.tmpl"); err != nil {
		return nil, err
	}
	return r, nil
}

// MustNew is New for package-level initialization.
func MustNew() *Renderer {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

type innerData struct {
	Title    string
	Script   template.JS
	Template template.HTML
	Style    template.CSS
	Scripts  []string
	Links    []string
}

// RenderInner renders the sandboxed snippet page. Template, style and script
// are the author's own code and are emitted verbatim.
func (r *Renderer) RenderInner(doc compiler.InnerDocument) (string, error) {
	var buf bytes.Buffer
	err := r.inner.Execute(&buf, innerData{
		Title:    doc.Title,
		Script:   template.JS(doc.Script),
		Template: template.HTML(doc.Template),
		Style:    template.CSS(doc.Style),
		Scripts:  doc.Scripts,
		Links:    doc.Links,
	})
	if err != nil {
		return "", fmt.Errorf("render: inner document: %w", err)
	}
	return buf.String(), nil
}

type runnerData struct {
	SnippetID       string
	SnippetName     string
	SnippetAuthor   string
	Description     template.HTML
	ModifiedAt      int64
	InnerContent    string
	Host            string
	ReturnURL       string
	RefreshURL      string
	RunnerURL       string
	HostRuntime     string
	IsHostSnippet   bool
	ReservePadding  bool
	CustomFunctions []model.FunctionMetadata
}

// RenderRunner renders the outer runner page for ctx. The description is
// treated as user content and sanitized.
func (r *Renderer) RenderRunner(ctx *compiler.Context) ([]byte, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: nil context", ErrIncomplete)
	}
	var missing []string
	for name, v := range map[string]string{
		"snippetId":    ctx.SnippetID,
		"innerContent": ctx.InnerContent,
		"runnerUrl":    ctx.RunnerURL,
		"refreshUrl":   ctx.RefreshURL,
		"returnUrl":    ctx.ReturnURL,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(missing, ", "))
	}

	funcs := ctx.CustomFunctions
	if funcs == nil {
		funcs = []model.FunctionMetadata{}
	}
	data := runnerData{
		SnippetID:       ctx.SnippetID,
		SnippetName:     ctx.SnippetName,
		SnippetAuthor:   ctx.SnippetAuthor,
		Description:     template.HTML(r.policy.Sanitize(ctx.Description)),
		ModifiedAt:      ctx.ModifiedAt,
		InnerContent:    ctx.InnerContent,
		Host:            ctx.Host,
		ReturnURL:       ctx.ReturnURL,
		RefreshURL:      ctx.RefreshURL,
		RunnerURL:       ctx.RunnerURL,
		HostRuntime:     ctx.HostRuntime,
		IsHostSnippet:   ctx.IsHostSnippet,
		ReservePadding:  ctx.ReservePadding,
		CustomFunctions: funcs,
	}

	var buf bytes.Buffer
	if err := r.runner.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render: runner document: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderError renders a user-facing failure page.
func (r *Renderer) RenderError(title, message, returnURL string) ([]byte, error) {
	var buf bytes.Buffer
	err := r.errors.Execute(&buf, struct {
		Title, Message, ReturnURL string
	}{title, message, returnURL})
	if err != nil {
		return nil, fmt.Errorf("render: error page: %w", err)
	}
	return buf.Bytes(), nil
}
