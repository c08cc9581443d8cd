// Package library turns a snippet's free-text library list into categorized
// script and stylesheet references.
//
// Resolution depends on the text alone: the same input always yields
// byte-identical output, with references in first-seen order.
package library

import (
	"path"
	"regexp"
	"strings"

	"github.com/vk/snippetrunner/internal/fault"
)

// HostRuntime describes the script that must be loaded by the outer page
// rather than inside the execution sandbox.
type HostRuntime struct {
	// ScriptNames are the file names that identify the runtime, compared
	// case-insensitively.
	ScriptNames []string
	// URL is used when the runtime is referenced by bare name.
	URL string
}

// DefaultHostRuntime is the Office JavaScript runtime.
var DefaultHostRuntime = HostRuntime{
	ScriptNames: []string{"office.js", "office.debug.js"},
	URL:         "https://appsforoffice.microsoft.com/lib/1/hosted/office.js",
}

// References is the resolver output.
type References struct {
	Scripts     []string `json:"scriptReferences"`
	Links       []string `json:"linkReferences"`
	HostRuntime string   `json:"hostRuntimeReference,omitempty"`
	// Diagnostics lists lines that were dropped because they could not be
	// resolved. Their siblings are unaffected.
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// Diagnostic is attached to a single source line.
type Diagnostic struct {
	Line   int    `json:"line"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// Resolver resolves library text.
type Resolver struct {
	cdn     *URLTemplate
	runtime HostRuntime
}

// NewResolver returns a Resolver. A nil cdn uses DefaultCDN.
func NewResolver(cdn *URLTemplate, runtime HostRuntime) *Resolver {
	if cdn == nil {
		cdn = MustParseTemplate(DefaultCDN)
	}
	return &Resolver{cdn: cdn, runtime: runtime}
}

// Default returns a Resolver using unpkg and the Office runtime.
func Default() *Resolver {
	return NewResolver(nil, DefaultHostRuntime)
}

var (
	commentLine = regexp.MustCompile(`^(#|//|/\*)|\*/$`)
	typesOnly   = regexp.MustCompile(`(?i)^@types/|^dt~|\.d\.ts$`)
	absoluteURL = regexp.MustCompile(`(?i)^https?://`)
	// packageSpec accepts npm specifiers such as jquery, jquery@3.1.1,
	// @scope/pkg@1/dist/file.min.js.
	packageSpec = regexp.MustCompile(`^(@[a-z0-9][\w.-]*/)?[a-z0-9][\w.-]*(@[\w.^~<>=*-]+)?(/[\w.@~+-]+)*/?$`)
)

// Resolve classifies every non-blank line of text.
func (r *Resolver) Resolve(text string) References {
	refs := References{Scripts: []string{}, Links: []string{}}
	seen := make(map[string]struct{})
	inBlock := false

	for i, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if inBlock {
			inBlock = !strings.Contains(line, "*/")
			continue
		}
		if strings.HasPrefix(line, "/*") && !strings.Contains(line[2:], "*/") {
			inBlock = true
			continue
		}
		if line == "" || commentLine.MatchString(line) || typesOnly.MatchString(line) {
			continue
		}

		resolved, err := r.resolveLine(line)
		if err != nil {
			refs.Diagnostics = append(refs.Diagnostics, Diagnostic{
				Line:   i + 1,
				Text:   line,
				Reason: fault.UserMessage(err, "unresolvable library reference"),
				Err:    err,
			})
			continue
		}

		lower := strings.ToLower(resolved)
		if r.isHostRuntime(lower) {
			if refs.HostRuntime == "" {
				refs.HostRuntime = resolved
			}
			continue
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}

		if strings.HasSuffix(stripQuery(lower), ".css") {
			refs.Links = append(refs.Links, resolved)
		} else {
			refs.Scripts = append(refs.Scripts, resolved)
		}
	}
	return refs
}

func (r *Resolver) resolveLine(line string) (string, error) {
	if absoluteURL.MatchString(line) {
		if strings.ContainsAny(line, " \t") {
			return "", fault.Newf(fault.Malformed, "library URL %q contains whitespace", line)
		}
		return line, nil
	}
	if r.isHostRuntime(strings.ToLower(line)) && !strings.Contains(line, "/") && r.runtime.URL != "" {
		return r.runtime.URL, nil
	}
	if !packageSpec.MatchString(strings.ToLower(line)) {
		return "", fault.Newf(fault.Malformed, "%q is neither a URL nor a package name", line)
	}
	url, err := r.cdn.Expand(line)
	if err != nil {
		return "", fault.Wrap(fault.Malformed, err, "could not build a URL for "+line)
	}
	return url, nil
}

func (r *Resolver) isHostRuntime(lowerURL string) bool {
	base := path.Base(stripQuery(lowerURL))
	for _, name := range r.runtime.ScriptNames {
		if base == strings.ToLower(name) {
			return true
		}
	}
	return false
}

func stripQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}
