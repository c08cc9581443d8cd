package library

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// DefaultCDN is the template used to turn a bare package specifier into a URL.
const DefaultCDN = "https://unpkg.com/${name}"

// URLTemplate expands a package specifier into a CDN URL. The source uses HCL
// template syntax with a single variable, name:
//
//	https://cdn.jsdelivr.net/npm/${name}
type URLTemplate struct {
	source string
	expr   hclsyntax.Expression
}

// ParseTemplate parses src. Every variable other than name is rejected up
// front so expansion can never fail on an unknown reference.
func ParseTemplate(src string) (*URLTemplate, error) {
	expr, diags := hclsyntax.ParseTemplate([]byte(src), "cdn", hcl.Pos{Line: 1, Column: 1, Byte: 0})
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid CDN template %q: %w", src, diags)
	}
	for _, traversal := range expr.Variables() {
		if root := traversal.RootName(); root != "name" {
			return nil, fmt.Errorf("invalid CDN template %q: unknown variable %q", src, root)
		}
	}
	return &URLTemplate{source: src, expr: expr}, nil
}

// MustParseTemplate is ParseTemplate that panics on error.
func MustParseTemplate(src string) *URLTemplate {
	t, err := ParseTemplate(src)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the template source.
func (t *URLTemplate) String() string { return t.source }

// Expand renders the template for one package specifier.
func (t *URLTemplate) Expand(name string) (string, error) {
	ctx := &hcl.EvalContext{
		Variables: map[string]cty.Value{"name": cty.StringVal(name)},
	}
	val, diags := t.expr.Value(ctx)
	if diags.HasErrors() {
		return "", fmt.Errorf("expand CDN template for %q: %w", name, diags)
	}
	if val.IsNull() || !val.Type().Equals(cty.String) {
		return "", fmt.Errorf("CDN template %q did not produce a string", t.source)
	}
	return val.AsString(), nil
}
