package hcl

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/snippetrunner/internal/config"
	"github.com/vk/snippetrunner/internal/ctxlog"
)

// DSNEnv supplies store.dsn when the file leaves it empty.
const DSNEnv = "SNIPPETRUNNER_STORE_DSN"

// Loader is the HCL implementation of config.Loader.
type Loader struct {
	environ func() []string
}

var _ config.Loader = (*Loader)(nil)

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithEnviron replaces os.Environ as the source of the env object and of the
// DSN fallback.
func WithEnviron(environ func() []string) LoaderOption {
	return func(l *Loader) { l.environ = environ }
}

// NewLoader creates a new HCL configuration loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{environ: os.Environ}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the file at path. An empty path yields the defaults.
func (l *Loader) Load(ctx context.Context, path string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	if path == "" {
		logger.Debug("No configuration file given, using defaults.")
		return l.Parse(ctx, "defaults.hcl", nil)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return l.Parse(ctx, path, src)
}

// Parse decodes src, which is reported as filename in diagnostics.
func (l *Loader) Parse(ctx context.Context, filename string, src []byte) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "file", filename, "bytes", len(src))

	env := l.env()
	var root fileRoot
	if len(src) > 0 {
		file, diags := hclparse.NewParser().ParseHCL(src, filename)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
		}
		diags = gohcl.DecodeBody(file.Body, evalContext(env), &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
		}
	}

	model, err := translate(&root)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filename, err)
	}
	if model.Store.DSN == "" {
		if dsn, ok := env[DSNEnv]; ok && dsn != "" {
			logger.Debug("Using store DSN from the environment.", "variable", DSNEnv)
			model.Store.DSN = dsn
		}
	}
	model.Defaults()
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filename, err)
	}

	logger.Debug("HCL loading complete.", "store", model.Store.Driver, "relay", model.Relay != nil)
	return model, nil
}

func (l *Loader) env() map[string]string {
	env := make(map[string]string)
	for _, kv := range l.environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = v
		}
	}
	return env
}

func evalContext(env map[string]string) *hcl.EvalContext {
	vals := make(map[string]cty.Value, len(env))
	for k, v := range env {
		vals[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(vals)},
	}
}
