// Package hcl loads the runner configuration from HCL files into the
// format-agnostic config.Model.
//
// # Why This Package Exists
//
// The config package knows nothing about file formats. This package owns
// parsing, schema decoding and the translation of raw attribute strings
// (durations, environment references) into typed model values.
//
// # How It Works
//
// A file is parsed with hclparse and decoded with gohcl into the private
// schema structs in schema.go. Expressions are evaluated against an
// EvalContext exposing the process environment as the env object:
//
//	store {
//	  driver = "redis"
//	  dsn    = env.REDIS_URL
//	}
//
// translate.go then converts the schema into a config.Model, applies the
// defaults and validates the result.
package hcl
