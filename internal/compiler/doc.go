// Package compiler turns a resolved snippet into the template context used to
// render its runner document.
//
// Compilation is pure, in-memory text processing: library references are
// resolved, custom functions are extracted from the script, the inner snippet
// document is rendered, and the refresh URL is synthesized from the post-data
// of the initiating request.
package compiler
