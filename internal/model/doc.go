// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// Package model defines the records shared by the editor and runner contexts:
// the Snippet itself, the global Settings record that carries the "last opened"
// snippet, and the custom-function metadata extracted from a snippet's script.
//
// # Ownership
//
// Snippets are owned by the editor context. Every persisted mutation must bump
// ModifiedAt strictly, because ModifiedAt is the only value the runner context
// uses to decide whether what it rendered is stale. The runner only ever holds
// read-only copies obtained by re-loading a keyed store.
//
// # Containers
//
// Records are persisted in named containers. Snippets live in one container
// per host (see SnippetsContainer); settings live in a single global container
// (see SettingsContainer) under SettingsKey.
package model
