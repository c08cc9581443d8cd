// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the global settings record and the container names
// shared by the editor and the runner.
package model

import "fmt"

const (
	// SettingsContainer is the global container holding the Settings record.
	SettingsContainer = "playground.settings"
	// SettingsKey is the key of the Settings record inside SettingsContainer.
	SettingsKey = "settings"
)

// SnippetsContainer returns the name of the container holding the saved
// snippets of host.
func SnippetsContainer(host string) string {
	return fmt.Sprintf("playground.snippets.%s", NormalizeHost(host))
}

// Settings is the editor's global, persisted state.
type Settings struct {
	// LastOpened is the snippet most recently opened in the editor. It may be
	// an unsaved snippet that does not exist in the snippets container.
	LastOpened  *Snippet `json:"lastOpened,omitempty"`
	Environment string   `json:"env,omitempty"`
}

// LastOpenedFor returns the last opened snippet when it belongs to host.
func (s Settings) LastOpenedFor(host string) *Snippet {
	if s.LastOpened == nil {
		return nil
	}
	if host != "" && NormalizeHost(s.LastOpened.Host) != NormalizeHost(host) {
		return nil
	}
	return s.LastOpened
}
