// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the Snippet record, the unit of editing, execution and
// synchronization.
package model

import (
	"fmt"
	"strings"
)

// Code is one editable body of a snippet together with its language tag.
type Code struct {
	Content  string `json:"content" yaml:"content"`
	Language string `json:"language" yaml:"language"`
}

// Snippet is a user-authored unit of script, markup and style plus metadata.
// Identity is ID; ModifiedAt (milliseconds since the Unix epoch) is the sole
// staleness discriminator.
type Snippet struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Author      string `json:"author,omitempty" yaml:"author,omitempty"`
	Host        string `json:"host" yaml:"host"`
	CreatedAt   int64  `json:"createdAt" yaml:"createdAt"`
	ModifiedAt  int64  `json:"modifiedAt" yaml:"modifiedAt"`

	Script   Code   `json:"script" yaml:"script"`
	Template Code   `json:"template" yaml:"template"`
	Style    Code   `json:"style" yaml:"style"`
	Library  string `json:"libraries" yaml:"libraries"`

	CustomFunctions []FunctionMetadata `json:"customFunctions,omitempty" yaml:"-"`
}

// Summary is the identifying subset of a snippet that travels in messages.
type Summary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Host       string `json:"host"`
	ModifiedAt int64  `json:"modifiedAt"`
}

// Summarize returns the identifying subset of s.
func (s *Snippet) Summarize() Summary {
	return Summary{ID: s.ID, Name: s.Name, Host: s.Host, ModifiedAt: s.ModifiedAt}
}

// Clone returns a deep copy of s so that callers can mutate it freely.
func (s *Snippet) Clone() *Snippet {
	if s == nil {
		return nil
	}
	out := *s
	if s.CustomFunctions != nil {
		out.CustomFunctions = make([]FunctionMetadata, len(s.CustomFunctions))
		for i, fn := range s.CustomFunctions {
			out.CustomFunctions[i] = fn.Clone()
		}
	}
	return &out
}

// String implements fmt.Stringer for log output.
func (s *Snippet) String() string {
	if s == nil {
		return "<nil snippet>"
	}
	return fmt.Sprintf("%s (%q, host=%s, modifiedAt=%d)", s.ID, s.Name, s.Host, s.ModifiedAt)
}

// NormalizeHost returns the canonical spelling of a host tag used for
// container names and template contexts.
func NormalizeHost(host string) string {
	return strings.ToUpper(strings.TrimSpace(host))
}
