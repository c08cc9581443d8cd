// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the metadata emitted for snippet-defined custom functions.
//
// Why keep broken functions?
//
// An annotated function whose declaration cannot be registered is still
// reported, with Status set to Error and Reason explaining why. This lets the
// authoring surface show "intended but broken" functions instead of silently
// dropping them.
package model

// ValueType is a primitive value type a custom function can accept or return.
type ValueType string

const (
	TypeNumber  ValueType = "number"
	TypeString  ValueType = "string"
	TypeBoolean ValueType = "boolean"
	TypeInvalid ValueType = "invalid"
)

// Dimensionality distinguishes single values from two-dimensional ranges.
type Dimensionality string

const (
	Scalar Dimensionality = "scalar"
	Matrix Dimensionality = "matrix"
)

// FunctionStatus is the registration status assigned during extraction.
type FunctionStatus string

const (
	StatusGood      FunctionStatus = "good"
	StatusSkipped   FunctionStatus = "skipped"
	StatusError     FunctionStatus = "error"
	StatusUntrusted FunctionStatus = "untrusted"
)

// ParameterMetadata describes one declared parameter.
type ParameterMetadata struct {
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Type           ValueType      `json:"type"`
	Dimensionality Dimensionality `json:"dimensionality"`
}

// ResultMetadata describes the declared result.
type ResultMetadata struct {
	Type           ValueType      `json:"type"`
	Dimensionality Dimensionality `json:"dimensionality"`
}

// FunctionOptions mirrors the host registration options.
type FunctionOptions struct {
	Sync       bool `json:"sync"`
	Stream     bool `json:"stream"`
	Volatile   bool `json:"volatile"`
	Cancelable bool `json:"cancelable"`
}

// FunctionMetadata is the extracted description of one annotated function.
type FunctionMetadata struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Parameters  []ParameterMetadata `json:"parameters"`
	Result      ResultMetadata      `json:"result"`
	Options     FunctionOptions     `json:"options"`
	Status      FunctionStatus      `json:"status"`
	// Reason is a human-readable explanation for any status other than Good.
	Reason string `json:"reason,omitempty"`
}

// Clone returns a copy of f that shares no slices with it.
func (f FunctionMetadata) Clone() FunctionMetadata {
	out := f
	out.Parameters = append([]ParameterMetadata(nil), f.Parameters...)
	return out
}
