package customfunctions

import (
	"encoding/json"
	"strings"

	"github.com/vk/snippetrunner/internal/model"
)

// RegisteredParameter is one parameter in the host registration payload.
type RegisteredParameter struct {
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Type           string `json:"type"`
	Dimensionality string `json:"dimensionality"`
}

// RegisteredResult is the result shape in the host registration payload.
type RegisteredResult struct {
	Type           string `json:"type"`
	Dimensionality string `json:"dimensionality"`
}

// RegisteredFunction is one entry of the host registration payload.
type RegisteredFunction struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Parameters  []RegisteredParameter `json:"parameters"`
	Result      RegisteredResult      `json:"result"`
	Options     model.FunctionOptions `json:"options"`
}

// Manifest is the payload handed to the host's function registration call.
type Manifest struct {
	Functions []RegisteredFunction `json:"functions"`
}

// JSON encodes the manifest.
func (m Manifest) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// Registration builds the registration payload from extracted metadata. Only
// functions with a Good status are included; ids and names are upper-cased
// the way the host expects them.
func Registration(funcs []model.FunctionMetadata) Manifest {
	m := Manifest{Functions: []RegisteredFunction{}}
	for _, fn := range funcs {
		if fn.Status != model.StatusGood {
			continue
		}
		rf := RegisteredFunction{
			ID:          strings.ToUpper(fn.Name),
			Name:        strings.ToUpper(fn.Name),
			Description: fn.Description,
			Parameters:  make([]RegisteredParameter, 0, len(fn.Parameters)),
			Result: RegisteredResult{
				Type:           string(fn.Result.Type),
				Dimensionality: string(fn.Result.Dimensionality),
			},
			Options: fn.Options,
		}
		for _, p := range fn.Parameters {
			rf.Parameters = append(rf.Parameters, RegisteredParameter{
				Name:           p.Name,
				Description:    p.Description,
				Type:           string(p.Type),
				Dimensionality: string(p.Dimensionality),
			})
		}
		m.Functions = append(m.Functions, rf)
	}
	return m
}
