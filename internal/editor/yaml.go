package editor

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/vk/snippetrunner/internal/fault"
	"github.com/vk/snippetrunner/internal/model"
)

// Export returns a stored snippet as YAML.
func (s *Service) Export(ctx context.Context, host, id string) ([]byte, error) {
	snippet, err := s.Resolve(ctx, host, id)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(snippet); err != nil {
		return nil, fmt.Errorf("encode snippet %s: %w", id, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode snippet %s: %w", id, err)
	}
	return buf.Bytes(), nil
}

// Import stores a snippet read from YAML under host. A missing id, or one
// that is already taken, gets a fresh id.
func (s *Service) Import(ctx context.Context, host string, data []byte) (model.Snippet, error) {
	var snippet model.Snippet
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&snippet); err != nil {
		return model.Snippet{}, fault.Wrap(fault.Malformed, err, "the snippet YAML could not be read")
	}
	if strings.TrimSpace(snippet.Name) == "" {
		return model.Snippet{}, fault.New(fault.Malformed, "the imported snippet has no name")
	}
	snippet.Host = host
	if snippet.ID == "" {
		snippet.ID = uuid.NewString()
	} else if _, err := s.Get(ctx, host, snippet.ID); err == nil {
		snippet.ID = uuid.NewString()
	} else if !fault.Is(err, fault.NotFound) {
		return model.Snippet{}, err
	}
	snippet.CreatedAt = 0
	snippet.ModifiedAt = 0
	return s.Save(ctx, snippet)
}
