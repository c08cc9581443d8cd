package config

import "context"

// Loader reads configuration from a file and returns a validated Model.
type Loader interface {
	Load(ctx context.Context, path string) (*Model, error)
}
